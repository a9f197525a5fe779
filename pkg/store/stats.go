package store

import (
	"context"
	"fmt"
)

// GetStats computes totals by conversation status, an action-kind
// histogram, and a violation-kind histogram derived from intervention and
// error actions' metadata (the "rule" field), per spec §4.2.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		TotalsByStatus:         map[Status]int{},
		ActionKindHistogram:    map[ActionKind]int{},
		ViolationKindHistogram: map[string]int{},
	}

	statusRows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM conversations GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("querying status totals: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status string
		var count int
		if err := statusRows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scanning status total: %w", err)
		}
		stats.TotalsByStatus[Status(status)] = count
	}
	if err := statusRows.Err(); err != nil {
		return stats, err
	}

	kindRows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM actions GROUP BY kind`)
	if err != nil {
		return stats, fmt.Errorf("querying action kind histogram: %w", err)
	}
	defer kindRows.Close()
	for kindRows.Next() {
		var kind string
		var count int
		if err := kindRows.Scan(&kind, &count); err != nil {
			return stats, fmt.Errorf("scanning action kind total: %w", err)
		}
		stats.ActionKindHistogram[ActionKind(kind)] = count
	}
	if err := kindRows.Err(); err != nil {
		return stats, err
	}

	violationRows, err := s.db.QueryContext(ctx, `
		SELECT json_extract(metadata, '$.rule'), COUNT(*)
		FROM actions
		WHERE kind IN ('intervention', 'error') AND json_extract(metadata, '$.rule') IS NOT NULL
		GROUP BY json_extract(metadata, '$.rule')
	`)
	if err != nil {
		return stats, fmt.Errorf("querying violation histogram: %w", err)
	}
	defer violationRows.Close()
	for violationRows.Next() {
		var rule string
		var count int
		if err := violationRows.Scan(&rule, &count); err != nil {
			return stats, fmt.Errorf("scanning violation total: %w", err)
		}
		stats.ViolationKindHistogram[rule] = count
	}
	return stats, violationRows.Err()
}
