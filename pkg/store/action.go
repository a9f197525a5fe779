package store

import (
	"context"
	"database/sql"
	"fmt"
)

// LogAction inserts an action row. Timestamps within a conversation must be
// non-decreasing (spec §3); callers are responsible for stamping actions in
// causal order, as the owning worker always does.
func (s *Store) LogAction(ctx context.Context, conversationID string, a Action) error {
	metaJSON, err := marshalMetadata(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling action metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions (id, conversation_id, kind, timestamp, content, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, conversationID, string(a.Kind), formatTime(a.Timestamp), a.Content, metaJSON)
	if err != nil {
		return fmt.Errorf("inserting action %s: %w", a.ID, err)
	}
	return nil
}

// LogStream inserts a stream chunk row.
func (s *Store) LogStream(ctx context.Context, conversationID string, c StreamChunk) error {
	var parsedJSON any
	if c.Parsed != nil {
		b, err := marshalMetadata(c.Parsed)
		if err != nil {
			return fmt.Errorf("marshaling stream chunk parsed payload: %w", err)
		}
		parsedJSON = b
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_chunks (id, conversation_id, chunk, parsed, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, conversationID, c.Chunk, parsedJSON, formatTime(c.Timestamp))
	if err != nil {
		return fmt.Errorf("inserting stream chunk %s: %w", c.ID, err)
	}
	return nil
}

// GetRecentActions returns the most recent actions across all conversations,
// newest first, bounded by limit.
func (s *Store) GetRecentActions(ctx context.Context, limit int) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, kind, timestamp, content, metadata
		FROM actions
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent actions: %w", err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetActions returns all actions for a conversation, oldest first.
func (s *Store) GetActions(ctx context.Context, conversationID string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, kind, timestamp, content, metadata
		FROM actions
		WHERE conversation_id = ?
		ORDER BY timestamp ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying actions for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAction(rows *sql.Rows) (Action, error) {
	var a Action
	var timestamp, kind, metaJSON string
	if err := rows.Scan(&a.ID, &a.ConversationID, &kind, &timestamp, &a.Content, &metaJSON); err != nil {
		return Action{}, fmt.Errorf("scanning action row: %w", err)
	}
	a.Kind = ActionKind(kind)
	t, err := parseTime(timestamp)
	if err != nil {
		return Action{}, err
	}
	a.Timestamp = t
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return Action{}, err
	}
	a.Metadata = meta
	return a, nil
}
