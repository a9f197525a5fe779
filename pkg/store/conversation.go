package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateConversation inserts a new conversation row. Idempotent on ID: a
// duplicate ID is a conflict error rather than a silent no-op, since a
// re-created conversation would violate the depth/parent invariants.
func (s *Store) CreateConversation(ctx context.Context, c Conversation) error {
	metaJSON, err := marshalMetadata(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling conversation metadata: %w", err)
	}

	var parentID any
	if c.ParentID != "" {
		parentID = c.ParentID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, parent_id, started_at, status, depth, prompt, task_type, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, parentID, formatTime(c.StartedAt), string(c.Status), c.Depth, c.Prompt, c.TaskType, metaJSON)
	if err != nil {
		return fmt.Errorf("inserting conversation %s: %w", c.ID, err)
	}
	return nil
}

// UpdateConversation applies a partial update (status and/or metadata) to an
// existing conversation.
func (s *Store) UpdateConversation(ctx context.Context, id string, u ConversationUpdate) error {
	if u.Status == nil && u.Metadata == nil {
		return nil
	}

	if u.Status != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET status = ? WHERE id = ?`, string(*u.Status), id); err != nil {
			return fmt.Errorf("updating conversation %s status: %w", id, err)
		}
	}
	if u.Metadata != nil {
		metaJSON, err := marshalMetadata(u.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling conversation metadata: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET metadata = ? WHERE id = ?`, metaJSON, id); err != nil {
			return fmt.Errorf("updating conversation %s metadata: %w", id, err)
		}
	}
	return nil
}

// GetConversation fetches a single conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(parent_id, ''), started_at, status, depth, prompt, task_type, metadata
		FROM conversations WHERE id = ?
	`, id)
	return scanConversation(row)
}

// GetActiveConversations returns all conversations whose status is queued,
// running, or paused.
func (s *Store) GetActiveConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(parent_id, ''), started_at, status, depth, prompt, task_type, metadata
		FROM conversations
		WHERE status IN ('queued', 'running', 'paused')
		ORDER BY depth ASC, started_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying active conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// GetConversationTree returns rootID and all of its descendants in a single
// recursive query, ordered by (depth asc, started_at asc) per spec §4.2.
func (s *Store) GetConversationTree(ctx context.Context, rootID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE tree(id) AS (
			SELECT id FROM conversations WHERE id = ?
			UNION ALL
			SELECT c.id FROM conversations c
			JOIN tree t ON c.parent_id = t.id
		)
		SELECT c.id, COALESCE(c.parent_id, ''), c.started_at, c.status, c.depth, c.prompt, c.task_type, c.metadata
		FROM conversations c
		JOIN tree t ON c.id = t.id
		ORDER BY c.depth ASC, c.started_at ASC
	`, rootID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation tree for %s: %w", rootID, err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

func scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	var startedAt, status, metaJSON string
	if err := row.Scan(&c.ID, &c.ParentID, &startedAt, &status, &c.Depth, &c.Prompt, &c.TaskType, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	c.Status = Status(status)
	t, err := parseTime(startedAt)
	if err != nil {
		return nil, err
	}
	c.StartedAt = t
	meta, err := unmarshalMetadata(metaJSON)
	if err != nil {
		return nil, err
	}
	c.Metadata = meta
	return &c, nil
}

func scanConversations(rows *sql.Rows) ([]Conversation, error) {
	var out []Conversation
	for rows.Next() {
		var c Conversation
		var startedAt, status, metaJSON string
		if err := rows.Scan(&c.ID, &c.ParentID, &startedAt, &status, &c.Depth, &c.Prompt, &c.TaskType, &metaJSON); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		c.Status = Status(status)
		t, err := parseTime(startedAt)
		if err != nil {
			return nil, err
		}
		c.StartedAt = t
		meta, err := unmarshalMetadata(metaJSON)
		if err != nil {
			return nil, err
		}
		c.Metadata = meta
		out = append(out, c)
	}
	return out, rows.Err()
}

func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMetadata(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
