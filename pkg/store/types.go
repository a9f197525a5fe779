// Package store implements the Conversation Store (C2): a relational
// projection of the event ledger backed by a single-writer SQLite database
// in WAL mode, per spec §4.2.
package store

import "time"

// Status is a conversation's lifecycle state, mirroring the owning task's
// status per spec §3.
type Status string

// Conversation statuses.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// ActionKind discriminates the side effect an Action describes.
type ActionKind string

// Action kinds, per spec §3 (the v3/v4/v5 enum superset, with intervention
// as a first-class kind — see SPEC_FULL.md's Open Question resolution).
const (
	ActionFileCreated     ActionKind = "file-created"
	ActionFileModified    ActionKind = "file-modified"
	ActionCommandExecuted ActionKind = "command-executed"
	ActionError           ActionKind = "error"
	ActionOutput          ActionKind = "output"
	ActionTaskStarted     ActionKind = "task-started"
	ActionTaskCompleted   ActionKind = "task-completed"
	ActionCodeBlock       ActionKind = "code-block"
	ActionOutputChunk     ActionKind = "output-chunk"
	ActionIntervention    ActionKind = "intervention"
)

// Conversation is the relational projection of a Task, per spec §3.
type Conversation struct {
	ID        string
	ParentID  string // empty for a root conversation
	StartedAt time.Time
	Status    Status
	Depth     int
	Prompt    string
	TaskType  string
	Metadata  map[string]any
}

// Action is a discriminated event describing an observed side effect.
type Action struct {
	ID             string
	ConversationID string
	Kind           ActionKind
	Timestamp      time.Time
	Content        string
	Metadata       map[string]any
}

// StreamChunk is a raw PTY byte window associated with a conversation.
type StreamChunk struct {
	ID             string
	ConversationID string
	Chunk          string
	Parsed         map[string]any // nil if unparsed
	Timestamp      time.Time
}

// ConversationUpdate carries the mutable subset of a Conversation.
// Nil fields are left unchanged.
type ConversationUpdate struct {
	Status   *Status
	Metadata map[string]any
}

// Stats summarizes store-wide totals, per spec §4.2's getStats.
type Stats struct {
	TotalsByStatus       map[Status]int
	ActionKindHistogram  map[ActionKind]int
	ViolationKindHistogram map[string]int
}
