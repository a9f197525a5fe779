// Package ledger implements the Event Ledger (C1): a single append-only,
// millisecond-timestamped log of everything the supervision engine
// observes and does, with synchronous in-process fan-out to subscribers
// and a durable JSONL sink.
package ledger

import "time"

// Kind enumerates the ledger event types a worker can emit.
type Kind string

// Ledger event kinds.
const (
	KindTaskQueued         Kind = "task-queued"
	KindTaskStarted        Kind = "task-started"
	KindTaskCompleted      Kind = "task-completed"
	KindTaskFailed         Kind = "task-failed"
	KindTaskAborted        Kind = "task-aborted"
	KindData               Kind = "data"
	KindHeartbeat          Kind = "heartbeat"
	KindExit               Kind = "exit"
	KindStreamEvent        Kind = "stream-event"
	KindViolation          Kind = "violation"
	KindIntervention       Kind = "intervention"
	KindPhaseTransition    Kind = "phase-transition"
	KindError              Kind = "error"
	KindPersistenceLag     Kind = "persistence-lag"
)

// Event is an immutable, append-only record of something that happened.
// Per spec §3 ("Ledger event"): never mutated after Log returns.
type Event struct {
	// Seq is a process-wide monotonic sequence number assigned at
	// emission time. It is the only ordering guarantee across tasks.
	Seq       uint64         `json:"seq"`
	TaskID    string         `json:"taskId"`
	ParentID  string         `json:"parentId,omitempty"`
	WorkerID  string         `json:"workerId"`
	Kind      Kind           `json:"event"`
	Payload   map[string]any `json:"payload"`
	Timestamp string         `json:"ts"` // ISO-8601 with millisecond precision
}

// nowMillis formats t as an ISO-8601 timestamp truncated to millisecond
// precision, matching spec §3's "ISO-8601 millisecond timestamp".
func nowMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
