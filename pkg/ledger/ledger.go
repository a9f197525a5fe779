package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Handler receives ledger events in emission order.
type Handler func(Event)

// Stats summarizes the ledger's lifetime activity.
type Stats struct {
	EventsEmitted uint64
	StartedAt     time.Time
}

// subscription pairs a handler with the kind it was registered for. A zero
// Kind ("") means "any kind".
type subscription struct {
	kind    Kind
	handler Handler
}

// Ledger is the process-wide append-only event log described by spec §4.1.
//
// Guarantees upheld here:
//   - per-subscriber delivery order equals emission order (single mutex
//     serializes Log calls; handlers run synchronously before Log returns)
//   - persistence happens after subscriber notification but before Log
//     returns
//   - sink failures never propagate to the caller; they are recorded and
//     surfaced as a KindError meta-event on the NEXT call to Log
type Ledger struct {
	mu            sync.Mutex
	seq           uint64
	subscriptions []subscription
	sink          io.Writer
	startedAt     time.Time
	emitted       uint64

	pendingSinkErr error
}

// New creates a Ledger that writes JSONL-encoded events to sink. sink may be
// nil, in which case persistence is skipped entirely (events still reach
// subscribers).
func New(sink io.Writer) *Ledger {
	return &Ledger{
		sink:      sink,
		startedAt: time.Now(),
	}
}

// Subscribe registers handler for events of the given kind. An empty kind
// subscribes to every event. Handlers run synchronously and MUST NOT block
// per spec §5's "handlers must not block" scheduling rule.
func (l *Ledger) Subscribe(kind Kind, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subscriptions = append(l.subscriptions, subscription{kind: kind, handler: handler})
}

// Log stamps ev with a timestamp and monotonic sequence number, delivers it
// to every subscriber in registration order, persists it to the sink, and
// returns the stamped event. ev.Timestamp and ev.Seq are overwritten.
func (l *Ledger) Log(ev Event) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pendingSinkErr != nil {
		l.deliverLocked(Event{
			Seq:       l.nextSeqLocked(),
			TaskID:    ev.TaskID,
			WorkerID:  ev.WorkerID,
			Kind:      KindError,
			Payload:   map[string]any{"source": "ledger-sink", "error": l.pendingSinkErr.Error()},
			Timestamp: nowMillis(time.Now()),
		})
		l.pendingSinkErr = nil
	}

	ev.Seq = l.nextSeqLocked()
	ev.Timestamp = nowMillis(time.Now())
	l.deliverLocked(ev)
	l.persistLocked(ev)
	l.emitted++

	return ev
}

func (l *Ledger) nextSeqLocked() uint64 {
	return atomic.AddUint64(&l.seq, 1)
}

func (l *Ledger) deliverLocked(ev Event) {
	for _, sub := range l.subscriptions {
		if sub.kind == "" || sub.kind == ev.Kind {
			sub.handler(ev)
		}
	}
}

func (l *Ledger) persistLocked(ev Event) {
	if l.sink == nil {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		l.pendingSinkErr = fmt.Errorf("encoding event: %w", err)
		return
	}
	line = append(line, '\n')
	if _, err := l.sink.Write(line); err != nil {
		l.pendingSinkErr = fmt.Errorf("writing event: %w", err)
	}
}

// Stats returns the ledger's lifetime activity counters.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{EventsEmitted: l.emitted, StartedAt: l.startedAt}
}
