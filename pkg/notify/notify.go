// Package notify provides the pluggable terminal-notification fan-out used
// by the Hook Orchestrator's post-execution event. The Sink interface and
// nil-safe no-op default follow the shape of the teacher's pkg/slack.Service
// (a single notification service, nil-safe, invoked on session start and on
// every terminal status) generalized from a concrete Slack delivery client
// to a registrable interface with no specific transport wired in.
package notify

import "log/slog"

// TaskStarted carries the fields a Sink needs to announce a task beginning,
// mirroring the teacher's slack.SessionStartedInput.
type TaskStarted struct {
	TaskID string
	Prompt string
}

// TaskFinished carries the fields a Sink needs to announce a terminal
// status, mirroring the teacher's slack.SessionCompletedInput.
type TaskFinished struct {
	TaskID string
	Status string // completed, failed, aborted
	Error  string
}

// Sink receives task lifecycle notifications. Implementations must be safe
// for concurrent use; a Sink is invoked from the Hook Orchestrator's
// dispatch path and must not block for long.
type Sink interface {
	OnTaskStarted(TaskStarted)
	OnTaskFinished(TaskFinished)
}

// logSink is the default Sink: it logs at info level and delivers nowhere
// else. Registered automatically so post-execution always has at least one
// subscriber without requiring an operator to configure a transport.
type logSink struct{}

func (logSink) OnTaskStarted(t TaskStarted) {
	slog.Info("notify: task started", "task_id", t.TaskID)
}

func (logSink) OnTaskFinished(t TaskFinished) {
	if t.Error != "" {
		slog.Info("notify: task finished", "task_id", t.TaskID, "status", t.Status, "error", t.Error)
		return
	}
	slog.Info("notify: task finished", "task_id", t.TaskID, "status", t.Status)
}

// DefaultSink returns the no-op-beyond-logging Sink used when no other
// transport is configured.
func DefaultSink() Sink { return logSink{} }

// Fanout broadcasts to every registered Sink. The zero value is ready to use
// with only the default log sink.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a Fanout that always includes the default log sink plus
// any additional sinks supplied.
func NewFanout(extra ...Sink) *Fanout {
	return &Fanout{sinks: append([]Sink{DefaultSink()}, extra...)}
}

// Register adds a Sink to the fan-out list.
func (f *Fanout) Register(s Sink) {
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) OnTaskStarted(t TaskStarted) {
	for _, s := range f.sinks {
		s.OnTaskStarted(t)
	}
}

func (f *Fanout) OnTaskFinished(t TaskFinished) {
	for _, s := range f.sinks {
		s.OnTaskFinished(t)
	}
}
