package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	started  []TaskStarted
	finished []TaskFinished
}

func (r *recordingSink) OnTaskStarted(t TaskStarted)   { r.started = append(r.started, t) }
func (r *recordingSink) OnTaskFinished(t TaskFinished) { r.finished = append(r.finished, t) }

func TestNewFanoutIncludesDefaultLogSink(t *testing.T) {
	f := NewFanout()
	require.Len(t, f.sinks, 1)
}

func TestFanoutBroadcastsToAllRegisteredSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	f := NewFanout(a)
	f.Register(b)

	f.OnTaskStarted(TaskStarted{TaskID: "task-1", Prompt: "do the thing"})
	f.OnTaskFinished(TaskFinished{TaskID: "task-1", Status: "completed"})

	require.Len(t, a.started, 1)
	assert.Equal(t, "task-1", a.started[0].TaskID)
	require.Len(t, b.finished, 1)
	assert.Equal(t, "completed", b.finished[0].Status)
}

func TestDefaultSinkDoesNotPanic(t *testing.T) {
	s := DefaultSink()
	assert.NotPanics(t, func() {
		s.OnTaskStarted(TaskStarted{TaskID: "x"})
		s.OnTaskFinished(TaskFinished{TaskID: "x", Status: "failed", Error: "boom"})
	})
}
