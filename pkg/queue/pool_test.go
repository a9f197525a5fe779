//go:build unix

package queue

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/overseer/pkg/config"
)

type eventCollector struct {
	mu     sync.Mutex
	events []Event
}

func (c *eventCollector) handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *eventCollector) hasKind(k EventKind) bool {
	for _, ev := range c.all() {
		if ev.Kind == k {
			return true
		}
	}
	return false
}

func testConfig() config.QueueConfig {
	return config.QueueConfig{
		WorkerCount:        2,
		MaxConcurrentTasks: 2,
		PollInterval:       5 * time.Millisecond,
		PollIntervalJitter: time.Millisecond,
		TaskTimeout:        5 * time.Second,
		HeartbeatInterval:  50 * time.Millisecond,
		OrphanScanInterval: time.Hour,
		OrphanGracePeriod:  time.Hour,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestPoolExecutesSubmittedTask(t *testing.T) {
	c := &eventCollector{}
	p := New(testConfig(), c.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.SubmitTask("t1", &Task{Command: "/bin/echo", Args: []string{"hello-overseer-queue"}})

	waitFor(t, 2*time.Second, func() bool { return c.hasKind(EventTaskComplete) })

	var streamed string
	for _, ev := range c.all() {
		if ev.Kind == EventTaskStream {
			streamed += string(ev.Data)
		}
	}
	assert.Contains(t, streamed, "hello-overseer-queue")
}

func TestPoolRespectsMaxConcurrentTasks(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerCount = 5
	cfg.MaxConcurrentTasks = 1
	cfg.TaskTimeout = 2 * time.Second

	c := &eventCollector{}
	p := New(cfg, c.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	for i := 0; i < 3; i++ {
		p.SubmitTask(string(rune('a'+i)), &Task{Command: "/bin/sleep", Args: []string{"0.05"}})
	}

	// At no point should ActiveCount exceed MaxConcurrentTasks; sample a few
	// times while tasks are draining.
	for i := 0; i < 10; i++ {
		assert.LessOrEqual(t, p.ActiveCount(), 1)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCancelTaskCancelsRunningContext(t *testing.T) {
	c := &eventCollector{}
	p := New(testConfig(), c.handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.SubmitTask("long", &Task{Command: "/bin/sleep", Args: []string{"5"}})
	waitFor(t, time.Second, func() bool { return p.ActiveCount() > 0 })

	ok := p.CancelTask("long")
	assert.True(t, ok)

	waitFor(t, 2*time.Second, func() bool { return p.ActiveCount() == 0 })
}

func TestCancelTaskOnUnknownTaskIsNoop(t *testing.T) {
	p := New(testConfig(), nil)
	assert.False(t, p.CancelTask("nonexistent"))
}

func TestQueueDepthReflectsUnassignedTasks(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerCount = 0 // no workers drain the queue
	p := New(cfg, nil)

	p.SubmitTask("a", &Task{Command: "/bin/echo"})
	p.SubmitTask("b", &Task{Command: "/bin/echo"})
	assert.Equal(t, 2, p.QueueDepth())
}

func TestPoolHealthReportsCapacityAndActivity(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerCount = 2
	cfg.MaxConcurrentTasks = 2

	c := &eventCollector{}
	p := New(cfg, c.handle)

	health := p.Health()
	assert.Equal(t, 0, health.WorkerCount)
	assert.Equal(t, 2, health.MaxConcurrentTasks)
	assert.Equal(t, 0, health.ActiveCount)
	assert.Empty(t, health.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	p.SubmitTask("long", &Task{Command: "/bin/sleep", Args: []string{"5"}})
	waitFor(t, time.Second, func() bool { return p.ActiveCount() > 0 })

	health = p.Health()
	assert.Equal(t, 2, health.WorkerCount)
	assert.Equal(t, 1, health.ActiveCount)
	require.Len(t, health.Workers, 1)
	assert.Equal(t, "long", health.Workers[0].TaskID)
}

func TestAllocatePortIsIdempotentThroughPool(t *testing.T) {
	p := New(testConfig(), nil)
	first := p.AllocatePort("agent-x", "")
	second := p.AllocatePort("agent-x", "")
	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, first, basePort)
}

func TestScanToolInvocationsParsesSentinelLines(t *testing.T) {
	var invocations []map[string]any
	var buf bytes.Buffer
	scanToolInvocations(&buf, []byte("plain output\nTOOL_INVOCATION: {\"tool\":\"grep\",\"args\":[\"foo\"]}\nmore\n"), func(p map[string]any) {
		invocations = append(invocations, p)
	})
	require.Len(t, invocations, 1)
	assert.Equal(t, "grep", invocations[0]["tool"])
}

func TestScanToolInvocationsIgnoresMalformedJSON(t *testing.T) {
	var invocations []map[string]any
	var buf bytes.Buffer
	scanToolInvocations(&buf, []byte("TOOL_INVOCATION: not-json\n"), func(p map[string]any) {
		invocations = append(invocations, p)
	})
	assert.Empty(t, invocations)
}
