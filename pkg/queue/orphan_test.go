package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/overseer/pkg/config"
)

func TestScanOnceCancelsStaleTask(t *testing.T) {
	var mu sync.Mutex
	var events []Event

	cfg := config.QueueConfig{OrphanGracePeriod: 10 * time.Millisecond}
	p := New(cfg, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	cancelled := false
	_, cancel := context.WithCancel(context.Background())
	rt := &runningTask{
		task:          &Task{ID: "stale"},
		cancel:        func() { cancelled = true; cancel() },
		lastHeartbeat: time.Now().Add(-time.Hour),
	}
	p.registerRunning(rt)

	p.scanOnce()

	assert.True(t, cancelled)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, EventTaskError, events[0].Kind)
	assert.Equal(t, "stale", events[0].TaskID)

	stats := p.Stats()
	assert.Equal(t, 1, stats.OrphansRecovered)
}

func TestScanOnceLeavesFreshTasksRunning(t *testing.T) {
	cfg := config.QueueConfig{OrphanGracePeriod: time.Hour}
	p := New(cfg, nil)

	cancelled := false
	rt := &runningTask{
		task:          &Task{ID: "fresh"},
		cancel:        func() { cancelled = true },
		lastHeartbeat: time.Now(),
	}
	p.registerRunning(rt)

	p.scanOnce()

	assert.False(t, cancelled)
	stats := p.Stats()
	assert.Equal(t, 0, stats.OrphansRecovered)
}

func TestRunOrphanScanStopsOnContextCancel(t *testing.T) {
	cfg := config.QueueConfig{OrphanScanInterval: time.Millisecond, OrphanGracePeriod: time.Hour}
	p := New(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.runOrphanScan(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runOrphanScan did not exit after context cancellation")
	}
}
