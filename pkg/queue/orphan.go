package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// orphanStats tracks orphan-recovery metrics (thread-safe), surfaced for
// diagnostics the way the teacher's orphanState backed PoolHealth.
type orphanStats struct {
	mu               sync.Mutex
	lastScan         time.Time
	orphansRecovered int
}

// OrphanStats is a snapshot of orphan-recovery activity.
type OrphanStats struct {
	LastScan         time.Time
	OrphansRecovered int
}

// Stats returns a snapshot of orphan-recovery activity.
func (p *Pool) Stats() OrphanStats {
	p.orphans.mu.Lock()
	defer p.orphans.mu.Unlock()
	return OrphanStats{LastScan: p.orphans.lastScan, OrphansRecovered: p.orphans.orphansRecovered}
}

// runOrphanScan periodically cancels tasks whose heartbeat has gone stale —
// a worker goroutine alive but not making progress (e.g. a wedged PTY read)
// longer than OrphanGracePeriod. Every worker process runs this
// independently; cancellation is idempotent.
func (p *Pool) runOrphanScan(ctx context.Context) {
	interval := p.cfg.OrphanScanInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.scanOnce()
		}
	}
}

func (p *Pool) scanOnce() {
	grace := p.cfg.OrphanGracePeriod
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	threshold := time.Now().Add(-grace)

	p.mu.Lock()
	var stale []*runningTask
	for _, rt := range p.running {
		rt.mu.Lock()
		last := rt.lastHeartbeat
		rt.mu.Unlock()
		if last.Before(threshold) {
			stale = append(stale, rt)
		}
	}
	p.mu.Unlock()

	if len(stale) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastScan = time.Now()
		p.orphans.mu.Unlock()
		return
	}

	slog.Warn("recovering orphaned tasks", "count", len(stale))
	for _, rt := range stale {
		rt.cancel()
		p.emit(Event{
			Kind:   EventTaskError,
			TaskID: rt.task.ID,
			Err:    fmt.Errorf("queue: task orphaned, no heartbeat for %s", grace),
		})
	}

	p.orphans.mu.Lock()
	p.orphans.lastScan = time.Now()
	p.orphans.orphansRecovered += len(stale)
	p.orphans.mu.Unlock()
}
