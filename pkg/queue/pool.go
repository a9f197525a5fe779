// Package queue implements the Priority Queue + Worker Pool (C10): a
// descending-priority, FIFO-tie-break task queue and a bounded pool of
// workers, each owning one PTY executor at a time, per spec §4.10. The poll
// loop, jitter backoff, heartbeat-driven liveness, and orphan recovery
// follow the teacher's pkg/queue/{pool.go,worker.go,orphan.go}, generalized
// from ent-backed alert sessions to generic in-memory Tasks.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeready-toolchain/overseer/pkg/config"
	"github.com/codeready-toolchain/overseer/pkg/ptyexec"
)

// ErrAtCapacity is returned internally when the pool is already running
// MaxConcurrentTasks tasks.
var ErrAtCapacity = errors.New("queue: worker pool at capacity")

// EventKind discriminates the events a Pool emits, per spec §4.10.
type EventKind string

// Event kinds.
const (
	EventTaskStarted        EventKind = "task:started"
	EventTaskStream         EventKind = "task:stream"
	EventTaskComplete       EventKind = "task:complete"
	EventTaskError          EventKind = "task:error"
	EventTaskToolInvocation EventKind = "task:tool_invocation"
)

// Event is a single occurrence surfaced by a worker while processing a task.
type Event struct {
	Kind           EventKind
	TaskID         string
	Data           []byte
	Err            error
	ExitCode       int
	ToolInvocation map[string]any
	At             time.Time
}

// EventHandler receives every Event in emission order for its task.
type EventHandler func(Event)

// toolInvocationSentinel prefixes a stream line carrying an out-of-band tool
// request, per spec §4.10.
const toolInvocationSentinel = "TOOL_INVOCATION: "

// Pool is a bounded worker pool draining a PriorityQueue.
type Pool struct {
	cfg     config.QueueConfig
	queue   *PriorityQueue
	handler EventHandler

	mu      sync.Mutex
	workers []*worker
	running map[string]*runningTask
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup

	ports   *portAllocator
	orphans orphanStats
}

type runningTask struct {
	task     *Task
	cancel   context.CancelFunc
	executor *ptyexec.Executor

	mu            sync.Mutex
	lastHeartbeat time.Time
}

// Writer is the subset of *ptyexec.Executor needed to inject text into a
// running task's PTY. Mirrors intervention.Writer so callers can pass a
// Pool-obtained Writer straight to (*intervention.Controller).Attach
// without pkg/queue depending on pkg/intervention.
type Writer interface {
	Write([]byte) (int, error)
}

// Writer returns the PTY writer for a currently running task, if any. Used
// to attach the Intervention Controller (C7) once a task starts executing.
func (p *Pool) Writer(taskID string) (Writer, bool) {
	p.mu.Lock()
	rt, ok := p.running[taskID]
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.executor == nil {
		return nil, false
	}
	return rt.executor, true
}

// New creates a Pool. handler receives every task event across all workers.
func New(cfg config.QueueConfig, handler EventHandler) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &Pool{
		cfg:     cfg,
		queue:   NewPriorityQueue(),
		handler: handler,
		running: make(map[string]*runningTask),
		stopCh:  make(chan struct{}),
		ports:   newPortAllocator(),
	}
}

// SubmitTask enqueues a new task under id. Parent-child tasks are scheduled
// independently: t.ParentID does not affect priority or ordering.
func (p *Pool) SubmitTask(id string, t *Task) {
	t.ID = id
	t.EnqueuedAt = time.Now()
	p.queue.Enqueue(t)
}

// Start launches the configured number of worker goroutines plus the orphan
// scanner. Safe to call once; a second call is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if len(p.workers) > 0 {
		p.mu.Unlock()
		return
	}
	for i := 0; i < p.cfg.WorkerCount; i++ {
		w := &worker{id: fmt.Sprintf("worker-%d", i), pool: p}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanScan(ctx)
	}()
}

// Stop signals every worker and the orphan scanner to exit and waits for
// them.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// CancelTask cancels a running task's context, if it is currently assigned
// to a worker. Idempotent: cancelling twice, or a task that already
// finished, is a no-op.
func (p *Pool) CancelTask(taskID string) bool {
	p.mu.Lock()
	rt, ok := p.running[taskID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	rt.cancel()
	return true
}

// ActiveCount returns the number of tasks currently being executed.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.running)
}

// QueueDepth returns the number of tasks waiting to be assigned.
func (p *Pool) QueueDepth() int {
	return p.queue.Size()
}

// AllocatePort returns agentID's allocated port, assigning one ≥ 9000 on
// first call. See port.go.
func (p *Pool) AllocatePort(agentID, parentAgentID string) int {
	return p.ports.allocate(agentID, parentAgentID)
}

// WorkerHealth is a snapshot of one worker's current activity.
type WorkerHealth struct {
	TaskID        string    `json:"taskId,omitempty"`
	LastHeartbeat time.Time `json:"lastHeartbeat,omitempty"`
}

// PoolHealth is a point-in-time snapshot of the pool's capacity and
// per-worker activity, consumed by C11's post-execution hook for
// capacity-aware admission and surfaced on the admission API's health route.
type PoolHealth struct {
	WorkerCount        int            `json:"workerCount"`
	MaxConcurrentTasks int            `json:"maxConcurrentTasks"`
	ActiveCount        int            `json:"activeCount"`
	QueueDepth         int            `json:"queueDepth"`
	Workers            []WorkerHealth `json:"workers"`
	Orphans            OrphanStats    `json:"orphans"`
}

// Health reports the pool's current capacity and per-worker activity.
func (p *Pool) Health() PoolHealth {
	p.mu.Lock()
	workers := make([]WorkerHealth, 0, len(p.running))
	for taskID, rt := range p.running {
		rt.mu.Lock()
		workers = append(workers, WorkerHealth{TaskID: taskID, LastHeartbeat: rt.lastHeartbeat})
		rt.mu.Unlock()
	}
	active := len(p.running)
	workerCount := len(p.workers)
	p.mu.Unlock()

	return PoolHealth{
		WorkerCount:        workerCount,
		MaxConcurrentTasks: p.cfg.MaxConcurrentTasks,
		ActiveCount:        active,
		QueueDepth:         p.queue.Size(),
		Workers:            workers,
		Orphans:            p.Stats(),
	}
}

func (p *Pool) registerRunning(rt *runningTask) {
	p.mu.Lock()
	p.running[rt.task.ID] = rt
	p.mu.Unlock()
}

func (p *Pool) unregisterRunning(taskID string) {
	p.mu.Lock()
	delete(p.running, taskID)
	p.mu.Unlock()
}

func (p *Pool) touchHeartbeat(taskID string) {
	p.mu.Lock()
	rt, ok := p.running[taskID]
	p.mu.Unlock()
	if !ok {
		return
	}
	rt.mu.Lock()
	rt.lastHeartbeat = time.Now()
	rt.mu.Unlock()
}

func (p *Pool) emit(ev Event) {
	ev.At = time.Now()
	if p.handler != nil {
		p.handler(ev)
	}
}

type worker struct {
	id   string
	pool *Pool
}

func (w *worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id)
	for {
		select {
		case <-w.pool.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				log.Error("task processing error", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *worker) sleep(d time.Duration) {
	select {
	case <-w.pool.stopCh:
	case <-time.After(d):
	}
}

func (w *worker) pollInterval() time.Duration {
	base := w.pool.cfg.PollInterval
	jitter := w.pool.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// pollAndProcess checks capacity, dequeues a task if one is assignable, and
// runs it to completion. Returns nil whenever the worker should simply poll
// again (at capacity, queue empty) — those are not error conditions.
func (w *worker) pollAndProcess(ctx context.Context) error {
	if w.pool.cfg.MaxConcurrentTasks > 0 && w.pool.ActiveCount() >= w.pool.cfg.MaxConcurrentTasks {
		w.sleep(w.pollInterval())
		return nil
	}

	task, ok := w.pool.queue.Dequeue()
	if !ok {
		w.sleep(w.pollInterval())
		return nil
	}

	return w.execute(ctx, task)
}

func (w *worker) execute(ctx context.Context, task *Task) error {
	taskCtx, cancel := context.WithTimeout(ctx, w.timeout())
	defer cancel()

	rt := &runningTask{task: task, cancel: cancel, lastHeartbeat: time.Now()}
	w.pool.registerRunning(rt)
	defer w.pool.unregisterRunning(task.ID)

	var lineBuf bytes.Buffer
	executor := ptyexec.New(ptyexec.Options{
		Env:               task.Env,
		Dir:               task.Dir,
		HeartbeatInterval: w.pool.cfg.HeartbeatInterval,
	}, func(ev ptyexec.Event) {
		switch ev.Kind {
		case ptyexec.EventData:
			w.pool.touchHeartbeat(task.ID)
			w.pool.emit(Event{Kind: EventTaskStream, TaskID: task.ID, Data: ev.Data})
			scanToolInvocations(&lineBuf, ev.Data, func(payload map[string]any) {
				w.pool.emit(Event{Kind: EventTaskToolInvocation, TaskID: task.ID, ToolInvocation: payload})
			})
		case ptyexec.EventHeartbeat:
			w.pool.touchHeartbeat(task.ID)
		case ptyexec.EventExit:
			w.pool.emit(Event{Kind: EventTaskComplete, TaskID: task.ID, ExitCode: ev.ExitCode})
		}
	})

	rt.mu.Lock()
	rt.executor = executor
	rt.mu.Unlock()
	w.pool.emit(Event{Kind: EventTaskStarted, TaskID: task.ID})

	if err := executor.Execute(taskCtx, task.ID, task.Command, task.Args); err != nil {
		w.pool.emit(Event{Kind: EventTaskError, TaskID: task.ID, Err: err})
		return err
	}
	return nil
}

func (w *worker) timeout() time.Duration {
	if w.pool.cfg.TaskTimeout > 0 {
		return w.pool.cfg.TaskTimeout
	}
	return 45 * time.Minute
}

// scanToolInvocations feeds chunk through buf's line accumulator, invoking
// onInvocation for every complete line beginning with toolInvocationSentinel
// whose remainder parses as JSON.
func scanToolInvocations(buf *bytes.Buffer, chunk []byte, onInvocation func(map[string]any)) {
	buf.Write(chunk)
	for {
		b := buf.Bytes()
		idx := bytes.IndexByte(b, '\n')
		if idx < 0 {
			break
		}
		line := string(b[:idx])
		buf.Next(idx + 1)

		if !bytes.HasPrefix([]byte(line), []byte(toolInvocationSentinel)) {
			continue
		}
		rest := line[len(toolInvocationSentinel):]
		var payload map[string]any
		if err := json.Unmarshal([]byte(rest), &payload); err != nil {
			continue
		}
		onInvocation(payload)
	}
}
