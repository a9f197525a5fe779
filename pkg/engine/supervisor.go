// Package engine wires the twelve supervision-engine components (C1-C12)
// together into a single running task pipeline. The Supervisor holds one
// collaborator reference per component and dispatches every Pool Event
// through the collaborators that care about it, the same "deps struct +
// central dispatch" shape as the teacher's SubAgentRunner
// (pkg/agent/orchestrator/runner.go) and its stream dispatch loop
// (pkg/agent/controller/streaming.go), generalized from LLM tool-call
// orchestration to PTY output supervision.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/overseer/pkg/aggregator"
	"github.com/codeready-toolchain/overseer/pkg/config"
	"github.com/codeready-toolchain/overseer/pkg/hooks"
	"github.com/codeready-toolchain/overseer/pkg/intervention"
	"github.com/codeready-toolchain/overseer/pkg/ledger"
	"github.com/codeready-toolchain/overseer/pkg/monitor"
	"github.com/codeready-toolchain/overseer/pkg/notify"
	"github.com/codeready-toolchain/overseer/pkg/observer"
	"github.com/codeready-toolchain/overseer/pkg/phase"
	"github.com/codeready-toolchain/overseer/pkg/queue"
	"github.com/codeready-toolchain/overseer/pkg/redact"
	"github.com/codeready-toolchain/overseer/pkg/rules"
	"github.com/codeready-toolchain/overseer/pkg/store"
	"github.com/codeready-toolchain/overseer/pkg/streamparse"
	"github.com/codeready-toolchain/overseer/pkg/verify"
)

// phaseOrder is the fixed four-stage progression named in spec §4.8;
// individual phases may be omitted from a deployment's phases.yaml, but the
// relative ordering is not configurable.
var phaseOrder = []string{"research", "planning", "execution", "integration"}

// SubmitRequest describes a task admission request.
type SubmitRequest struct {
	Prompt   string
	ParentID string
	Priority int
	Command  string
	Args     []string
	Dir      string
}

// TaskStatus is a snapshot of one task's current state, for the admission
// API's GET /tasks/:id.
type TaskStatus struct {
	TaskID    string `json:"taskId"`
	Status    string `json:"status"`
	Phase     string `json:"phase,omitempty"`
	QueueSize int    `json:"-"`
}

type taskRuntime struct {
	mu             sync.Mutex
	conversationID string
	shortID        string
	phase          *phase.Controller
	monitor        *monitor.Monitor
	parser         *streamparse.Parser
	status         string
}

// Supervisor is the process-wide orchestrator tying C1-C12 together.
type Supervisor struct {
	cfg          *config.Config
	store        *store.Store
	ledger       *ledger.Ledger
	rules        *rules.Engine
	hooks        *hooks.Orchestrator
	intervention *intervention.Controller
	aggregator   *aggregator.Aggregator
	verify       *verify.Engine
	hub          *observer.Hub
	pool         *queue.Pool
	notify       *notify.Fanout
	redactor     *redact.Redactor

	mu    sync.Mutex
	tasks map[string]*taskRuntime
}

// New builds a Supervisor. The caller is responsible for calling
// pool.Start(ctx) separately once New has wired pool's handler.
func New(
	cfg *config.Config,
	st *store.Store,
	led *ledger.Ledger,
	rulesEngine *rules.Engine,
	hookOrch *hooks.Orchestrator,
	interventionCtl *intervention.Controller,
	aggr *aggregator.Aggregator,
	verifyEngine *verify.Engine,
	hub *observer.Hub,
) *Supervisor {
	s := &Supervisor{
		cfg:          cfg,
		store:        st,
		ledger:       led,
		rules:        rulesEngine,
		hooks:        hookOrch,
		intervention: interventionCtl,
		aggregator:   aggr,
		verify:       verifyEngine,
		hub:          hub,
		notify:       notify.NewFanout(),
		redactor:     redact.New(),
		tasks:        make(map[string]*taskRuntime),
	}
	s.pool = queue.New(cfg.Queue, s.handleQueueEvent)
	s.registerBuiltinHooks()
	return s
}

// registerBuiltinHooks adds the capacity-aware admission hook (rejecting new
// tasks once the pool is at MaxConcurrentTasks and its queue is already
// backed up) and the notification fan-out hook (post-execution), per
// SPEC_FULL's ambient hook set.
func (s *Supervisor) registerBuiltinHooks() {
	s.hooks.Register(hooks.EventPreAdmission, &hooks.Hook{
		Name:     "capacity-admission",
		Priority: 50,
		Handler: func(args map[string]any) hooks.Verdict {
			health := s.pool.Health()
			if s.cfg.Queue.MaxConcurrentTasks > 0 &&
				health.ActiveCount >= s.cfg.Queue.MaxConcurrentTasks &&
				health.QueueDepth >= s.cfg.Queue.MaxConcurrentTasks {
				return hooks.Verdict{Block: true, Reason: "worker pool at capacity, backlog full"}
			}
			return hooks.Verdict{}
		},
	})
	s.hooks.Register(hooks.EventPostExecution, &hooks.Hook{
		Name:     "terminal-notification",
		Priority: 0,
		Handler: func(args map[string]any) hooks.Verdict {
			taskID, _ := args["taskId"].(string)
			status, _ := args["status"].(string)
			s.notify.OnTaskFinished(notify.TaskFinished{TaskID: taskID, Status: status})
			return hooks.Verdict{}
		},
	})
}

// Pool returns the underlying worker pool, for Start/Stop by the caller.
func (s *Supervisor) Pool() *queue.Pool { return s.pool }

// Submit admits a new task: runs it through the pre-admission and pre-spawn
// hooks, records a Conversation, attaches its phase/monitor runtime, and
// enqueues it on the worker pool. Returns the assigned task id.
func (s *Supervisor) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	args := map[string]any{
		"prompt":   req.Prompt,
		"parentId": req.ParentID,
		"command":  req.Command,
	}
	modified, verdict := s.hooks.Trigger(hooks.EventPreAdmission, args)
	if verdict.Block {
		return "", fmt.Errorf("engine: admission blocked: %s", verdict.Reason)
	}
	if p, ok := modified["prompt"].(string); ok {
		req.Prompt = p
	}

	modified, verdict = s.hooks.Trigger(hooks.EventPreSpawn, modified)
	if verdict.Block {
		return "", fmt.Errorf("engine: pre-spawn blocked: %s", verdict.Reason)
	}

	taskID := uuid.NewString()
	depth := 0
	if req.ParentID != "" {
		if parent, err := s.store.GetConversation(ctx, req.ParentID); err == nil && parent != nil {
			depth = parent.Depth + 1
		}
	}

	if err := s.store.CreateConversation(ctx, store.Conversation{
		ID:        taskID,
		ParentID:  req.ParentID,
		StartedAt: time.Now(),
		Status:    store.StatusQueued,
		Depth:     depth,
		Prompt:    req.Prompt,
		TaskType:  "task",
	}); err != nil {
		return "", fmt.Errorf("engine: creating conversation: %w", err)
	}
	s.hooks.Trigger(hooks.EventDatabaseConversationCreated, map[string]any{"taskId": taskID})

	s.ledger.Log(ledger.Event{TaskID: taskID, ParentID: req.ParentID, Kind: ledger.KindTaskQueued,
		Payload: map[string]any{"prompt": req.Prompt}})

	rt := &taskRuntime{conversationID: taskID, status: "queued"}

	phaseCtl, err := phase.New(phaseOrder, s.cfg.Phases, func(ev phase.Event) { s.onPhaseEvent(taskID, ev) })
	if err != nil {
		return "", fmt.Errorf("engine: building phase controller: %w", err)
	}
	rt.phase = phaseCtl

	rt.monitor = monitor.New(s.cfg.Monitor, func(d monitor.Detection) { s.onDetection(taskID, d) })
	rt.parser = streamparse.New()

	shortID, err := s.aggregator.Attach()
	if err != nil {
		return "", fmt.Errorf("engine: attaching aggregator child: %w", err)
	}
	rt.shortID = shortID

	s.mu.Lock()
	s.tasks[taskID] = rt
	s.mu.Unlock()

	if _, err := phaseCtl.Start(); err != nil {
		slog.Warn("engine: starting phase controller", "task_id", taskID, "error", err)
	}

	port := s.pool.AllocatePort(taskID, req.ParentID)
	env := append(os.Environ(), fmt.Sprintf("PORT=%d", port))

	s.pool.SubmitTask(taskID, &queue.Task{
		Prompt:   req.Prompt,
		Priority: req.Priority,
		ParentID: req.ParentID,
		Command:  req.Command,
		Args:     req.Args,
		Dir:      req.Dir,
		Env:      env,
	})

	s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeTaskUpdate, TaskID: taskID,
		Data: map[string]string{"status": "queued"}})
	s.notify.OnTaskStarted(notify.TaskStarted{TaskID: taskID, Prompt: req.Prompt})
	return taskID, nil
}

// Status returns a snapshot of taskID's current state, or false if unknown.
func (s *Supervisor) Status(taskID string) (TaskStatus, bool) {
	s.mu.Lock()
	rt, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		return TaskStatus{}, false
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	phaseTag := ""
	if p := rt.phase.Current(); p != nil {
		phaseTag = p.Tag
	}
	return TaskStatus{TaskID: taskID, Status: rt.status, Phase: phaseTag, QueueSize: s.pool.QueueDepth()}, true
}

func (s *Supervisor) runtime(taskID string) *taskRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[taskID]
}

func (s *Supervisor) setStatus(taskID, status string) {
	rt := s.runtime(taskID)
	if rt == nil {
		return
	}
	rt.mu.Lock()
	rt.status = status
	rt.mu.Unlock()
}

// handleQueueEvent is the Pool's EventHandler: it receives every stream
// chunk, tool invocation, completion, and error for every running task and
// routes each through the Ledger, Conversation Store, Rule Engine, Thought
// Monitor, Phase Controller, Hook Orchestrator, and Observer channel.
func (s *Supervisor) handleQueueEvent(ev queue.Event) {
	ctx := context.Background()
	rt := s.runtime(ev.TaskID)

	switch ev.Kind {
	case queue.EventTaskStarted:
		s.setStatus(ev.TaskID, "running")
		if err := s.store.UpdateConversation(ctx, ev.TaskID, store.ConversationUpdate{Status: statusPtr(store.StatusRunning)}); err != nil {
			slog.Warn("engine: updating conversation to running", "task_id", ev.TaskID, "error", err)
		}
		s.ledger.Log(ledger.Event{TaskID: ev.TaskID, Kind: ledger.KindTaskStarted})
		if w, ok := s.pool.Writer(ev.TaskID); ok {
			s.intervention.Attach(ev.TaskID, w)
		}
		if rt != nil {
			rt.monitor.StartStallTimer(ctx)
		}
		s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeTaskUpdate, TaskID: ev.TaskID,
			Data: map[string]string{"status": "running"}})

	case queue.EventTaskStream:
		text := s.redactor.Mask(string(ev.Data))
		ev.Data = []byte(text)
		s.ledger.Log(ledger.Event{TaskID: ev.TaskID, Kind: ledger.KindData, Payload: map[string]any{"bytes": len(ev.Data)}})
		if err := s.store.LogStream(ctx, ev.TaskID, store.StreamChunk{Chunk: text, Timestamp: time.Now()}); err != nil {
			slog.Warn("engine: logging stream chunk", "task_id", ev.TaskID, "error", err)
		}
		s.hooks.Trigger(hooks.EventStreamEvent, map[string]any{"taskId": ev.TaskID, "text": text})

		if rt != nil {
			rt.monitor.Feed(ev.Data)
			rt.mu.Lock()
			phaseCtl := rt.phase
			shortID := rt.shortID
			parser := rt.parser
			rt.mu.Unlock()
			phaseCtl.ObserveText(text)
			s.aggregator.Feed(shortID, ev.Data)
			s.dispatchStreamEvents(ev.TaskID, phaseCtl, parser.Feed(ev.Data))
		}

		for _, v := range s.rules.CheckLine(text, ev.TaskID) {
			s.ledger.Log(ledger.Event{TaskID: ev.TaskID, Kind: ledger.KindViolation,
				Payload: map[string]any{"ruleId": v.RuleID, "match": v.Match}})
			s.hooks.Trigger(hooks.EventViolation, map[string]any{"taskId": ev.TaskID, "ruleId": v.RuleID})
			s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeError, TaskID: ev.TaskID,
				Data: map[string]string{"ruleId": v.RuleID, "match": v.Match, "remediation": v.Remediation}})
			switch v.Action {
			case rules.ActionInterrupt, rules.ActionRedirect:
				if v.Remediation != "" {
					if err := s.intervention.Redirect(ctx, ev.TaskID, v.Remediation); err != nil {
						slog.Warn("engine: redirecting on rule violation", "task_id", ev.TaskID, "error", err)
					}
				}
			case rules.ActionWarn, rules.ActionLog:
				// already logged and broadcast above; no PTY intervention.
			}
		}

		s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeStream, TaskID: ev.TaskID, Data: text})

	case queue.EventTaskToolInvocation:
		s.ledger.Log(ledger.Event{TaskID: ev.TaskID, Kind: ledger.KindStreamEvent, Payload: ev.ToolInvocation})
		if tool, ok := ev.ToolInvocation["tool"].(string); ok && rt != nil {
			if allowed, remediation := rt.phase.CheckTool(tool); !allowed {
				if err := s.intervention.Redirect(ctx, ev.TaskID, remediation); err != nil {
					slog.Warn("engine: redirecting on forbidden tool", "task_id", ev.TaskID, "error", err)
				}
			}
		}
		if path, ok := ev.ToolInvocation["path"].(string); ok && rt != nil {
			rt.phase.ObserveFile(path)
		}
		s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeTaskUpdate, TaskID: ev.TaskID, Data: ev.ToolInvocation})

	case queue.EventTaskComplete:
		s.finishTask(ctx, ev.TaskID, rt, store.StatusCompleted, ledger.KindTaskCompleted)

	case queue.EventTaskError:
		s.ledger.Log(ledger.Event{TaskID: ev.TaskID, Kind: ledger.KindError,
			Payload: map[string]any{"error": ev.Err.Error()}})
		s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeError, TaskID: ev.TaskID, Data: ev.Err.Error()})
		s.finishTask(ctx, ev.TaskID, rt, store.StatusFailed, ledger.KindTaskFailed)
	}
}

func (s *Supervisor) finishTask(ctx context.Context, taskID string, rt *taskRuntime, status store.Status, kind ledger.Kind) {
	s.setStatus(taskID, string(status))
	if err := s.store.UpdateConversation(ctx, taskID, store.ConversationUpdate{Status: statusPtr(status)}); err != nil {
		slog.Warn("engine: updating conversation at finish", "task_id", taskID, "error", err)
	}
	s.ledger.Log(ledger.Event{TaskID: taskID, Kind: kind})
	s.hooks.Trigger(hooks.EventPostExecution, map[string]any{"taskId": taskID, "status": string(status)})

	if report, err := s.verify.Verify(ctx, taskID); err == nil {
		s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeVerification, TaskID: taskID, Data: report})
	}

	s.intervention.Detach(taskID)
	if rt != nil {
		rt.monitor.StopStallTimer()
		s.aggregator.Detach(rt.shortID)
		s.dispatchStreamEvents(taskID, rt.phase, rt.parser.Close())
	}
	s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeTaskUpdate, TaskID: taskID,
		Data: map[string]string{"status": string(status)}})

	s.mu.Lock()
	delete(s.tasks, taskID)
	s.mu.Unlock()
}

// dispatchStreamEvents records each typed event the Stream Parser (C4)
// extracted from a chunk of raw output, and feeds file events to the Phase
// Controller so phase.OutputFile completion is detected from what the
// subject actually wrote, not just from tool-call metadata.
func (s *Supervisor) dispatchStreamEvents(taskID string, phaseCtl *phase.Controller, events []streamparse.StreamEvent) {
	for _, pe := range events {
		s.ledger.Log(ledger.Event{TaskID: taskID, Kind: ledger.KindStreamEvent,
			Payload: map[string]any{"kind": string(pe.Kind), "content": pe.Content}})

		switch pe.Kind {
		case streamparse.EventFileCreated, streamparse.EventFileModified:
			if path, ok := pe.Metadata["path"].(string); ok {
				phaseCtl.ObserveFile(path)
			}
		case streamparse.EventErrorOccurred:
			s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeError, TaskID: taskID, Data: pe.Content})
		case streamparse.EventCommandExecuted:
			s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeTaskUpdate, TaskID: taskID,
				Data: map[string]string{"command": pe.Content}})
		}
	}
}

func (s *Supervisor) onPhaseEvent(taskID string, ev phase.Event) {
	s.ledger.Log(ledger.Event{TaskID: taskID, Kind: ledger.KindPhaseTransition,
		Payload: map[string]any{"from": ev.From, "to": ev.To, "kind": string(ev.Kind)}})
	s.hooks.Trigger(hooks.EventPhaseTransition, map[string]any{"taskId": taskID, "from": ev.From, "to": ev.To})
	if ev.To != "" && ev.Prompt != "" {
		if err := s.intervention.Redirect(context.Background(), taskID, ev.Prompt); err != nil {
			slog.Warn("engine: injecting phase prompt", "task_id", taskID, "error", err)
		}
	}
	s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeTaskUpdate, TaskID: taskID,
		Data: map[string]string{"phase": ev.To}})
}

func (s *Supervisor) onDetection(taskID string, d monitor.Detection) {
	s.ledger.Log(ledger.Event{TaskID: taskID, Kind: ledger.KindIntervention,
		Payload: map[string]any{"kind": string(d.Kind), "route": string(d.Route), "match": d.Match}})

	ctx := context.Background()
	switch d.Route {
	case monitor.RouteInterruptRequired:
		if d.Kind == monitor.KindStall {
			if ok := s.pool.CancelTask(taskID); ok {
				s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeIntervention, TaskID: taskID,
					Data: map[string]string{"action": "aborted-stall"}})
				return
			}
		}
		if err := s.intervention.Redirect(ctx, taskID, remediationFor(d)); err != nil {
			slog.Warn("engine: redirecting on interrupt-required detection", "task_id", taskID, "error", err)
		}
	case monitor.RouteRedirectRequired:
		if err := s.intervention.Redirect(ctx, taskID, remediationFor(d)); err != nil {
			slog.Warn("engine: redirecting on detection", "task_id", taskID, "error", err)
		}
	case monitor.RouteWarning:
		s.hub.Broadcast(observer.Envelope{Type: observer.EnvelopeIntervention, TaskID: taskID,
			Data: map[string]string{"kind": string(d.Kind), "match": d.Match}})
	case monitor.RouteInfo:
		// Logged above; no further action.
	}
}

func remediationFor(d monitor.Detection) string {
	switch d.Kind {
	case monitor.KindResearchLoop:
		return "Stop researching further. Write the implementation file now."
	case monitor.KindTodoViolation:
		return "Do not leave TODO/FIXME markers or deferred work. Implement this now."
	case monitor.KindStall:
		return "No output has been produced recently. Check the last command's result and continue with the next concrete step."
	default:
		return fmt.Sprintf("Detected %s: %s. Continue with a concrete next step.", d.Kind, d.Match)
	}
}

func statusPtr(s store.Status) *store.Status { return &s }
