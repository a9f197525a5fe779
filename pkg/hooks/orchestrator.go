// Package hooks implements the Hook Orchestrator (C11): the hub through
// which every lifecycle event is mediated. Hooks register keyed by event
// and run in priority order on each trigger; any hook may block the call,
// rewrite its arguments, or let it continue, per spec §4.11. The
// snapshot-under-read-lock-then-run-without-lock dispatch shape and
// registration-order tie-break follow the Rule Engine (pkg/rules/engine.go).
package hooks

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/codeready-toolchain/overseer/pkg/config"
)

// Event names a lifecycle point hooks can register against, per spec §4.11.
type Event string

// Lifecycle events.
const (
	EventPreAdmission                Event = "pre-admission"
	EventPreSpawn                    Event = "pre-spawn"
	EventStreamEvent                 Event = "stream-event"
	EventViolation                   Event = "violation"
	EventPostExecution               Event = "post-execution"
	EventDatabaseConversationCreated Event = "database-conversation-created"
	EventDatabaseActionLogged        Event = "database-action-logged"
	EventStatusTaskUpdated           Event = "status-task-updated"
	EventPhaseTransition             Event = "phase-transition"
)

// Verdict is what a hook returns: whether to continue, what the effective
// (possibly rewritten) args are, and why a block happened.
type Verdict struct {
	Block        bool
	Reason       string
	ModifiedArgs map[string]any
}

// continueVerdict is the zero-value verdict: proceed unchanged.
var continueVerdict = Verdict{}

// Hook is a single registered handler. Handler receives the current args
// (after any prior hook's ModifiedArgs have been folded in) and returns a
// Verdict.
type Hook struct {
	Name     string
	Priority int // higher runs first
	Handler  func(args map[string]any) Verdict

	order int // registration order, tie-break for equal priority
}

// Orchestrator is the process-wide hook registry.
type Orchestrator struct {
	mu        sync.RWMutex
	hooks     map[Event][]*Hook
	nextOrder int

	cfg config.HooksConfig
}

// New creates an Orchestrator and registers the built-in concrete-task
// admission hook from cfg.
func New(cfg config.HooksConfig) *Orchestrator {
	o := &Orchestrator{hooks: make(map[Event][]*Hook), cfg: cfg}
	o.Register(EventPreSpawn, &Hook{
		Name:     "concrete-task-validation",
		Priority: 100,
		Handler:  o.validateConcreteTask,
	})
	return o
}

// Register adds h under event. Safe for concurrent use.
func (o *Orchestrator) Register(event Event, h *Hook) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h.order = o.nextOrder
	o.nextOrder++
	o.hooks[event] = append(o.hooks[event], h)
	sort.SliceStable(o.hooks[event], func(i, j int) bool {
		a, b := o.hooks[event][i], o.hooks[event][j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.order < b.order
	})
}

// Unregister removes every hook named name under event.
func (o *Orchestrator) Unregister(event Event, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.hooks[event][:0]
	for _, h := range o.hooks[event] {
		if h.Name != name {
			kept = append(kept, h)
		}
	}
	o.hooks[event] = kept
}

// Trigger runs every hook registered under event, in priority order,
// against args. It returns the effective (possibly rewritten) args and the
// first blocking Verdict encountered, if any — at which point dispatch
// stops short.
func (o *Orchestrator) Trigger(event Event, args map[string]any) (map[string]any, Verdict) {
	o.mu.RLock()
	hooks := make([]*Hook, len(o.hooks[event]))
	copy(hooks, o.hooks[event])
	o.mu.RUnlock()

	effective := args
	for _, h := range hooks {
		v := h.Handler(effective)
		if v.Block {
			return effective, v
		}
		if v.ModifiedArgs != nil {
			effective = v.ModifiedArgs
		}
	}
	return effective, continueVerdict
}

// filePathPattern matches a file-path-like token: contains a path separator
// or a dotted extension.
var filePathPattern = regexp.MustCompile(`[\w.\-]+/[\w.\-/]+|\b[\w\-]+\.[A-Za-z]{1,5}\b`)

// validateConcreteTask enforces spec §4.11's admission policy: the prompt
// must contain an action verb AND either a file-path-like token or a
// concrete noun. Pure-research and TODO-laden prompts are blocked (or
// flagged, if StrictAdmission is false).
func (o *Orchestrator) validateConcreteTask(args map[string]any) Verdict {
	prompt, _ := args["prompt"].(string)
	lower := strings.ToLower(prompt)

	hasVerb := false
	for _, verb := range o.cfg.ActionVerbs {
		if strings.Contains(lower, verb) {
			hasVerb = true
			break
		}
	}

	hasTarget := filePathPattern.MatchString(prompt)
	if !hasTarget {
		for _, noun := range o.cfg.ConcreteNouns {
			if strings.Contains(lower, noun) {
				hasTarget = true
				break
			}
		}
	}

	if hasVerb && hasTarget {
		return continueVerdict
	}

	reason := fmt.Sprintf("prompt %q lacks a concrete action verb and target (file path or noun)", prompt)
	if !o.cfg.StrictAdmission {
		flagged := cloneArgs(args)
		flagged["admissionFlag"] = reason
		return Verdict{ModifiedArgs: flagged}
	}
	return Verdict{Block: true, Reason: reason}
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	return out
}
