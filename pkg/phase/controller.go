// Package phase implements the Phase Controller (C8): an optional four-stage
// state machine (research, planning, execution, integration) gating tool use
// by an allow/deny set and a time budget per phase, per spec §4.8. Phase is
// attached per task the same way pkg/monitor.Monitor is — one Controller per
// running task, methods internally synchronized.
package phase

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/codeready-toolchain/overseer/pkg/config"
)

// TransitionKind discriminates why a phase ended.
type TransitionKind string

// Transition kinds.
const (
	TransitionAdvanced      TransitionKind = "advanced"
	TransitionBudgetForced  TransitionKind = "budget-forced"
	TransitionOutputReached TransitionKind = "output-reached"
)

// Phase is the compiled, runtime form of a config.PhaseTemplateConfig.
type Phase struct {
	Tag            string
	Budget         time.Duration
	AllowedTools   []string
	ForbiddenTools []string
	OutputFile     string
	SuccessPattern *regexp.Regexp
	PromptTemplate string
}

func compilePhase(cfg config.PhaseTemplateConfig) (*Phase, error) {
	p := &Phase{
		Tag:            cfg.Tag,
		Budget:         cfg.Budget,
		AllowedTools:   cfg.AllowedTools,
		ForbiddenTools: cfg.ForbiddenTools,
		OutputFile:     cfg.OutputFile,
		PromptTemplate: cfg.PromptTemplate,
	}
	if cfg.SuccessPattern != "" {
		re, err := regexp.Compile(cfg.SuccessPattern)
		if err != nil {
			return nil, fmt.Errorf("phase %s: compile success_pattern: %w", cfg.Tag, err)
		}
		p.SuccessPattern = re
	}
	return p, nil
}

// isAllowed reports whether tool may be used in this phase. An explicit
// AllowedTools set, if non-empty, acts as an allow-list; ForbiddenTools
// always denies regardless of the allow-list.
func (p *Phase) isAllowed(tool string) bool {
	for _, f := range p.ForbiddenTools {
		if f == tool {
			return false
		}
	}
	if len(p.AllowedTools) == 0 {
		return true
	}
	for _, a := range p.AllowedTools {
		if a == tool {
			return true
		}
	}
	return false
}

// Event is emitted on every phase transition.
type Event struct {
	Kind   TransitionKind
	From   string // empty on the initial Start
	To     string // empty when the task has completed all phases
	At     time.Time
	Prompt string // rendered prompt for To, empty when To is empty
}

// Handler receives every Event as it is produced.
type Handler func(Event)

// Controller drives a task through an ordered sequence of phases.
type Controller struct {
	mu     sync.Mutex
	phases []*Phase
	idx    int
	start  time.Time
	done   bool

	handler Handler
}

// New builds a Controller that walks order, looking up each tag in phases.
// order is typically []string{"research", "planning", "execution", "integration"}
// but may be any subset/arrangement a task's config requests.
func New(order []string, phases map[string]config.PhaseTemplateConfig, handler Handler) (*Controller, error) {
	compiled := make([]*Phase, 0, len(order))
	for _, tag := range order {
		cfg, ok := phases[tag]
		if !ok {
			return nil, fmt.Errorf("phase: unknown phase tag %q", tag)
		}
		p, err := compilePhase(cfg)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, p)
	}
	return &Controller{phases: compiled, handler: handler}, nil
}

// Start begins the first phase and returns its rendered prompt.
func (c *Controller) Start() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.phases) == 0 {
		c.done = true
		return "", nil
	}
	c.idx = 0
	c.start = time.Now()

	p := c.phases[0]
	prompt, err := renderPrompt(p)
	if err != nil {
		return "", err
	}
	c.emit(Event{Kind: TransitionAdvanced, From: "", To: p.Tag, At: c.start, Prompt: prompt})
	return prompt, nil
}

// Current returns the active phase, or nil if the task has not started or
// has completed all phases.
func (c *Controller) Current() *Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *Controller) currentLocked() *Phase {
	if c.done || c.idx >= len(c.phases) {
		return nil
	}
	return c.phases[c.idx]
}

// Done reports whether the task has advanced past its last phase.
func (c *Controller) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// CheckTool reports whether tool is permitted in the current phase. When
// denied, remediation is a message suitable for injection via C7 explaining
// what is and isn't allowed; no transition occurs.
func (c *Controller) CheckTool(tool string) (allowed bool, remediation string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.currentLocked()
	if p == nil {
		return true, ""
	}
	if p.isAllowed(tool) {
		return true, ""
	}
	return false, fmt.Sprintf(
		"%q is not available during the %s phase. Allowed tools: %s.",
		tool, p.Tag, strings.Join(p.AllowedTools, ", "),
	)
}

// ObserveFile is called whenever the Stream Parser reports a file-created or
// file-modified event. If path matches the current phase's configured
// OutputFile, the phase is immediately advanced (success), regardless of
// remaining budget.
func (c *Controller) ObserveFile(path string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.currentLocked()
	if p == nil || p.OutputFile == "" || path != p.OutputFile {
		return Event{}, false
	}
	return c.advanceLocked(TransitionOutputReached), true
}

// ObserveText is called with recent subject output. If the current phase's
// SuccessPattern matches, the phase is immediately advanced.
func (c *Controller) ObserveText(text string) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.currentLocked()
	if p == nil || p.SuccessPattern == nil || !p.SuccessPattern.MatchString(text) {
		return Event{}, false
	}
	return c.advanceLocked(TransitionOutputReached), true
}

// CheckBudget forces a transition if the current phase has exceeded its time
// budget. Returns (event, true) if a transition occurred.
func (c *Controller) CheckBudget(now time.Time) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.currentLocked()
	if p == nil || p.Budget <= 0 {
		return Event{}, false
	}
	if now.Sub(c.start) < p.Budget {
		return Event{}, false
	}
	return c.advanceLocked(TransitionBudgetForced), true
}

// advanceLocked moves to the next phase (or marks the task done) and emits
// the resulting Event. Caller must hold c.mu.
func (c *Controller) advanceLocked(kind TransitionKind) Event {
	from := c.phases[c.idx].Tag
	c.idx++
	c.start = time.Now()

	if c.idx >= len(c.phases) {
		c.done = true
		ev := Event{Kind: kind, From: from, To: "", At: c.start}
		c.emit(ev)
		return ev
	}

	next := c.phases[c.idx]
	prompt, err := renderPrompt(next)
	if err != nil {
		prompt = next.PromptTemplate
	}
	ev := Event{Kind: kind, From: from, To: next.Tag, At: c.start, Prompt: prompt}
	c.emit(ev)
	return ev
}

func (c *Controller) emit(ev Event) {
	if c.handler != nil {
		c.handler(ev)
	}
}

func renderPrompt(p *Phase) (string, error) {
	if p.PromptTemplate == "" {
		return "", nil
	}
	tmpl, err := template.New(p.Tag).Parse(p.PromptTemplate)
	if err != nil {
		return "", fmt.Errorf("phase %s: parse prompt template: %w", p.Tag, err)
	}
	var buf bytes.Buffer
	data := struct {
		Budget       time.Duration
		AllowedTools []string
		OutputFile   string
	}{p.Budget, p.AllowedTools, p.OutputFile}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("phase %s: render prompt template: %w", p.Tag, err)
	}
	return buf.String(), nil
}
