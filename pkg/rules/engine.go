// Package rules implements the Rule Engine (C5): a process-wide, read-mostly
// pattern set that detects code-smell / anti-behavior signatures in
// subject-process output, per spec §4.5. The eager-compile-at-registration,
// map-of-compiled-patterns shape follows the teacher's masking service
// (pkg/masking/service.go).
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/codeready-toolchain/overseer/pkg/config"
)

// Severity orders violations for intervention tie-breaking.
type Severity int

// Severity levels, highest first.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func parseSeverity(s string) (Severity, error) {
	switch strings.ToLower(s) {
	case "info":
		return SeverityInfo, nil
	case "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("rules: unknown severity %q", s)
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Action names what the rule engine recommends doing about a match.
type Action string

// Rule actions.
const (
	ActionLog       Action = "log"
	ActionWarn      Action = "warn"
	ActionInterrupt Action = "interrupt"
	ActionRedirect  Action = "redirect"
)

// Rule is a compiled pattern with its metadata.
type Rule struct {
	ID          string
	Name        string
	Description string
	Pattern     *regexp.Regexp
	Severity    Severity
	Action      Action
	AutoFix     bool
	Remediation string

	order int // registration order, for tie-breaking
}

// Violation is a single rule match against a line or code block.
type Violation struct {
	RuleID         string
	RuleName       string
	Severity       Severity
	Action         Action
	Match          string
	Line           string
	ConversationID string
	Remediation    string
}

// ViolationHandler receives every violation as it is produced.
type ViolationHandler func(Violation)

// Engine holds the process-wide rule set. Safe for concurrent use: rule
// mutation is serialized and checks take a read lock, per spec §4.5 ("Rules
// are process-wide shared read-mostly state; updates are serialized").
type Engine struct {
	mu         sync.RWMutex
	rules      []*Rule
	nextOrder  int
	violations map[string][]Violation // conversationID -> violations
	handlers   []ViolationHandler
}

// New creates an Engine with the given initial rule set (typically
// config.Config.Rules, including the built-in rules from defaults.go).
func New(initial map[string]config.RuleConfig) (*Engine, error) {
	e := &Engine{violations: make(map[string][]Violation)}

	ids := make([]string, 0, len(initial))
	for id := range initial {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := e.AddRule(id, initial[id]); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AddRule compiles and registers (or replaces) a rule.
func (e *Engine) AddRule(id string, cfg config.RuleConfig) error {
	pattern, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return fmt.Errorf("rules: compiling pattern for %s: %w", id, err)
	}
	severity, err := parseSeverity(cfg.Severity)
	if err != nil {
		return fmt.Errorf("rules: %s: %w", id, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			break
		}
	}

	order := e.nextOrder
	e.nextOrder++
	e.rules = append(e.rules, &Rule{
		ID:          id,
		Name:        cfg.Name,
		Description: cfg.Description,
		Pattern:     pattern,
		Severity:    severity,
		Action:      Action(cfg.Action),
		AutoFix:     cfg.AutoFix,
		Remediation: cfg.Remediation,
		order:       order,
	})
	return nil
}

// RemoveRule deletes a rule by id. A no-op if the id is unknown.
func (e *Engine) RemoveRule(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.rules {
		if r.ID == id {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return
		}
	}
}

// CheckLine evaluates every rule against line and returns all violations —
// per spec §4.5, all matching rules emit, not just the highest severity.
func (e *Engine) CheckLine(line, conversationID string) []Violation {
	return e.check(line, conversationID)
}

// CheckBlock evaluates every rule against a code block's full text.
func (e *Engine) CheckBlock(code, conversationID string) []Violation {
	return e.check(code, conversationID)
}

func (e *Engine) check(text, conversationID string) []Violation {
	e.mu.RLock()
	rules := make([]*Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	var out []Violation
	for _, r := range rules {
		loc := r.Pattern.FindStringIndex(text)
		if loc == nil {
			continue
		}
		v := Violation{
			RuleID:         r.ID,
			RuleName:       r.Name,
			Severity:       r.Severity,
			Action:         r.Action,
			Match:          text[loc[0]:loc[1]],
			Line:           text,
			ConversationID: conversationID,
			Remediation:    strings.ReplaceAll(r.Remediation, "{match}", text[loc[0]:loc[1]]),
		}
		out = append(out, v)
		e.record(conversationID, v)
		e.notify(v)
	}
	return out
}

func (e *Engine) record(conversationID string, v Violation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.violations[conversationID] = append(e.violations[conversationID], v)
}

func (e *Engine) notify(v Violation) {
	e.mu.RLock()
	handlers := make([]ViolationHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()
	for _, h := range handlers {
		h(v)
	}
}

// OnViolation registers a handler invoked synchronously for every violation
// produced by CheckLine/CheckBlock, in registration order.
func (e *Engine) OnViolation(h ViolationHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, h)
}

// Violations returns recorded violations, optionally filtered to a single
// conversation id (empty string returns all, oldest first).
func (e *Engine) Violations(conversationID string) []Violation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if conversationID != "" {
		out := make([]Violation, len(e.violations[conversationID]))
		copy(out, e.violations[conversationID])
		return out
	}
	var out []Violation
	ids := make([]string, 0, len(e.violations))
	for id := range e.violations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, e.violations[id]...)
	}
	return out
}

// Clear discards all recorded violations (rules themselves are untouched).
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.violations = make(map[string][]Violation)
}

// ExportRules returns the current rule set as its on-disk config form,
// suitable for round-tripping through YAML via config.RuleConfig.
func (e *Engine) ExportRules() map[string]config.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]config.RuleConfig, len(e.rules))
	for _, r := range e.rules {
		out[r.ID] = config.RuleConfig{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Pattern:     r.Pattern.String(),
			Severity:    r.Severity.String(),
			Action:      string(r.Action),
			AutoFix:     r.AutoFix,
			Remediation: r.Remediation,
		}
	}
	return out
}

// ImportRules replaces the entire rule set with cfgs, preserving iteration
// order by sorted id for deterministic tie-breaking on re-import.
func (e *Engine) ImportRules(cfgs map[string]config.RuleConfig) error {
	e.mu.Lock()
	e.rules = nil
	e.nextOrder = 0
	e.mu.Unlock()

	ids := make([]string, 0, len(cfgs))
	for id := range cfgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := e.AddRule(id, cfgs[id]); err != nil {
			return err
		}
	}
	return nil
}

// GenerateIntervention picks the maximum-severity violation (ties broken by
// rule registration order) and returns its remediation text, or empty if
// violations is empty or none carry remediation text.
func (e *Engine) GenerateIntervention(violations []Violation) string {
	if len(violations) == 0 {
		return ""
	}

	e.mu.RLock()
	orderOf := make(map[string]int, len(e.rules))
	for _, r := range e.rules {
		orderOf[r.ID] = r.order
	}
	e.mu.RUnlock()

	best := violations[0]
	bestOrder := orderOf[best.RuleID]
	for _, v := range violations[1:] {
		order := orderOf[v.RuleID]
		if v.Severity > best.Severity || (v.Severity == best.Severity && order < bestOrder) {
			best = v
			bestOrder = order
		}
	}
	return best.Remediation
}
