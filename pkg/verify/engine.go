// Package verify implements the Verification Engine (C12): an offline
// replay over the Conversation Store that runs a declarative rule set
// against a conversation's actions and returns a pass/fail verdict plus
// accumulated metrics, per spec §4.12. The accumulator-over-ordered-rows
// shape follows the teacher's stats aggregation (pkg/store/stats.go) and
// session-scoring conventions (pkg/services/scoring_service.go).
package verify

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/overseer/pkg/store"
)

// Store is the subset of *store.Store the Verification Engine reads from.
type Store interface {
	GetActions(ctx context.Context, conversationID string) ([]store.Action, error)
	GetConversationTree(ctx context.Context, rootID string) ([]store.Conversation, error)
}

// Metrics accumulates counts over a conversation's actions, per spec §4.12.
type Metrics struct {
	FilesCreated         int
	FilesModified        int
	TodosFound           int
	CodeBlocks           int
	ActualImplementation int // file-touch actions, the signal that work actually happened
}

// Violation is a single rule failure produced by a Report.
type Violation struct {
	RuleID         string
	ConversationID string
	Reason         string
}

// Report is the result of verifying one conversation.
type Report struct {
	ConversationID string
	Passed         bool
	Violations     []Violation
	Metrics        Metrics
}

// Rule evaluates a single conversation's ordered actions and appends any
// violations it finds to the accumulating Report.
type Rule interface {
	ID() string
	Check(conversationID string, actions []store.Action, m *Metrics) []Violation
}

// Engine runs the registered rule set against conversations loaded from a
// Store.
type Engine struct {
	store Store
	rules []Rule
}

// New creates an Engine with the given Store and rule set. If rules is
// empty, the built-in files-required and code-to-files rules are used.
func New(s Store, rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = []Rule{FilesRequiredRule{MinActions: 5}, CodeToFilesRule{Window: 3}}
	}
	return &Engine{store: s, rules: rules}
}

// Verify replays a single conversation (not its descendants) and returns a
// verdict.
func (e *Engine) Verify(ctx context.Context, conversationID string) (Report, error) {
	actions, err := e.store.GetActions(ctx, conversationID)
	if err != nil {
		return Report{}, fmt.Errorf("verify: loading actions for %s: %w", conversationID, err)
	}
	return e.verifyActions(conversationID, actions), nil
}

// VerifyTree replays rootID and every descendant conversation, returning
// one Report per conversation in the tree (ordered depth-then-start-time,
// as returned by the Store).
func (e *Engine) VerifyTree(ctx context.Context, rootID string) ([]Report, error) {
	tree, err := e.store.GetConversationTree(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("verify: loading conversation tree for %s: %w", rootID, err)
	}

	reports := make([]Report, 0, len(tree))
	for _, c := range tree {
		actions, err := e.store.GetActions(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("verify: loading actions for %s: %w", c.ID, err)
		}
		reports = append(reports, e.verifyActions(c.ID, actions))
	}
	return reports, nil
}

// VerifyRealtime checks only the latest action against the rule set and
// returns any violations it produces — no pass/fail verdict, no Metrics
// snapshot, matching spec §4.12's real-time variant.
func (e *Engine) VerifyRealtime(conversationID string, allActionsSoFar []store.Action) []Violation {
	if len(allActionsSoFar) == 0 {
		return nil
	}
	m := computeMetrics(allActionsSoFar)
	var out []Violation
	for _, r := range e.rules {
		out = append(out, r.Check(conversationID, allActionsSoFar, &m)...)
	}
	return out
}

func (e *Engine) verifyActions(conversationID string, actions []store.Action) Report {
	m := computeMetrics(actions)
	var violations []Violation
	for _, r := range e.rules {
		violations = append(violations, r.Check(conversationID, actions, &m)...)
	}
	return Report{
		ConversationID: conversationID,
		Passed:         len(violations) == 0,
		Violations:     violations,
		Metrics:        m,
	}
}

// computeMetrics tallies a Metrics from actions, shared by both rules below
// so each conversation's actions are scanned once per rule invocation
// rather than once per metric.
func computeMetrics(actions []store.Action) Metrics {
	var m Metrics
	for _, a := range actions {
		switch a.Kind {
		case store.ActionFileCreated:
			m.FilesCreated++
			m.ActualImplementation++
		case store.ActionFileModified:
			m.FilesModified++
			m.ActualImplementation++
		case store.ActionCodeBlock:
			m.CodeBlocks++
		case store.ActionOutput, store.ActionOutputChunk:
			// scanned for TODO markers below
		}
		if containsTodoMarker(a.Content) {
			m.TodosFound++
		}
	}
	return m
}

func isFileTouch(a store.Action) bool {
	return a.Kind == store.ActionFileCreated || a.Kind == store.ActionFileModified
}
