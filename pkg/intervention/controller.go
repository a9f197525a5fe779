// Package intervention implements the Intervention Controller (C7): it
// closes the loop between Rule Engine / Thought Monitor detections and PTY
// writes, per spec §4.7. The per-task mutex-guarded state and queue-drain
// style follow the teacher's worker pool conventions
// (pkg/queue/worker.go, pkg/queue/pool.go).
package intervention

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"sync"
	"time"

	"github.com/codeready-toolchain/overseer/pkg/config"
)

// Writer is the subset of ptyexec.Executor the controller needs to inject
// text into the subject process. Declared locally to avoid a dependency
// cycle between pkg/intervention and pkg/ptyexec.
type Writer interface {
	Write([]byte) (int, error)
}

// escapeByte is the in-band "stop generating" signal sent to the subject
// before injecting remediation text, per spec §4.7's interrupt protocol.
const escapeByte = 0x1b // ESC

// submissionSequence terminates injected text, distinct from embedded
// newlines within the remediation text itself.
const submissionSequence = "\n"

// ApprovalDecision is the outcome recorded for a pending approval.
type ApprovalDecision struct {
	Approved      bool
	Modifications string
}

// taskState holds the per-task intervention state named in spec §4.7.
type taskState struct {
	mu               sync.Mutex
	paused           bool
	queuedInjections []string
	pendingApprovals map[string]chan ApprovalDecision
}

func newTaskState() *taskState {
	return &taskState{pendingApprovals: make(map[string]chan ApprovalDecision)}
}

// autoApprovalPrompt detects an interactive confirmation of the form
// "Do you want to create … 1. Yes", per spec §4.7's auto-approval heuristic.
var autoApprovalPrompt = regexp.MustCompile(`(?i)Do you want to [\w\s]+\s*\.\.\.\s*\n?\s*1\.\s*Yes`)

// ApprovalPattern pairs a detector over streamed text with the literal bytes
// written to accept the prompt it recognizes. Patterns are tried in
// registration order; the first match wins.
type ApprovalPattern struct {
	Name     string
	Detector func(streamText string) bool
	Response []byte
}

// Controller mediates between detections and a task's subject process.
type Controller struct {
	cfg config.InterventionConfig

	mu    sync.Mutex
	tasks map[string]*taskState

	writers map[string]Writer

	approvalMu       sync.RWMutex
	approvalPatterns []ApprovalPattern
}

// New creates a Controller, seeded with the default "Do you want to create
// … 1. Yes" auto-approval pattern.
func New(cfg config.InterventionConfig) *Controller {
	c := &Controller{
		cfg:     cfg,
		tasks:   make(map[string]*taskState),
		writers: make(map[string]Writer),
	}
	c.AddApprovalPattern(ApprovalPattern{
		Name:     "default-yes-prompt",
		Detector: autoApprovalPrompt.MatchString,
		Response: []byte("1\n"),
	})
	return c
}

// AddApprovalPattern registers an additional auto-approval pattern at
// runtime, appended after any already registered, mirroring C5's AddRule.
func (c *Controller) AddApprovalPattern(p ApprovalPattern) {
	c.approvalMu.Lock()
	defer c.approvalMu.Unlock()
	c.approvalPatterns = append(c.approvalPatterns, p)
}

// Attach associates a task id with the Writer used to inject text into its
// subject process. Must be called before Inject/Abort/Redirect for that task.
func (c *Controller) Attach(taskID string, w Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writers[taskID] = w
	if _, ok := c.tasks[taskID]; !ok {
		c.tasks[taskID] = newTaskState()
	}
}

// Detach releases a task's state and writer, e.g. on task completion.
func (c *Controller) Detach(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.writers, taskID)
	delete(c.tasks, taskID)
}

func (c *Controller) stateFor(taskID string) *taskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.tasks[taskID]
	if !ok {
		st = newTaskState()
		c.tasks[taskID] = st
	}
	return st
}

func (c *Controller) writerFor(taskID string) Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writers[taskID]
}

// Inject writes text to the subject process immediately if running and not
// paused; otherwise it queues the text for delivery on Resume. Ordering is
// FIFO.
func (c *Controller) Inject(taskID, text string) error {
	st := c.stateFor(taskID)

	st.mu.Lock()
	if st.paused {
		st.queuedInjections = append(st.queuedInjections, text)
		st.mu.Unlock()
		return nil
	}
	st.mu.Unlock()

	return c.writeNow(taskID, text)
}

func (c *Controller) writeNow(taskID, text string) error {
	w := c.writerFor(taskID)
	if w == nil {
		return fmt.Errorf("intervention: no writer attached for task %s", taskID)
	}
	if c.cfg.HumanLikeTyping {
		return c.writeHumanLike(w, text)
	}
	_, err := w.Write([]byte(text))
	return err
}

func (c *Controller) writeHumanLike(w Writer, text string) error {
	minDelay := c.cfg.TypingDelayMin
	maxDelay := c.cfg.TypingDelayMax
	if minDelay <= 0 {
		minDelay = 50 * time.Millisecond
	}
	if maxDelay <= minDelay {
		maxDelay = minDelay + 100*time.Millisecond
	}
	for _, r := range text {
		if _, err := w.Write([]byte(string(r))); err != nil {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(maxDelay - minDelay)))
		time.Sleep(minDelay + jitter)
	}
	return nil
}

// Pause suppresses injection delivery for a task; reads (C3) are
// unaffected. Injections made while paused queue and drain on Resume.
func (c *Controller) Pause(taskID, reason string) {
	st := c.stateFor(taskID)
	st.mu.Lock()
	st.paused = true
	st.mu.Unlock()
	_ = reason
}

// Resume un-pauses a task and drains any queued injections in FIFO order.
func (c *Controller) Resume(taskID string) error {
	st := c.stateFor(taskID)

	st.mu.Lock()
	st.paused = false
	queued := st.queuedInjections
	st.queuedInjections = nil
	st.mu.Unlock()

	for _, text := range queued {
		if err := c.writeNow(taskID, text); err != nil {
			return err
		}
	}
	return nil
}

// Abort writes a standard abort preamble to the subject then kills the PTY
// via kill. reason is recorded for the resulting task-aborted action but not
// written to the subject.
func (c *Controller) Abort(ctx context.Context, taskID, reason string, kill func() error) error {
	_ = c.writeNow(taskID, "\n[overseer] Aborting task: "+reason+"\n")
	if kill != nil {
		return kill()
	}
	return nil
}

// Redirect performs the composite interrupt → quiesce → inject sequence
// described in spec §4.7.
func (c *Controller) Redirect(ctx context.Context, taskID, newDirection string) error {
	if err := c.interrupt(taskID); err != nil {
		return err
	}

	quiesce := c.cfg.InterruptQuiesce
	if quiesce <= 0 {
		quiesce = time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(quiesce):
	}

	return c.Inject(taskID, newDirection+submissionSequence)
}

// interrupt sends the escape byte that the subject's runtime treats as
// "stop generating".
func (c *Controller) interrupt(taskID string) error {
	w := c.writerFor(taskID)
	if w == nil {
		return fmt.Errorf("intervention: no writer attached for task %s", taskID)
	}
	_, err := w.Write([]byte{escapeByte})
	return err
}

// RequireApproval registers op as pending and returns a channel that
// receives the eventual ApprovalDecision. Callers gate the sensitive
// operation on this channel (or poll via IsPending).
func (c *Controller) RequireApproval(taskID, opID string) <-chan ApprovalDecision {
	st := c.stateFor(taskID)
	st.mu.Lock()
	defer st.mu.Unlock()
	ch := make(chan ApprovalDecision, 1)
	st.pendingApprovals[opID] = ch
	return ch
}

// IsSensitive reports whether opName matches the configured sensitive
// operations list and therefore requires RequireApproval before proceeding.
func (c *Controller) IsSensitive(opName string) bool {
	for _, s := range c.cfg.SensitiveOperations {
		if s == opName {
			return true
		}
	}
	return false
}

// Approve resolves a pending approval. A no-op if opID was never registered
// or has already been resolved.
func (c *Controller) Approve(taskID, opID string, approved bool, modifications string) {
	st := c.stateFor(taskID)
	st.mu.Lock()
	ch, ok := st.pendingApprovals[opID]
	if ok {
		delete(st.pendingApprovals, opID)
	}
	st.mu.Unlock()
	if !ok {
		return
	}
	ch <- ApprovalDecision{Approved: approved, Modifications: modifications}
	close(ch)
}

// MaybeAutoApprove checks streamText against the registered approval
// patterns, in registration order, and writes the response of the first
// match. Returns true if it acted.
func (c *Controller) MaybeAutoApprove(taskID, streamText string) (bool, error) {
	if !c.cfg.AutoApprove {
		return false, nil
	}

	c.approvalMu.RLock()
	patterns := make([]ApprovalPattern, len(c.approvalPatterns))
	copy(patterns, c.approvalPatterns)
	c.approvalMu.RUnlock()

	for _, p := range patterns {
		if p.Detector(streamText) {
			return true, c.writeNow(taskID, string(p.Response))
		}
	}
	return false, nil
}

// ContextualHelp synthesizes a generic suggestion list from context and
// injects it as a guidance message.
func (c *Controller) ContextualHelp(taskID, context string) error {
	suggestions := buildContextualSuggestions(context)
	if suggestions == "" {
		return nil
	}
	return c.Inject(taskID, suggestions)
}

func buildContextualSuggestions(context string) string {
	if context == "" {
		return ""
	}
	return "[overseer] Suggestion based on recent context:\n" + context + "\n" +
		"Consider: checking existing library functions, verifying file paths, and re-reading the task prompt before retrying."
}

// IsPaused reports whether injections are currently suppressed for a task.
func (c *Controller) IsPaused(taskID string) bool {
	st := c.stateFor(taskID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.paused
}
