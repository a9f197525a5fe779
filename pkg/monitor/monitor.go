// Package monitor implements the Thought Monitor (C6): a streaming detector
// over a rolling character buffer with stall detection and repeat-access
// tracking, per spec §4.6. The ticker-driven background timer follows the
// teacher's worker heartbeat convention (pkg/queue/worker.go's
// runHeartbeat).
package monitor

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/codeready-toolchain/overseer/pkg/config"
)

// DetectionKind discriminates what a Detection represents.
type DetectionKind string

// Detection kinds, per spec §4.6.
const (
	KindPlanningLanguage DetectionKind = "planning-language"
	KindResearchLoop     DetectionKind = "research-loop"
	KindTodoViolation    DetectionKind = "todo-violation"
	KindSuccessSignal    DetectionKind = "success-signal"
	KindStall            DetectionKind = "stall"
)

// RoutedAction is the emission routed alongside every per-pattern Detection,
// per the rule's action (spec §4.6).
type RoutedAction string

// Routed actions.
const (
	RouteInterruptRequired RoutedAction = "interrupt-required"
	RouteRedirectRequired  RoutedAction = "redirect-required"
	RouteWarning           RoutedAction = "warning"
	RouteInfo              RoutedAction = "info"
)

// Severity mirrors pkg/rules' ordering for consistency across components.
type Severity int

// Severity levels, highest first.
const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// Detection is a single occurrence surfaced by the monitor.
type Detection struct {
	Kind     DetectionKind
	Severity Severity
	Route    RoutedAction
	Match    string
	Excerpt  string
	At       time.Time
}

// Handler receives every Detection as it is produced.
type Handler func(Detection)

var (
	planningLanguagePattern = regexp.MustCompile(`(?i)\b(I would|I could|Let me plan|My strategy)\b`)
	researchLoopPattern     = regexp.MustCompile(`(?i)Let me check .* again`)
	fileAccessPattern       = regexp.MustCompile(`(?i)\b(Reading|Checking|Opening|Accessing)\s+([\w./-]+)`)
	todoPattern             = regexp.MustCompile(`(?i)\b(TODO|FIXME)\b|\b(I'll implement this later|left as an exercise)\b`)
	successPattern          = regexp.MustCompile(`(?i)\b(file created|test(s)? passed|completed successfully)\b`)
)

const defaultRepeatThreshold = 4

// Monitor tracks a single conversation's rolling output buffer and stall
// timer. Not safe for concurrent use except via its exported methods, which
// are internally synchronized.
type Monitor struct {
	cfg config.MonitorConfig

	mu           sync.Mutex
	buffer       []byte
	streamPos    int
	lastActivity time.Time
	cooldowns    map[string]time.Time // "patternID:matchedText" -> last emit time

	handler Handler

	stallCancel context.CancelFunc
	stallDone   chan struct{}
}

// New creates a Monitor with the given configuration and detection handler.
func New(cfg config.MonitorConfig, handler Handler) *Monitor {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	return &Monitor{
		cfg:          cfg,
		lastActivity: time.Now(),
		cooldowns:    make(map[string]time.Time),
		handler:      handler,
	}
}

// StartStallTimer begins the background stall-detection timer. Calling it a
// second time without StopStallTimer is a no-op on the previous timer (the
// new one takes over).
func (m *Monitor) StartStallTimer(ctx context.Context) {
	stallCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	m.stallCancel = cancel
	m.stallDone = done
	m.mu.Unlock()

	go m.runStallTimer(stallCtx, done)
}

// StopStallTimer cancels the background stall-detection timer, if running.
func (m *Monitor) StopStallTimer() {
	m.mu.Lock()
	cancel := m.stallCancel
	done := m.stallDone
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) runStallTimer(ctx context.Context, done chan struct{}) {
	defer close(done)
	interval := m.cfg.StallInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			idle := time.Since(m.lastActivity)
			if idle < interval {
				m.mu.Unlock()
				continue
			}
			excerpt := m.tailLocked(200)
			m.mu.Unlock()
			m.emit(Detection{
				Kind:     KindStall,
				Severity: SeverityCritical,
				Route:    RouteInterruptRequired,
				Excerpt:  excerpt,
				At:       time.Now(),
			})
		}
	}
}

// Feed processes a chunk (or single character) of subject-process output,
// updating the rolling buffer and emitting Detections for any patterns
// matched, subject to per-(pattern,match) cooldown.
func (m *Monitor) Feed(chunk []byte) {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.buffer = append(m.buffer, chunk...)
	if excess := len(m.buffer) - m.cfg.BufferSize; excess > 0 {
		m.buffer = m.buffer[excess:]
	}
	m.streamPos += len(chunk)
	text := string(m.buffer)
	m.mu.Unlock()

	m.detect(text)
}

func (m *Monitor) detect(text string) {
	if loc := planningLanguagePattern.FindStringIndex(text); loc != nil {
		m.maybeEmit("planning-language", text[loc[0]:loc[1]], Detection{
			Kind: KindPlanningLanguage, Severity: SeverityWarning, Route: RouteWarning,
		})
	}

	if loc := researchLoopPattern.FindStringIndex(text); loc != nil {
		m.maybeEmit("research-loop-phrase", text[loc[0]:loc[1]], Detection{
			Kind: KindResearchLoop, Severity: SeverityWarning, Route: RouteWarning,
		})
	}
	if repeated, file := m.repeatedFileAccessLocked(text); repeated {
		m.maybeEmit("research-loop-file", file, Detection{
			Kind: KindResearchLoop, Severity: SeverityWarning, Route: RouteWarning,
		})
	}

	if loc := todoPattern.FindStringIndex(text); loc != nil {
		m.maybeEmit("todo-violation", text[loc[0]:loc[1]], Detection{
			Kind: KindTodoViolation, Severity: SeverityError, Route: RouteInterruptRequired,
		})
	}

	if loc := successPattern.FindStringIndex(text); loc != nil {
		m.maybeEmit("success-signal", text[loc[0]:loc[1]], Detection{
			Kind: KindSuccessSignal, Severity: SeverityInfo, Route: RouteInfo,
		})
	}
}

// repeatedFileAccessLocked returns true if the same filename appears in an
// access-verb line at least defaultRepeatThreshold times in the buffer.
func (m *Monitor) repeatedFileAccessLocked(text string) (bool, string) {
	matches := fileAccessPattern.FindAllStringSubmatch(text, -1)
	counts := make(map[string]int)
	for _, match := range matches {
		counts[match[2]]++
	}
	for file, n := range counts {
		if n >= defaultRepeatThreshold {
			return true, file
		}
	}
	return false, ""
}

func (m *Monitor) maybeEmit(patternID, matched string, base Detection) {
	key := patternID + ":" + matched

	m.mu.Lock()
	cooldown := m.cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	last, seen := m.cooldowns[key]
	now := time.Now()
	if seen && now.Sub(last) < cooldown {
		m.mu.Unlock()
		return
	}
	m.cooldowns[key] = now
	m.mu.Unlock()

	base.Match = matched
	base.At = now
	m.emit(base)
}

func (m *Monitor) emit(d Detection) {
	if m.handler != nil {
		m.handler(d)
	}
}

func (m *Monitor) tailLocked(n int) string {
	if len(m.buffer) <= n {
		return string(m.buffer)
	}
	return string(m.buffer[len(m.buffer)-n:])
}

// Reset clears the rolling buffer, stream position, and cooldowns —used
// when a new task begins reusing a pooled Monitor.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = nil
	m.streamPos = 0
	m.lastActivity = time.Now()
	m.cooldowns = make(map[string]time.Time)
}

// StreamPosition returns the total number of bytes fed to the monitor.
func (m *Monitor) StreamPosition() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamPos
}
