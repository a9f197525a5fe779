// Package aggregator implements the Stream Aggregator (C9): it multiplexes
// many attached children (one per running task) into a single ordered,
// prefixed, optionally color-tagged output stream, and tracks per-child and
// global metrics, per spec §4.9. The attach/detach/broadcast bookkeeping
// follows the teacher's ConnectionManager (pkg/events/manager.go) —
// registration maps guarded by their own mutex, snapshot-then-release before
// any blocking I/O.
package aggregator

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

// palette is the fixed, cycling set of ANSI colors assigned to children in
// attach order.
var palette = []string{
	"\x1b[31m", // red
	"\x1b[32m", // green
	"\x1b[33m", // yellow
	"\x1b[34m", // blue
	"\x1b[35m", // magenta
	"\x1b[36m", // cyan
}

const ansiReset = "\x1b[0m"

// Line is one completed, prefixed line of child output.
type Line struct {
	ShortID string
	Color   string
	Text    string
	At      time.Time
}

// ChildComplete is emitted when a child is detached.
type ChildComplete struct {
	ShortID       string
	Duration      time.Duration
	LineCount     int
	Interventions int
	At            time.Time
}

// Metrics is a per-child snapshot, per spec §4.9.
type Metrics struct {
	ShortID       string
	Bytes         int64
	Lines         int
	Interventions int
	LastActivity  time.Time
	Uptime        time.Duration
}

// GlobalStats summarizes all currently attached children.
type GlobalStats struct {
	ActiveCount   int
	TotalBytes    int64
	TotalLines    int
	TotalChildIDs int
}

// LineHandler receives every completed Line in arrival order.
type LineHandler func(Line)

// CompleteHandler receives every ChildComplete as a child is detached.
type CompleteHandler func(ChildComplete)

type child struct {
	shortID       string
	color         string
	attachedAt    time.Time
	lastActivity  time.Time
	bytes         int64
	lines         int
	interventions int
	pending       bytes.Buffer
}

// Aggregator multiplexes many children's byte streams into ordered Lines.
type Aggregator struct {
	mu       sync.Mutex
	children map[string]*child
	nextHue  int
	totalIDs int

	lineHandler     LineHandler
	completeHandler CompleteHandler

	colorize bool
}

// New creates an Aggregator. colorize controls whether ANSI color codes are
// embedded in Line.Text (the caller decides this from whether its output
// sink is a TTY — the Aggregator itself has no terminal awareness).
func New(colorize bool, lineHandler LineHandler, completeHandler CompleteHandler) *Aggregator {
	return &Aggregator{
		children:        make(map[string]*child),
		lineHandler:     lineHandler,
		completeHandler: completeHandler,
		colorize:        colorize,
	}
}

// Attach registers a new child and returns its assigned short id.
func (a *Aggregator) Attach() (string, error) {
	shortID, err := newShortID()
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	c := &child{
		shortID:      shortID,
		color:        palette[a.nextHue%len(palette)],
		attachedAt:   time.Now(),
		lastActivity: time.Now(),
	}
	a.nextHue++
	a.totalIDs++
	a.children[shortID] = c
	return shortID, nil
}

func newShortID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("aggregator: generate short id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Feed appends chunk to shortID's pending buffer, emitting one Line per
// completed line. Unterminated trailing bytes remain buffered until the next
// Feed or Detach.
func (a *Aggregator) Feed(shortID string, chunk []byte) {
	a.mu.Lock()
	c, ok := a.children[shortID]
	if !ok {
		a.mu.Unlock()
		return
	}
	c.bytes += int64(len(chunk))
	c.lastActivity = time.Now()
	c.pending.Write(chunk)

	var lines []Line
	for {
		b := c.pending.Bytes()
		idx := bytes.IndexByte(b, '\n')
		if idx < 0 {
			break
		}
		text := string(b[:idx])
		c.pending.Next(idx + 1)
		c.lines++
		lines = append(lines, a.buildLineLocked(c, text))
	}
	a.mu.Unlock()

	for _, l := range lines {
		a.emitLine(l)
	}
}

func (a *Aggregator) buildLineLocked(c *child, text string) Line {
	displayed := text
	if a.colorize {
		displayed = c.color + "[" + c.shortID + "] " + ansiReset + text
	} else {
		displayed = "[" + c.shortID + "] " + text
	}
	return Line{ShortID: c.shortID, Color: c.color, Text: displayed, At: time.Now()}
}

// RecordIntervention increments shortID's intervention counter, used for the
// per-child metrics and the eventual ChildComplete.
func (a *Aggregator) RecordIntervention(shortID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.children[shortID]; ok {
		c.interventions++
	}
}

// Metrics returns a snapshot of shortID's counters, or (Metrics{}, false) if
// unknown.
func (a *Aggregator) Metrics(shortID string) (Metrics, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.children[shortID]
	if !ok {
		return Metrics{}, false
	}
	return Metrics{
		ShortID:       c.shortID,
		Bytes:         c.bytes,
		Lines:         c.lines,
		Interventions: c.interventions,
		LastActivity:  c.lastActivity,
		Uptime:        time.Since(c.attachedAt),
	}, true
}

// GlobalStats returns totals across all currently attached children.
func (a *Aggregator) GlobalStats() GlobalStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := GlobalStats{ActiveCount: len(a.children), TotalChildIDs: a.totalIDs}
	for _, c := range a.children {
		stats.TotalBytes += c.bytes
		stats.TotalLines += c.lines
	}
	return stats
}

// Detach flushes any unterminated trailing bytes as a final Line, removes
// shortID, and emits a ChildComplete.
func (a *Aggregator) Detach(shortID string) {
	a.mu.Lock()
	c, ok := a.children[shortID]
	if !ok {
		a.mu.Unlock()
		return
	}
	var flush *Line
	if c.pending.Len() > 0 {
		c.lines++
		line := a.buildLineLocked(c, c.pending.String())
		flush = &line
	}
	delete(a.children, shortID)
	complete := ChildComplete{
		ShortID:       c.shortID,
		Duration:      time.Since(c.attachedAt),
		LineCount:     c.lines,
		Interventions: c.interventions,
		At:            time.Now(),
	}
	a.mu.Unlock()

	if flush != nil {
		a.emitLine(*flush)
	}
	if a.completeHandler != nil {
		a.completeHandler(complete)
	}
}

func (a *Aggregator) emitLine(l Line) {
	if a.lineHandler != nil {
		a.lineHandler(l)
	}
}

// WriteTo writes every currently attached child's pending (unterminated)
// buffer contents to w, for diagnostic snapshotting. Returns the number of
// bytes written.
func (a *Aggregator) WriteTo(w io.Writer) (int64, error) {
	a.mu.Lock()
	type snapshot struct {
		shortID string
		text    string
	}
	snaps := make([]snapshot, 0, len(a.children))
	for id, c := range a.children {
		if c.pending.Len() > 0 {
			snaps = append(snaps, snapshot{id, c.pending.String()})
		}
	}
	a.mu.Unlock()

	var total int64
	for _, s := range snaps {
		n, err := fmt.Fprintf(w, "[%s] %s\n", s.shortID, s.text)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
