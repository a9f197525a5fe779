// Package streamparse transforms raw PTY bytes into typed stream events, per
// spec §4.4 (C4 Stream Parser). The state machine and signature-detection
// style follow the teacher's ReAct response parser
// (pkg/agent/controller/react_parser.go): line-oriented, regex-driven,
// forgiving of malformed input.
package streamparse

import (
	"regexp"
	"strings"
	"time"
)

// EventKind discriminates the kind of a parsed StreamEvent.
type EventKind string

// Stream event kinds, per spec §4.4.
const (
	EventTaskStarted     EventKind = "task-started"
	EventTaskCompleted   EventKind = "task-completed"
	EventCodeBlock       EventKind = "code-block"
	EventFileCreated     EventKind = "file-created"
	EventFileModified    EventKind = "file-modified"
	EventCommandExecuted EventKind = "command-executed"
	EventErrorOccurred   EventKind = "error-occurred"
	EventOutputChunk     EventKind = "output-chunk"
)

// StreamEvent is a single typed occurrence extracted from raw output.
type StreamEvent struct {
	Kind      EventKind
	Timestamp time.Time
	Content   string
	Metadata  map[string]any
}

var (
	codeFencePattern   = regexp.MustCompile("^```([a-zA-Z0-9_+-]*)\\s*$")
	taskStartedPattern = regexp.MustCompile(`(?i)^(starting task|task started|beginning task)\b`)
	taskDonePattern    = regexp.MustCompile(`(?i)^(task complete|task completed|done\.?$|finished task)\b`)

	fileCreatedPattern  = regexp.MustCompile(`(?i)\b(created|wrote|writing)\s+(?:file\s+)?([./\w-]+\.\w+)`)
	fileModifiedPattern = regexp.MustCompile(`(?i)\b(modified|updated|editing|patched)\s+(?:file\s+)?([./\w-]+\.\w+)`)
	commandPattern      = regexp.MustCompile(`(?i)^\$\s*(.+)$|(?i)^(?:running|executing)\s*[:\s]\s*(.+)$`)
	errorPattern        = regexp.MustCompile(`(?i)(error|exception|traceback|panic)`)
)

// parserState tracks the code-fence state machine.
type parserState int

const (
	stateOutsideCodeBlock parserState = iota
	stateInsideCodeBlock
)

// Parser holds per-instance buffered state for a single conversation's
// stream. Not safe for concurrent use by multiple goroutines.
type Parser struct {
	state    parserState
	lang     string
	code     []string
	pending  strings.Builder
}

// New creates a Parser in its initial (outside-code-block) state.
func New() *Parser {
	return &Parser{}
}

// Feed appends raw bytes to the parser's line buffer and returns any
// StreamEvents completed by this chunk. Lines are only recognized once
// terminated by '\n'; a final partial line is retained until the next Feed
// or flushed by Close.
func (p *Parser) Feed(data []byte) []StreamEvent {
	p.pending.Write(data)
	buf := p.pending.String()

	var events []StreamEvent
	for {
		idx := strings.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimRight(buf[:idx], "\r")
		buf = buf[idx+1:]
		events = append(events, p.feedLine(line)...)
	}

	p.pending.Reset()
	p.pending.WriteString(buf)
	return events
}

// Close flushes any partial final line as an output chunk (and any
// still-open code block as a best-effort close) and returns the resulting
// events.
func (p *Parser) Close() []StreamEvent {
	var events []StreamEvent
	if p.pending.Len() > 0 {
		events = append(events, p.feedLine(p.pending.String())...)
		p.pending.Reset()
	}
	if p.state == stateInsideCodeBlock {
		events = append(events, p.closeCodeBlock())
	}
	return events
}

func (p *Parser) feedLine(line string) []StreamEvent {
	now := time.Now()
	trimmed := strings.TrimSpace(line)

	if m := codeFencePattern.FindStringSubmatch(trimmed); m != nil {
		if p.state == stateOutsideCodeBlock {
			p.state = stateInsideCodeBlock
			p.lang = m[1]
			p.code = nil
			return nil
		}
		return []StreamEvent{p.closeCodeBlock()}
	}

	if p.state == stateInsideCodeBlock {
		p.code = append(p.code, line)
		return nil
	}

	if trimmed == "" {
		return nil
	}

	switch {
	case taskStartedPattern.MatchString(trimmed):
		return []StreamEvent{{Kind: EventTaskStarted, Timestamp: now, Content: line}}
	case taskDonePattern.MatchString(trimmed):
		return []StreamEvent{{Kind: EventTaskCompleted, Timestamp: now, Content: line}}
	}

	if m := fileCreatedPattern.FindStringSubmatch(line); m != nil {
		return []StreamEvent{{Kind: EventFileCreated, Timestamp: now, Content: line, Metadata: map[string]any{"path": m[2]}}}
	}
	if m := fileModifiedPattern.FindStringSubmatch(line); m != nil {
		return []StreamEvent{{Kind: EventFileModified, Timestamp: now, Content: line, Metadata: map[string]any{"path": m[2]}}}
	}
	if m := commandPattern.FindStringSubmatch(line); m != nil {
		cmd := m[1]
		if cmd == "" {
			cmd = m[2]
		}
		return []StreamEvent{{Kind: EventCommandExecuted, Timestamp: now, Content: line, Metadata: map[string]any{"command": strings.TrimSpace(cmd)}}}
	}
	if errorPattern.MatchString(line) {
		return []StreamEvent{{Kind: EventErrorOccurred, Timestamp: now, Content: line}}
	}

	// No recognized signature: emit as a plain output chunk.
	return []StreamEvent{{Kind: EventOutputChunk, Timestamp: now, Content: line}}
}

func (p *Parser) closeCodeBlock() StreamEvent {
	ev := StreamEvent{
		Kind:      EventCodeBlock,
		Timestamp: time.Now(),
		Content:   strings.Join(p.code, "\n"),
		Metadata:  map[string]any{"language": p.lang},
	}
	p.state = stateOutsideCodeBlock
	p.lang = ""
	p.code = nil
	return ev
}
