// Package ptyexec spawns a subject process attached to a pseudo-terminal
// and exposes its byte stream, per spec §4.3 (C3 PTY Executor).
package ptyexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// ErrAlreadyRunning is returned by Execute when the executor already has an
// active child process — exactly one Execute may be in flight per instance.
var ErrAlreadyRunning = errors.New("ptyexec: execute already in progress")

// heartbeatSentinel is written to the child's stdin to defeat idle-timeout
// logic without appearing in observable output. NUL is invisible to
// terminal rendering and to line-oriented parsing.
const heartbeatSentinel = '\x00'

// EventKind discriminates the events an Executor emits.
type EventKind string

// Event kinds emitted by Execute.
const (
	EventData      EventKind = "data"
	EventHeartbeat EventKind = "heartbeat"
	EventExit      EventKind = "exit"
)

// Event is a single occurrence on the executor's output stream.
type Event struct {
	Kind     EventKind
	TaskID   string
	Data     []byte // raw byte window, set for EventData
	ExitCode int     // set for EventExit
	Signal   string  // set for EventExit, empty if the process exited normally
}

// Handler receives Executor events. It must not block significantly: slow
// handlers delay delivery of subsequent bytes since Execute delivers
// synchronously off the read loop.
type Handler func(Event)

// Options configures a pseudo-terminal spawn.
type Options struct {
	Rows uint16
	Cols uint16
	// HeartbeatInterval is the period between keepalive writes. Default 180s
	// per spec §4.3; zero disables the heartbeat.
	HeartbeatInterval time.Duration
	// RetentionBytes bounds the size of the buffer returned by Output.
	// Zero means unbounded.
	RetentionBytes int
	Env            []string
	Dir            string
}

func (o Options) withDefaults() Options {
	if o.Rows == 0 {
		o.Rows = 24
	}
	if o.Cols == 0 {
		o.Cols = 80
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 180 * time.Second
	}
	return o
}

// Executor spawns one subject process at a time inside a pseudo-terminal.
// Safe for concurrent Write/Kill/Output calls from event handlers.
type Executor struct {
	opts Options

	mu      sync.RWMutex
	ptm     *os.File
	cmd     *exec.Cmd
	running bool
	output  bytes.Buffer

	handler Handler

	stopHeartbeat context.CancelFunc
	done          chan struct{}
}

// New creates an Executor. handler receives every emitted Event in order.
func New(opts Options, handler Handler) *Executor {
	return &Executor{opts: opts.withDefaults(), handler: handler}
}

// Execute starts command with args attached to a pseudo-terminal and blocks
// until the child exits, delivering Data/Heartbeat events as they occur and
// exactly one Exit event as the final event. Re-entry while a child is
// already running is a precondition failure.
func (e *Executor) Execute(ctx context.Context, taskID, command string, args []string) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	childCtx, cancelChild := context.WithCancel(ctx)
	defer cancelChild()

	cmd := exec.CommandContext(childCtx, command, args...)
	cmd.Env = append(os.Environ(), e.opts.Env...)
	if e.opts.Dir != "" {
		cmd.Dir = e.opts.Dir
	}

	ws := &pty.Winsize{Rows: e.opts.Rows, Cols: e.opts.Cols}
	ptm, err := pty.StartWithSize(cmd, ws)
	if err != nil {
		return fmt.Errorf("starting pty: %w", err)
	}

	e.mu.Lock()
	e.ptm = ptm
	e.cmd = cmd
	e.done = make(chan struct{})
	e.mu.Unlock()

	heartbeatCtx, stopHeartbeat := context.WithCancel(childCtx)
	e.mu.Lock()
	e.stopHeartbeat = stopHeartbeat
	e.mu.Unlock()
	if e.opts.HeartbeatInterval > 0 {
		go e.runHeartbeat(heartbeatCtx, taskID)
	}

	exitCode, signal, waitErr := e.readLoop(taskID, ptm, cmd)
	stopHeartbeat()

	e.emit(Event{Kind: EventExit, TaskID: taskID, ExitCode: exitCode, Signal: signal})
	close(e.done)
	return waitErr
}

// readLoop reads raw bytes until the pty closes, then waits for the child's
// exit status. No byte is dropped or reordered: each successful Read is
// delivered before the next is attempted.
func (e *Executor) readLoop(taskID string, ptm *os.File, cmd *exec.Cmd) (exitCode int, signal string, err error) {
	buf := make([]byte, 4096)
	for {
		n, readErr := ptm.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.mu.Lock()
			if e.opts.RetentionBytes > 0 {
				e.appendBoundedLocked(chunk)
			} else {
				e.output.Write(chunk)
			}
			e.mu.Unlock()
			e.emit(Event{Kind: EventData, TaskID: taskID, Data: chunk})
		}
		if readErr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	_ = ptm.Close()

	if waitErr == nil {
		return 0, "", nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return exitErr.ExitCode(), signalName(exitErr), nil
	}
	return -1, "", waitErr
}

func (e *Executor) appendBoundedLocked(chunk []byte) {
	e.output.Write(chunk)
	if excess := e.output.Len() - e.opts.RetentionBytes; excess > 0 {
		trimmed := e.output.Bytes()[excess:]
		e.output = *bytes.NewBuffer(append([]byte(nil), trimmed...))
	}
}

func (e *Executor) emit(ev Event) {
	if e.handler != nil {
		e.handler(ev)
	}
}

// runHeartbeat writes the sentinel byte to the child's stdin every interval
// to defeat idle-timeout logic, and emits a Heartbeat event for observers.
func (e *Executor) runHeartbeat(ctx context.Context, taskID string) {
	ticker := time.NewTicker(e.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.writeRaw([]byte{heartbeatSentinel}); err != nil {
				return
			}
			e.emit(Event{Kind: EventHeartbeat, TaskID: taskID})
		}
	}
}

// Write sends bytes to the child's stdin. Safe to call from any handler,
// including one invoked from within Execute's own read loop.
func (e *Executor) Write(data []byte) (int, error) {
	return e.writeRaw(data)
}

func (e *Executor) writeRaw(data []byte) (int, error) {
	e.mu.RLock()
	ptm := e.ptm
	e.mu.RUnlock()
	if ptm == nil {
		return 0, errors.New("ptyexec: no active child")
	}
	return ptm.Write(data)
}

// Kill terminates the child process and any outstanding heartbeat timer.
func (e *Executor) Kill() error {
	e.mu.RLock()
	cmd := e.cmd
	stop := e.stopHeartbeat
	e.mu.RUnlock()
	if stop != nil {
		stop()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// Output returns the accumulated raw output, bounded by Options.RetentionBytes.
func (e *Executor) Output() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]byte, e.output.Len())
	copy(out, e.output.Bytes())
	return out
}

