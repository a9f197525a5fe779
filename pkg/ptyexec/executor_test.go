//go:build unix

package ptyexec

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteEmitsDataThenExit(t *testing.T) {
	var mu sync.Mutex
	var events []Event

	e := New(Options{}, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := e.Execute(ctx, "t1", "/bin/echo", []string{"hello-overseer"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	assert.Equal(t, EventExit, events[len(events)-1].Kind)

	var combined bytes.Buffer
	for _, ev := range events {
		if ev.Kind == EventData {
			combined.Write(ev.Data)
		}
	}
	assert.Contains(t, combined.String(), "hello-overseer")
}

func TestExecuteRejectsReentry(t *testing.T) {
	e := New(Options{}, func(Event) {})
	ctx := context.Background()

	started := make(chan struct{})
	go func() {
		e.mu.Lock()
		e.running = true
		e.mu.Unlock()
		close(started)
	}()
	<-started

	err := e.Execute(ctx, "t1", "/bin/echo", []string{"hi"})
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestExecuteCapturesExitCode(t *testing.T) {
	e := New(Options{}, func(Event) {})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := e.Execute(ctx, "t1", "/bin/sh", []string{"-c", "exit 7"})
	require.NoError(t, err)
}

func TestWriteDeliversToChildStdin(t *testing.T) {
	var mu sync.Mutex
	var combined bytes.Buffer

	e := New(Options{}, func(ev Event) {
		if ev.Kind == EventData {
			mu.Lock()
			combined.Write(ev.Data)
			mu.Unlock()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.Execute(ctx, "t1", "/bin/cat", nil)
	}()

	// Give cat a moment to start reading before we write and close stdin.
	time.Sleep(100 * time.Millisecond)
	_, err := e.Write([]byte("echoed-input\x04"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(4 * time.Second):
		_ = e.Kill()
		t.Fatal("execute did not complete in time")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, combined.String(), "echoed-input")
}

func TestKillTerminatesLongRunningChild(t *testing.T) {
	e := New(Options{}, func(Event) {})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- e.Execute(ctx, "t1", "/bin/sleep", []string{"30"})
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, e.Kill())

	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatal("kill did not terminate the child in time")
	}
}

func TestOutputIsBoundedByRetention(t *testing.T) {
	e := New(Options{RetentionBytes: 8}, func(Event) {})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, e.Execute(ctx, "t1", "/bin/echo", []string{"0123456789"}))
	assert.LessOrEqual(t, len(e.Output()), 8)
}
