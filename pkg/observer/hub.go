// Package observer implements the Observer channel: a WebSocket fan-out
// layer that broadcasts task lifecycle envelopes to subscribed clients and
// accepts client-initiated interventions, per spec §6 "Observer channel".
// Unlike the teacher's multi-pod pkg/events (Postgres LISTEN/NOTIFY fan-out
// across processes), this supervision engine is single-process: catch-up is
// served from an in-memory bounded ring instead of a database query, but the
// connection/subscription bookkeeping and snapshot-before-blocking-write
// discipline follow the teacher's ConnectionManager directly.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/overseer/pkg/config"
)

// EnvelopeType discriminates an Envelope's payload, per spec §6.
type EnvelopeType string

// Envelope types.
const (
	EnvelopeStream       EnvelopeType = "stream"
	EnvelopeTaskUpdate   EnvelopeType = "task_update"
	EnvelopeVerification EnvelopeType = "verification"
	EnvelopeIntervention EnvelopeType = "intervention"
	EnvelopeError        EnvelopeType = "error"
	EnvelopeSystem       EnvelopeType = "system"
)

// Envelope is one broadcast message, per spec §6.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	TaskID    string       `json:"taskId,omitempty"`
	WorkerID  string       `json:"workerId,omitempty"`
	Data      any          `json:"data"`
	Timestamp time.Time    `json:"timestamp"`

	seq int64
}

// clientMessage is a message sent by a connected client. type is one of
// intervene|subscribe|ping, per spec §6.
type clientMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"taskId,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// Injector delivers an intervene client message into a running task. Backed
// by *intervention.Controller in production.
type Injector interface {
	Inject(taskID, text string) error
}

// Hub manages WebSocket connections and broadcasts Envelopes to every
// connected client. One Hub per process.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection

	ring    []Envelope
	ringCap int
	nextSeq int64
	ringMu  sync.Mutex

	injector     Injector
	writeTimeout time.Duration
}

type connection struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Hub. injector may be nil if this process does not accept
// client-initiated interventions (e.g. a read-only observer deployment).
func New(cfg config.ObserverConfig, injector Injector) *Hub {
	cap := cfg.CatchupLimit
	if cap <= 0 {
		cap = 200
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Hub{
		connections:  make(map[string]*connection),
		ringCap:      cap,
		injector:     injector,
		writeTimeout: writeTimeout,
	}
}

// Broadcast appends env to the catch-up ring and sends it to every
// currently connected client.
func (h *Hub) Broadcast(env Envelope) {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	h.ringMu.Lock()
	env.seq = h.nextSeq
	h.nextSeq++
	h.ring = append(h.ring, env)
	if len(h.ring) > h.ringCap {
		h.ring = h.ring[len(h.ring)-h.ringCap:]
	}
	h.ringMu.Unlock()

	payload, err := json.Marshal(env)
	if err != nil {
		slog.Warn("observer: marshal envelope", "error", err)
		return
	}

	h.mu.RLock()
	conns := make([]*connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.sendRaw(c, payload)
	}
}

// ConnectionCount returns the number of currently connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HandleConnection manages one WebSocket client's lifecycle: registers it,
// replays the catch-up ring, then reads client messages until the
// connection closes. Blocks until the connection closes.
func (h *Hub) HandleConnection(parentCtx context.Context, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{id: uuid.NewString(), conn: ws, ctx: ctx, cancel: cancel}

	h.register(c)
	defer h.unregister(c)

	h.replayCatchup(c)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("observer: invalid client message", "connection_id", c.id, "error", err)
			continue
		}
		h.handleClientMessage(c, msg)
	}
}

func (h *Hub) handleClientMessage(c *connection, msg clientMessage) {
	switch msg.Type {
	case "intervene":
		if h.injector == nil {
			h.sendJSON(c, map[string]string{"type": "error", "message": "interventions not accepted on this channel"})
			return
		}
		if err := h.injector.Inject(msg.TaskID, msg.Prompt); err != nil {
			h.sendJSON(c, map[string]string{"type": "error", "message": fmt.Sprintf("intervene failed: %v", err)})
			return
		}
	case "subscribe":
		// Reserved per spec §6: this Hub broadcasts to every connection
		// rather than per-channel subscription, so acknowledge and continue.
		h.sendJSON(c, map[string]string{"type": "system", "data": "subscribed"})
	case "ping":
		h.sendJSON(c, map[string]string{"type": "system", "data": "pong"})
	}
}

func (h *Hub) replayCatchup(c *connection) {
	h.ringMu.Lock()
	snapshot := make([]Envelope, len(h.ring))
	copy(snapshot, h.ring)
	h.ringMu.Unlock()

	for _, env := range snapshot {
		payload, err := json.Marshal(env)
		if err != nil {
			continue
		}
		h.sendRaw(c, payload)
	}
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.id] = c
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	delete(h.connections, c.id)
	h.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.sendRaw(c, data)
}

func (h *Hub) sendRaw(c *connection, data []byte) {
	ctx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Warn("observer: write failed", "connection_id", c.id, "error", err)
	}
}
