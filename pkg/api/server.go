// Package api provides the HTTP admission surface for the supervision
// engine: task submission, status lookup, health, and the WebSocket
// upgrade endpoint. The Server-struct-holds-every-collaborator shape and
// the health endpoint's aggregate status rollup follow the teacher's
// pkg/api/server.go; the request/response handler split (a thin gin.H
// JSON layer in front of a domain object) follows the teacher's earlier
// gin-based handlers.go.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/codeready-toolchain/overseer/pkg/engine"
	"github.com/codeready-toolchain/overseer/pkg/observer"
	"github.com/codeready-toolchain/overseer/pkg/queue"
	"github.com/codeready-toolchain/overseer/pkg/version"
)

// Server is the HTTP/WebSocket admission surface.
type Server struct {
	router     *gin.Engine
	supervisor *engine.Supervisor
	hub        *observer.Hub
}

// NewServer builds a Server with routes registered.
func NewServer(supervisor *engine.Supervisor, hub *observer.Hub) *Server {
	s := &Server{
		router:     gin.Default(),
		supervisor: supervisor,
		hub:        hub,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.POST("/tasks", s.createTaskHandler)
	s.router.GET("/tasks/:id", s.getTaskHandler)
	s.router.GET("/ws", s.wsHandler)
}

// Run starts the HTTP server on addr. Blocks until the server stops.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

type healthResponse struct {
	Status      string           `json:"status"`
	Version     string           `json:"version"`
	Connections int              `json:"connections"`
	Pool        queue.PoolHealth `json:"pool"`
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:      "healthy",
		Version:     version.Full(),
		Connections: s.hub.ConnectionCount(),
		Pool:        s.supervisor.Pool().Health(),
	})
}

type createTaskRequest struct {
	Prompt   string   `json:"prompt" binding:"required"`
	ParentID string   `json:"parentId,omitempty"`
	Priority int      `json:"priority"`
	Command  string   `json:"command" binding:"required"`
	Args     []string `json:"args,omitempty"`
	Dir      string   `json:"dir,omitempty"`
}

type createTaskResponse struct {
	TaskID string `json:"taskId"`
}

func (s *Server) createTaskHandler(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	taskID, err := s.supervisor.Submit(ctx, engine.SubmitRequest{
		Prompt:   req.Prompt,
		ParentID: req.ParentID,
		Priority: req.Priority,
		Command:  req.Command,
		Args:     req.Args,
		Dir:      req.Dir,
	})
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, createTaskResponse{TaskID: taskID})
}

func (s *Server) getTaskHandler(c *gin.Context) {
	status, ok := s.supervisor.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// wsHandler upgrades the connection and delegates to the Observer Hub,
// mirroring the teacher's delegate-to-ConnectionManager pattern
// (pkg/api/handler_ws.go).
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("api: websocket accept failed", "error", err)
		return
	}
	s.hub.HandleConnection(c.Request.Context(), conn)
}
