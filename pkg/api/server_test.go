package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/overseer/pkg/aggregator"
	"github.com/codeready-toolchain/overseer/pkg/config"
	"github.com/codeready-toolchain/overseer/pkg/engine"
	"github.com/codeready-toolchain/overseer/pkg/hooks"
	"github.com/codeready-toolchain/overseer/pkg/intervention"
	"github.com/codeready-toolchain/overseer/pkg/ledger"
	"github.com/codeready-toolchain/overseer/pkg/observer"
	"github.com/codeready-toolchain/overseer/pkg/rules"
	"github.com/codeready-toolchain/overseer/pkg/store"
	"github.com/codeready-toolchain/overseer/pkg/verify"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbPath := filepath.Join(t.TempDir(), "api-test.db")
	st, err := store.Open(context.Background(), store.Config{Path: dbPath, MaxOpenConns: 1, BusyTimeoutMS: 5000})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		Queue:        config.QueueConfig{WorkerCount: 1, MaxConcurrentTasks: 1, PollInterval: 5 * time.Millisecond, TaskTimeout: 5 * time.Second, OrphanScanInterval: time.Hour, OrphanGracePeriod: time.Hour},
		Monitor:      config.MonitorConfig{BufferSize: 4096, StallInterval: time.Hour, Cooldown: time.Millisecond},
		Intervention: config.InterventionConfig{InterruptQuiesce: time.Millisecond},
		Hooks:        config.HooksConfig{ActionVerbs: []string{"create"}, ConcreteNouns: []string{"file"}},
		Observer:     config.ObserverConfig{WriteTimeout: time.Second, CatchupLimit: 50},
	}

	rulesEngine, err := rules.New(cfg.Rules)
	require.NoError(t, err)
	led := ledger.New(nil)
	hookOrch := hooks.New(cfg.Hooks)
	interventionCtl := intervention.New(cfg.Intervention)
	aggr := aggregator.New(false, nil, nil)
	verifyEngine := verify.New(st)
	hub := observer.New(cfg.Observer, interventionCtl)

	supervisor := engine.New(cfg, st, led, rulesEngine, hookOrch, interventionCtl, aggr, verifyEngine, hub)
	return NewServer(supervisor, hub)
}

func TestHealthHandlerReportsConnectionCount(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 0, resp.Connections)
}

func TestCreateTaskHandlerAcceptsValidRequest(t *testing.T) {
	s := newTestServer(t)

	body, err := json.Marshal(createTaskRequest{
		Prompt:  "create a file",
		Command: "/bin/echo",
		Args:    []string{"hi"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp createTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TaskID)
}

func TestCreateTaskHandlerRejectsMissingFields(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTaskHandlerReturnsNotFoundForUnknownTask(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/does-not-exist", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskHandlerReturnsStatusAfterSubmit(t *testing.T) {
	s := newTestServer(t)

	body, err := json.Marshal(createTaskRequest{Prompt: "create a file", Command: "/bin/echo"})
	require.NoError(t, err)
	createReq := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader(body))
	createReq.Header.Set("Content-Type", "application/json")
	createRec := httptest.NewRecorder()
	s.router.ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusAccepted, createRec.Code)

	var created createTaskResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	getRec := httptest.NewRecorder()
	s.router.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/tasks/"+created.TaskID, nil))

	assert.Equal(t, http.StatusOK, getRec.Code)
	var status engine.TaskStatus
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &status))
	assert.Equal(t, created.TaskID, status.TaskID)
}
