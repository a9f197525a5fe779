package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates a Store backed by a real SQLite file in a temp
// directory, with migrations applied — the SQLite analogue of the teacher's
// testcontainers-backed newTestClient: a real driver against a real
// database, just without a server process to wait on.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "overseer-test.db")
	s, err := Open(ctx, Config{Path: dbPath, MaxOpenConns: 1, BusyTimeoutMS: 5000})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := Conversation{
		ID:        "c1",
		StartedAt: time.Now(),
		Status:    StatusQueued,
		Depth:     0,
		Prompt:    "Create factorial.ts exporting factorial(n)",
		TaskType:  "execution",
		Metadata:  map[string]any{"priority": 5},
	}
	require.NoError(t, s.CreateConversation(ctx, conv))

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, conv.Prompt, got.Prompt)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, float64(5), got.Metadata["priority"])
}

func TestGetConversationMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetConversation(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateConversationStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, Conversation{ID: "c1", StartedAt: time.Now(), Status: StatusQueued, Prompt: "p"}))

	completed := StatusCompleted
	require.NoError(t, s.UpdateConversation(ctx, "c1", ConversationUpdate{Status: &completed}))

	got, err := s.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestGetConversationTreeOrdersByDepthThenStartedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	require.NoError(t, s.CreateConversation(ctx, Conversation{ID: "root", StartedAt: base, Status: StatusRunning, Depth: 0, Prompt: "root"}))
	require.NoError(t, s.CreateConversation(ctx, Conversation{ID: "child2", ParentID: "root", StartedAt: base.Add(2 * time.Second), Status: StatusRunning, Depth: 1, Prompt: "child2"}))
	require.NoError(t, s.CreateConversation(ctx, Conversation{ID: "child1", ParentID: "root", StartedAt: base.Add(time.Second), Status: StatusRunning, Depth: 1, Prompt: "child1"}))
	require.NoError(t, s.CreateConversation(ctx, Conversation{ID: "grandchild", ParentID: "child1", StartedAt: base.Add(3 * time.Second), Status: StatusRunning, Depth: 2, Prompt: "grandchild"}))

	tree, err := s.GetConversationTree(ctx, "root")
	require.NoError(t, err)
	require.Len(t, tree, 4)

	ids := make([]string, len(tree))
	for i, c := range tree {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"root", "child1", "child2", "grandchild"}, ids)
}

func TestLogActionAndGetRecentActions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, Conversation{ID: "c1", StartedAt: time.Now(), Status: StatusRunning, Prompt: "p"}))

	require.NoError(t, s.LogAction(ctx, "c1", Action{ID: "a1", ConversationID: "c1", Kind: ActionTaskStarted, Timestamp: time.Now()}))
	require.NoError(t, s.LogAction(ctx, "c1", Action{ID: "a2", ConversationID: "c1", Kind: ActionFileCreated, Timestamp: time.Now().Add(time.Millisecond), Content: "factorial.ts"}))

	actions, err := s.GetRecentActions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, ActionFileCreated, actions[0].Kind) // newest first
}

func TestGetStatsHistograms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateConversation(ctx, Conversation{ID: "c1", StartedAt: time.Now(), Status: StatusCompleted, Prompt: "p"}))
	require.NoError(t, s.CreateConversation(ctx, Conversation{ID: "c2", StartedAt: time.Now(), Status: StatusFailed, Prompt: "p"}))

	require.NoError(t, s.LogAction(ctx, "c1", Action{
		ID: "a1", ConversationID: "c1", Kind: ActionIntervention, Timestamp: time.Now(),
		Metadata: map[string]any{"rule": "todo-marker"},
	}))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalsByStatus[StatusCompleted])
	assert.Equal(t, 1, stats.TotalsByStatus[StatusFailed])
	assert.Equal(t, 1, stats.ActionKindHistogram[ActionIntervention])
	assert.Equal(t, 1, stats.ViolationKindHistogram["todo-marker"])
}
