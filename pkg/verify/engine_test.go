package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/overseer/pkg/store"
)

type fakeStore struct {
	actionsByConv map[string][]store.Action
	tree          []store.Conversation
}

func (f *fakeStore) GetActions(ctx context.Context, conversationID string) ([]store.Action, error) {
	return f.actionsByConv[conversationID], nil
}

func (f *fakeStore) GetConversationTree(ctx context.Context, rootID string) ([]store.Conversation, error) {
	return f.tree, nil
}

func action(kind store.ActionKind, content string) store.Action {
	return store.Action{Kind: kind, Content: content, Timestamp: time.Now()}
}

func TestVerifyPassesWhenFileTouchPresent(t *testing.T) {
	actions := make([]store.Action, 0, 7)
	for i := 0; i < 6; i++ {
		actions = append(actions, action(store.ActionOutput, "working..."))
	}
	actions = append(actions, action(store.ActionFileCreated, "factorial.ts"))

	fs := &fakeStore{actionsByConv: map[string][]store.Action{"c1": actions}}
	e := New(fs)

	report, err := e.Verify(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, 1, report.Metrics.FilesCreated)
	assert.Equal(t, 1, report.Metrics.ActualImplementation)
}

func TestFilesRequiredFailsOnManyActionsNoFileTouch(t *testing.T) {
	actions := make([]store.Action, 0, 6)
	for i := 0; i < 6; i++ {
		actions = append(actions, action(store.ActionOutput, "thinking..."))
	}

	fs := &fakeStore{actionsByConv: map[string][]store.Action{"c1": actions}}
	e := New(fs)

	report, err := e.Verify(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, report.Passed)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "files-required", report.Violations[0].RuleID)
}

func TestFilesRequiredDoesNotFireUnderThreshold(t *testing.T) {
	actions := []store.Action{action(store.ActionOutput, "a"), action(store.ActionOutput, "b")}
	fs := &fakeStore{actionsByConv: map[string][]store.Action{"c1": actions}}
	e := New(fs)

	report, err := e.Verify(context.Background(), "c1")
	require.NoError(t, err)
	assert.True(t, report.Passed)
}

func TestCodeToFilesFailsWhenCodeBlockNotFollowedByFileTouch(t *testing.T) {
	actions := []store.Action{
		action(store.ActionCodeBlock, "func foo() {}"),
		action(store.ActionOutput, "o1"),
		action(store.ActionOutput, "o2"),
		action(store.ActionOutput, "o3"),
	}
	fs := &fakeStore{actionsByConv: map[string][]store.Action{"c1": actions}}
	e := New(fs)

	report, err := e.Verify(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, report.Passed)

	var found bool
	for _, v := range report.Violations {
		if v.RuleID == "code-to-files" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCodeToFilesPassesWhenFileTouchWithinWindow(t *testing.T) {
	actions := []store.Action{
		action(store.ActionCodeBlock, "func foo() {}"),
		action(store.ActionOutput, "o1"),
		action(store.ActionFileCreated, "foo.go"),
	}
	fs := &fakeStore{actionsByConv: map[string][]store.Action{"c1": actions}}
	e := New(fs)

	report, err := e.Verify(context.Background(), "c1")
	require.NoError(t, err)
	for _, v := range report.Violations {
		assert.NotEqual(t, "code-to-files", v.RuleID)
	}
}

func TestMetricsCountsTodosAndCodeBlocks(t *testing.T) {
	actions := []store.Action{
		action(store.ActionOutput, "// TODO: fix this"),
		action(store.ActionCodeBlock, "func bar() {}"),
		action(store.ActionFileModified, "bar.go"),
	}
	fs := &fakeStore{actionsByConv: map[string][]store.Action{"c1": actions}}
	e := New(fs)

	report, err := e.Verify(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Metrics.TodosFound)
	assert.Equal(t, 1, report.Metrics.CodeBlocks)
	assert.Equal(t, 1, report.Metrics.FilesModified)
}

func TestVerifyTreeProducesOneReportPerConversation(t *testing.T) {
	fs := &fakeStore{
		tree: []store.Conversation{{ID: "root"}, {ID: "child"}},
		actionsByConv: map[string][]store.Action{
			"root":  {action(store.ActionFileCreated, "a.go")},
			"child": {action(store.ActionFileCreated, "b.go")},
		},
	}
	e := New(fs)

	reports, err := e.VerifyTree(context.Background(), "root")
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.True(t, reports[0].Passed)
	assert.True(t, reports[1].Passed)
}

func TestVerifyRealtimeReturnsOnlyViolationsNoReport(t *testing.T) {
	fs := &fakeStore{}
	e := New(fs)

	actions := []store.Action{action(store.ActionCodeBlock, "func baz() {}")}
	violations := e.VerifyRealtime("c1", actions)
	require.NotEmpty(t, violations)
	assert.Equal(t, "code-to-files", violations[0].RuleID)
}

func TestVerifyRealtimeOnEmptyActionsReturnsNil(t *testing.T) {
	fs := &fakeStore{}
	e := New(fs)
	assert.Nil(t, e.VerifyRealtime("c1", nil))
}
