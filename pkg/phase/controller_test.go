package phase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/overseer/pkg/config"
)

func testPhases() map[string]config.PhaseTemplateConfig {
	return map[string]config.PhaseTemplateConfig{
		"research": {
			Tag:            "research",
			Budget:         50 * time.Millisecond,
			AllowedTools:   []string{"read_file", "grep"},
			ForbiddenTools: []string{"write_file"},
			OutputFile:     "research-findings.md",
			PromptTemplate: "Research for at most {{.Budget}}. Write {{.OutputFile}}.",
		},
		"execution": {
			Tag:            "execution",
			Budget:         time.Hour,
			AllowedTools:   []string{"read_file", "write_file", "run_command"},
			PromptTemplate: "Execute the plan.",
		},
	}
}

func testOrder() []string { return []string{"research", "execution"} }

func TestStartReturnsFirstPhasePrompt(t *testing.T) {
	c, err := New(testOrder(), testPhases(), nil)
	require.NoError(t, err)

	prompt, err := c.Start()
	require.NoError(t, err)
	assert.Contains(t, prompt, "research-findings.md")
	assert.Equal(t, "research", c.Current().Tag)
}

func TestCheckToolDeniesForbiddenTool(t *testing.T) {
	c, err := New(testOrder(), testPhases(), nil)
	require.NoError(t, err)
	_, err = c.Start()
	require.NoError(t, err)

	allowed, remediation := c.CheckTool("write_file")
	assert.False(t, allowed)
	assert.Contains(t, remediation, "research")
}

func TestCheckToolAllowsAllowedTool(t *testing.T) {
	c, err := New(testOrder(), testPhases(), nil)
	require.NoError(t, err)
	_, err = c.Start()
	require.NoError(t, err)

	allowed, _ := c.CheckTool("grep")
	assert.True(t, allowed)
}

func TestCheckToolAllowsEverythingWithNoAllowList(t *testing.T) {
	c, err := New(testOrder(), testPhases(), nil)
	require.NoError(t, err)
	_, err = c.Start()
	require.NoError(t, err)

	// advance into execution, which has no ForbiddenTools entry for "anything_else"
	c.advanceLocked(TransitionAdvanced)
	allowed, _ := c.CheckTool("anything_else")
	assert.True(t, allowed)
}

func TestObserveFileAdvancesOnOutputFileMatch(t *testing.T) {
	var events []Event
	c, err := New(testOrder(), testPhases(), func(e Event) { events = append(events, e) })
	require.NoError(t, err)
	_, err = c.Start()
	require.NoError(t, err)

	ev, advanced := c.ObserveFile("research-findings.md")
	require.True(t, advanced)
	assert.Equal(t, TransitionOutputReached, ev.Kind)
	assert.Equal(t, "research", ev.From)
	assert.Equal(t, "execution", ev.To)
	assert.Equal(t, "execution", c.Current().Tag)
}

func TestObserveFileIgnoresUnrelatedPath(t *testing.T) {
	c, err := New(testOrder(), testPhases(), nil)
	require.NoError(t, err)
	_, err = c.Start()
	require.NoError(t, err)

	_, advanced := c.ObserveFile("unrelated.txt")
	assert.False(t, advanced)
	assert.Equal(t, "research", c.Current().Tag)
}

func TestCheckBudgetForcesTransitionAfterDeadline(t *testing.T) {
	c, err := New(testOrder(), testPhases(), nil)
	require.NoError(t, err)
	_, err = c.Start()
	require.NoError(t, err)

	_, forced := c.CheckBudget(time.Now())
	assert.False(t, forced)

	ev, forced := c.CheckBudget(time.Now().Add(time.Hour))
	require.True(t, forced)
	assert.Equal(t, TransitionBudgetForced, ev.Kind)
	assert.Equal(t, "execution", c.Current().Tag)
}

func TestControllerMarksDoneAfterLastPhase(t *testing.T) {
	c, err := New(testOrder(), testPhases(), nil)
	require.NoError(t, err)
	_, err = c.Start()
	require.NoError(t, err)

	c.ObserveFile("research-findings.md")
	assert.False(t, c.Done())

	ev, forced := c.CheckBudget(time.Now().Add(2 * time.Hour))
	require.True(t, forced)
	assert.Equal(t, "", ev.To)
	assert.True(t, c.Done())
	assert.Nil(t, c.Current())
}

func TestCheckToolAllowsWhenNoCurrentPhase(t *testing.T) {
	c, err := New(nil, testPhases(), nil)
	require.NoError(t, err)
	_, err = c.Start()
	require.NoError(t, err)
	assert.True(t, c.Done())

	allowed, remediation := c.CheckTool("anything")
	assert.True(t, allowed)
	assert.Empty(t, remediation)
}

func TestNewErrorsOnUnknownPhaseTag(t *testing.T) {
	_, err := New([]string{"nonexistent"}, testPhases(), nil)
	assert.Error(t, err)
}
