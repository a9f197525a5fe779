package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		rules   map[string]RuleConfig
		wantErr bool
	}{
		{
			name: "valid rule",
			rules: map[string]RuleConfig{
				"todo": {ID: "todo", Pattern: `TODO`, Severity: "error", Action: "interrupt"},
			},
			wantErr: false,
		},
		{
			name: "invalid severity",
			rules: map[string]RuleConfig{
				"todo": {ID: "todo", Pattern: `TODO`, Severity: "fatal", Action: "interrupt"},
			},
			wantErr: true,
		},
		{
			name: "invalid action",
			rules: map[string]RuleConfig{
				"todo": {ID: "todo", Pattern: `TODO`, Severity: "error", Action: "yell"},
			},
			wantErr: true,
		},
		{
			name: "bad regex",
			rules: map[string]RuleConfig{
				"todo": {ID: "todo", Pattern: `(unclosed`, Severity: "error", Action: "interrupt"},
			},
			wantErr: true,
		},
		{
			name: "missing pattern",
			rules: map[string]RuleConfig{
				"todo": {ID: "todo", Severity: "error", Action: "interrupt"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Rules: tt.rules, Phases: builtinPhases(), Queue: defaultConfig().Queue, Monitor: defaultConfig().Monitor, Observer: defaultConfig().Observer, Store: defaultConfig().Store}
			err := NewValidator(cfg).validateRules()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePhases(t *testing.T) {
	tests := []struct {
		name    string
		phases  map[string]PhaseTemplateConfig
		wantErr bool
	}{
		{
			name:    "valid phase",
			phases:  map[string]PhaseTemplateConfig{"research": {Tag: "research", Budget: time.Minute}},
			wantErr: false,
		},
		{
			name:    "invalid tag",
			phases:  map[string]PhaseTemplateConfig{"bogus": {Tag: "bogus", Budget: time.Minute}},
			wantErr: true,
		},
		{
			name:    "zero budget",
			phases:  map[string]PhaseTemplateConfig{"research": {Tag: "research", Budget: 0}},
			wantErr: true,
		},
		{
			name:    "bad success pattern",
			phases:  map[string]PhaseTemplateConfig{"research": {Tag: "research", Budget: time.Minute, SuccessPattern: "("}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Phases: tt.phases}
			err := NewValidator(cfg).validatePhases()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Rules)
	assert.NotEmpty(t, cfg.Phases)
	assert.Equal(t, 4, cfg.Queue.WorkerCount)
	assert.Equal(t, 8080, cfg.Observer.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/overseer.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadMergesUserOverrides(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/overseer.yaml"
	err := os.WriteFile(path, []byte(`
queue:
  worker_count: 9
rules:
  custom-math-fn:
    id: custom-math-fn
    pattern: "TODO"
    severity: critical
    action: interrupt
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Queue.WorkerCount)
	assert.Equal(t, "critical", cfg.Rules["custom-math-fn"].Severity)
	// Untouched defaults survive the merge.
	assert.Contains(t, cfg.Rules, "todo-marker")
}
