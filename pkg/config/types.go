// Package config provides configuration management for the supervision
// engine: rule sets, phase templates, queue sizing, and observer transport,
// loaded from YAML with environment-variable expansion and defaults merging.
package config

import "time"

// RuleConfig is the on-disk form of a Rule Engine (C5) rule.
type RuleConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Pattern is a Go regular expression evaluated against a line or block.
	Pattern string `yaml:"pattern"`
	// Severity is one of info|warning|error|critical.
	Severity string `yaml:"severity"`
	// Action is one of log|warn|interrupt|redirect.
	Action string `yaml:"action"`
	// AutoFix marks this rule as eligible for automatic remediation without
	// operator approval.
	AutoFix bool `yaml:"auto_fix,omitempty"`
	// Remediation is the template injected into the subject process when
	// this rule's violation is selected for intervention. May contain the
	// placeholder "{match}" for the matched excerpt.
	Remediation string `yaml:"remediation,omitempty"`
}

// PhaseTemplateConfig is the on-disk form of a Phase Controller (C8) phase.
type PhaseTemplateConfig struct {
	// Tag is one of research|planning|execution|integration.
	Tag string `yaml:"tag"`
	// Budget is the phase's time budget.
	Budget time.Duration `yaml:"budget"`
	// AllowedTools is the tool allow-set for this phase.
	AllowedTools []string `yaml:"allowed_tools,omitempty"`
	// ForbiddenTools is the tool deny-set for this phase.
	ForbiddenTools []string `yaml:"forbidden_tools,omitempty"`
	// OutputFile is the path (relative to the task workspace) the subject is
	// instructed to produce before the phase is considered successful.
	OutputFile string `yaml:"output_file,omitempty"`
	// SuccessPattern, if set, is a regular expression that also satisfies
	// the phase (independent of OutputFile being observed).
	SuccessPattern string `yaml:"success_pattern,omitempty"`
	// PromptTemplate is the text handed to the subject at phase start. May
	// reference {{.AllowedTools}}, {{.Budget}}, {{.OutputFile}}.
	PromptTemplate string `yaml:"prompt_template,omitempty"`
}

// QueueConfig configures the Priority Queue + Worker Pool (C10).
type QueueConfig struct {
	WorkerCount           int           `yaml:"worker_count"`
	MaxConcurrentTasks    int           `yaml:"max_concurrent_tasks"`
	PollInterval          time.Duration `yaml:"poll_interval"`
	PollIntervalJitter    time.Duration `yaml:"poll_interval_jitter"`
	TaskTimeout           time.Duration `yaml:"task_timeout"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval"`
	OrphanScanInterval    time.Duration `yaml:"orphan_scan_interval"`
	OrphanGracePeriod     time.Duration `yaml:"orphan_grace_period"`
	SpawnRetryLimit       int           `yaml:"spawn_retry_limit"`
}

// MonitorConfig configures the Thought Monitor (C6).
type MonitorConfig struct {
	BufferSize    int           `yaml:"buffer_size"`
	StallInterval time.Duration `yaml:"stall_interval"`
	Cooldown      time.Duration `yaml:"cooldown"`
	HeartbeatByte byte          `yaml:"-"` // sentinel NUL; never user-configurable
}

// InterventionConfig configures the Intervention Controller (C7).
type InterventionConfig struct {
	// InterruptQuiesce is how long to wait after sending the interrupt byte
	// before writing remediation text.
	InterruptQuiesce time.Duration `yaml:"interrupt_quiesce"`
	// TypingDelayMin/Max bound the per-character delay applied to injected
	// remediation text when human-like pacing is enabled.
	TypingDelayMin time.Duration `yaml:"typing_delay_min"`
	TypingDelayMax time.Duration `yaml:"typing_delay_max"`
	// HumanLikeTyping enables the per-character delay above.
	HumanLikeTyping bool `yaml:"human_like_typing"`
	// AutoApprove enables the "Do you want to create … 1. Yes" heuristic.
	AutoApprove bool `yaml:"auto_approve"`
	// SensitiveOperations names operations that require explicit approval
	// via RequireApproval/Approve before they are allowed to proceed.
	SensitiveOperations []string `yaml:"sensitive_operations,omitempty"`
}

// HooksConfig configures the Hook Orchestrator (C11).
type HooksConfig struct {
	// StrictAdmission, when true, blocks a prompt that fails concrete-task
	// validation outright. When false, the admission hook flags the prompt
	// (attaches a warning to the task's metadata) but still admits it.
	StrictAdmission bool `yaml:"strict_admission"`
	// ActionVerbs is the fixed set of verbs a prompt must contain one of to
	// pass concrete-task validation.
	ActionVerbs []string `yaml:"action_verbs,omitempty"`
	// ConcreteNouns is the fixed set of nouns accepted in place of a
	// file-path-like token.
	ConcreteNouns []string `yaml:"concrete_nouns,omitempty"`
}

// ObserverConfig configures the WebSocket fan-out layer.
type ObserverConfig struct {
	Port         int           `yaml:"port"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CatchupLimit int           `yaml:"catchup_limit"`
}

// StoreConfig configures the Conversation Store (C2).
type StoreConfig struct {
	Path            string `yaml:"path"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	BusyTimeoutMS   int    `yaml:"busy_timeout_ms"`
}

// LedgerConfig configures the Event Ledger (C1).
type LedgerConfig struct {
	SinkPath string `yaml:"sink_path"`
}

// Config is the complete, merged, validated supervision-engine configuration.
type Config struct {
	Rules        map[string]RuleConfig          `yaml:"rules"`
	Phases       map[string]PhaseTemplateConfig `yaml:"phases"`
	Queue        QueueConfig                    `yaml:"queue"`
	Monitor      MonitorConfig                  `yaml:"monitor"`
	Intervention InterventionConfig             `yaml:"intervention"`
	Hooks        HooksConfig                    `yaml:"hooks"`
	Observer     ObserverConfig                 `yaml:"observer"`
	Store        StoreConfig                    `yaml:"store"`
	Ledger       LedgerConfig                   `yaml:"ledger"`
}
