package config

import "time"

// builtinRules is the default Rule Engine ruleset (spec §4.5), registered
// before any user-supplied rules.yaml is merged in. Registration order here
// is the tie-break order used when severities are equal.
func builtinRules() map[string]RuleConfig {
	return map[string]RuleConfig{
		"custom-math-fn": {
			ID:          "custom-math-fn",
			Name:        "Custom math function definition",
			Description: "subject defined its own math primitive instead of using a library",
			Pattern:     `(?i)\bfunc\s+(factorial|fibonacci|isPrime|gcd|lcm)\s*\(`,
			Severity:    "warning",
			Action:      "redirect",
			Remediation: "Use the standard library or an imported package instead of hand-rolling {match}.",
		},
		"unscoped-var": {
			ID:          "unscoped-var",
			Name:        "Unscoped variable declaration",
			Description: "package-level var where a local would do",
			Pattern:     `(?m)^var\s+\w+\s*=`,
			Severity:    "info",
			Action:      "log",
		},
		"dynamic-eval": {
			ID:          "dynamic-eval",
			Name:        "Dynamic code evaluation",
			Description: "security-critical: dynamic evaluation of untrusted strings",
			Pattern:     `(?i)\b(eval|exec\.Command\(\s*"sh"|os/exec"\s*;\s*sh\s*-c)\b`,
			Severity:    "critical",
			Action:      "interrupt",
			Remediation: "Dynamic code evaluation is forbidden. Replace {match} with an explicit, reviewable call.",
		},
		"unguarded-print": {
			ID:          "unguarded-print",
			Name:        "Unguarded diagnostic print",
			Description: "fmt.Println/console.log left in implementation code",
			Pattern:     `(?m)^\s*(fmt\.Println|console\.log)\(`,
			Severity:    "info",
			Action:      "log",
		},
		"hardcoded-credential": {
			ID:          "hardcoded-credential",
			Name:        "Hardcoded credential",
			Description: "security-critical: literal secret embedded in source",
			Pattern:     `(?i)(api[_-]?key|secret|password|token)\s*[:=]\s*["'][A-Za-z0-9_\-]{8,}["']`,
			Severity:    "critical",
			Action:      "interrupt",
			Remediation: "Remove the hardcoded credential {match} and load it from the environment instead.",
		},
		"todo-marker": {
			ID:          "todo-marker",
			Name:        "TODO/FIXME marker",
			Description: "deferred implementation instead of a finished artifact",
			Pattern:     `(?i)\b(TODO|FIXME)\b`,
			Severity:    "error",
			Action:      "interrupt",
			Remediation: "Implement {match} now instead of deferring it. Write the file before continuing.",
		},
	}
}

// builtinPhases is the default Phase Controller (C8) template set.
func builtinPhases() map[string]PhaseTemplateConfig {
	return map[string]PhaseTemplateConfig{
		"research": {
			Tag:            "research",
			Budget:         10 * time.Minute,
			AllowedTools:   []string{"read_file", "grep", "list_dir"},
			ForbiddenTools: []string{"write_file", "run_command"},
			OutputFile:     "research-findings.md",
			PromptTemplate: "Spend at most {{.Budget}} researching. You may use: {{.AllowedTools}}. Write findings to {{.OutputFile}}.",
		},
		"planning": {
			Tag:            "planning",
			Budget:         10 * time.Minute,
			AllowedTools:   []string{"read_file", "write_file"},
			ForbiddenTools: []string{"run_command"},
			OutputFile:     "task-plan.json",
			PromptTemplate: "Spend at most {{.Budget}} planning. You may use: {{.AllowedTools}}. Write the plan to {{.OutputFile}} as a JSON array of {id, prompt, expectedFiles, duration}.",
		},
		"execution": {
			Tag:            "execution",
			Budget:         30 * time.Minute,
			AllowedTools:   []string{"read_file", "write_file", "run_command"},
			PromptTemplate: "Spend at most {{.Budget}} implementing the plan. You may use: {{.AllowedTools}}. Produce the files the plan enumerates.",
		},
		"integration": {
			Tag:            "integration",
			Budget:         10 * time.Minute,
			AllowedTools:   []string{"read_file", "write_file", "run_command"},
			OutputFile:     "integrated-solution",
			PromptTemplate: "Spend at most {{.Budget}} integrating the produced files. You may use: {{.AllowedTools}}. Write the final artifact to {{.OutputFile}}.",
		},
	}
}

// defaultConfig returns the full set of hardcoded defaults merged beneath
// any user-supplied configuration file.
func defaultConfig() *Config {
	return &Config{
		Rules:  builtinRules(),
		Phases: builtinPhases(),
		Queue: QueueConfig{
			WorkerCount:        4,
			MaxConcurrentTasks: 4,
			PollInterval:       500 * time.Millisecond,
			PollIntervalJitter: 150 * time.Millisecond,
			TaskTimeout:        45 * time.Minute,
			HeartbeatInterval:  180 * time.Second,
			OrphanScanInterval: 30 * time.Second,
			OrphanGracePeriod:  2 * time.Minute,
			SpawnRetryLimit:    1,
		},
		Monitor: MonitorConfig{
			BufferSize:    4096,
			StallInterval: 30 * time.Second,
			Cooldown:      5 * time.Second,
			HeartbeatByte: 0x00,
		},
		Intervention: InterventionConfig{
			InterruptQuiesce: time.Second,
			TypingDelayMin:   50 * time.Millisecond,
			TypingDelayMax:   150 * time.Millisecond,
			HumanLikeTyping:  false,
			AutoApprove:      true,
		},
		Hooks: HooksConfig{
			StrictAdmission: true,
			ActionVerbs:     []string{"create", "implement", "write", "build", "fix", "add", "update", "refactor", "test"},
			ConcreteNouns:   []string{"component", "function", "class", "module", "feature", "endpoint", "api", "test"},
		},
		Observer: ObserverConfig{
			Port:         8080,
			WriteTimeout: 5 * time.Second,
			CatchupLimit: 200,
		},
		Store: StoreConfig{
			Path:          "overseer.db",
			MaxOpenConns:  1, // SQLite: single-writer, see pkg/store doc comment
			BusyTimeoutMS: 5000,
		},
		Ledger: LedgerConfig{
			SinkPath: "events.jsonl",
		},
	}
}
