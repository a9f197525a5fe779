package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileConfig is the subset of Config that may be supplied by a user YAML
// file; omitted sections fall back to the built-in defaults via mergo.
type fileConfig struct {
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

// Load reads, env-expands, and parses the YAML file at path, merges it over
// the built-in defaults, validates the result, and returns a ready-to-use
// Config. An empty path yields the defaults unmodified.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}

		expanded := ExpandEnv(raw)

		var fc fileConfig
		if err := yaml.Unmarshal(expanded, &fc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}

		if err := mergeUserConfig(cfg, &fc); err != nil {
			return nil, fmt.Errorf("merging config: %w", err)
		}
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	return cfg, nil
}

// mergeUserConfig merges user-supplied rules/phases by key (user entries win
// outright for a given ID, matching the teacher's "user overrides built-in
// with same name" rule-merge semantics) and merges scalar sections with
// mergo, letting non-zero user fields override defaults field-by-field.
func mergeUserConfig(cfg *Config, fc *fileConfig) error {
	for id, rule := range fc.Rules {
		cfg.Rules[id] = rule
	}
	for id, phase := range fc.Phases {
		cfg.Phases[id] = phase
	}

	if err := mergo.Merge(&cfg.Queue, fc.Queue, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging queue config: %w", err)
	}
	if err := mergo.Merge(&cfg.Monitor, fc.Monitor, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging monitor config: %w", err)
	}
	if err := mergo.Merge(&cfg.Intervention, fc.Intervention, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging intervention config: %w", err)
	}
	if err := mergo.Merge(&cfg.Hooks, fc.Hooks, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging hooks config: %w", err)
	}
	if err := mergo.Merge(&cfg.Observer, fc.Observer, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging observer config: %w", err)
	}
	if err := mergo.Merge(&cfg.Store, fc.Store, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging store config: %w", err)
	}
	if err := mergo.Merge(&cfg.Ledger, fc.Ledger, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging ledger config: %w", err)
	}
	return nil
}
