package config

import (
	"fmt"
	"regexp"
)

var validSeverities = map[string]bool{"info": true, "warning": true, "error": true, "critical": true}
var validActions = map[string]bool{"log": true, "warn": true, "interrupt": true, "redirect": true}
var validPhaseTags = map[string]bool{"research": true, "planning": true, "execution": true, "integration": true}

// Validator validates a Config comprehensively with clear, component-scoped
// error messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs fail-fast validation in dependency order: rules
// before phases (phase prompts can reference rule-driven tool names),
// phases before queue, queue before the rest.
func (v *Validator) ValidateAll() error {
	if err := v.validateRules(); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}
	if err := v.validatePhases(); err != nil {
		return fmt.Errorf("phase validation failed: %w", err)
	}
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateMonitor(); err != nil {
		return fmt.Errorf("monitor validation failed: %w", err)
	}
	if err := v.validateObserver(); err != nil {
		return fmt.Errorf("observer validation failed: %w", err)
	}
	if err := v.validateStore(); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateRules() error {
	for id, r := range v.cfg.Rules {
		if r.ID == "" {
			return &ValidationError{Component: "rule", ID: id, Field: "id", Err: ErrMissingRequiredField}
		}
		if !validSeverities[r.Severity] {
			return &ValidationError{Component: "rule", ID: id, Field: "severity", Err: fmt.Errorf("%w: %q", ErrInvalidValue, r.Severity)}
		}
		if !validActions[r.Action] {
			return &ValidationError{Component: "rule", ID: id, Field: "action", Err: fmt.Errorf("%w: %q", ErrInvalidValue, r.Action)}
		}
		if r.Pattern == "" {
			return &ValidationError{Component: "rule", ID: id, Field: "pattern", Err: ErrMissingRequiredField}
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return &ValidationError{Component: "rule", ID: id, Field: "pattern", Err: err}
		}
	}
	return nil
}

func (v *Validator) validatePhases() error {
	for id, p := range v.cfg.Phases {
		if !validPhaseTags[p.Tag] {
			return &ValidationError{Component: "phase", ID: id, Field: "tag", Err: fmt.Errorf("%w: %q", ErrInvalidValue, p.Tag)}
		}
		if p.Budget <= 0 {
			return &ValidationError{Component: "phase", ID: id, Field: "budget", Err: ErrInvalidValue}
		}
		if p.SuccessPattern != "" {
			if _, err := regexp.Compile(p.SuccessPattern); err != nil {
				return &ValidationError{Component: "phase", ID: id, Field: "success_pattern", Err: err}
			}
		}
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount <= 0 {
		return &ValidationError{Component: "queue", ID: "queue", Field: "worker_count", Err: ErrInvalidValue}
	}
	if q.MaxConcurrentTasks <= 0 {
		return &ValidationError{Component: "queue", ID: "queue", Field: "max_concurrent_tasks", Err: ErrInvalidValue}
	}
	if q.TaskTimeout <= 0 {
		return &ValidationError{Component: "queue", ID: "queue", Field: "task_timeout", Err: ErrInvalidValue}
	}
	return nil
}

func (v *Validator) validateMonitor() error {
	m := v.cfg.Monitor
	if m.BufferSize <= 0 {
		return &ValidationError{Component: "monitor", ID: "monitor", Field: "buffer_size", Err: ErrInvalidValue}
	}
	if m.StallInterval <= 0 {
		return &ValidationError{Component: "monitor", ID: "monitor", Field: "stall_interval", Err: ErrInvalidValue}
	}
	if m.Cooldown <= 0 {
		return &ValidationError{Component: "monitor", ID: "monitor", Field: "cooldown", Err: ErrInvalidValue}
	}
	return nil
}

func (v *Validator) validateObserver() error {
	o := v.cfg.Observer
	if o.Port <= 0 || o.Port > 65535 {
		return &ValidationError{Component: "observer", ID: "observer", Field: "port", Err: ErrInvalidValue}
	}
	return nil
}

func (v *Validator) validateStore() error {
	if v.cfg.Store.Path == "" {
		return &ValidationError{Component: "store", ID: "store", Field: "path", Err: ErrMissingRequiredField}
	}
	return nil
}
