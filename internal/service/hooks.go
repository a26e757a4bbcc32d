package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Hooks holds optional commands that run around a service's lifecycle.
type Hooks struct {
	PreStart  []Hook `json:"pre_start" mapstructure:"pre_start"`
	PostStart []Hook `json:"post_start" mapstructure:"post_start"`
	PreStop   []Hook `json:"pre_stop" mapstructure:"pre_stop"`
	PostStop  []Hook `json:"post_stop" mapstructure:"post_stop"`
}

// Hook is a single lifecycle command.
type Hook struct {
	Name        string        `json:"name" mapstructure:"name"`
	Command     string        `json:"command" mapstructure:"command"`
	WorkDir     string        `json:"work_dir" mapstructure:"work_dir"`
	Env         []string      `json:"env" mapstructure:"env"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"` // default 30s
	FailureMode FailureMode   `json:"failure_mode" mapstructure:"failure_mode"`
	RunMode     RunMode       `json:"run_mode" mapstructure:"run_mode"`
}

type FailureMode string

const (
	FailureIgnore FailureMode = "ignore" // log and continue
	FailureFail   FailureMode = "fail"   // abort the surrounding operation
)

type RunMode string

const (
	RunBlocking RunMode = "blocking"
	RunAsync    RunMode = "async"
)

// HasAny reports whether any phase has hooks.
func (h Hooks) HasAny() bool {
	return len(h.PreStart)+len(h.PostStart)+len(h.PreStop)+len(h.PostStop) > 0
}

// Validate checks every hook and rejects duplicate names across phases.
func (h Hooks) Validate() error {
	var errs []error
	seen := make(map[string]string)
	for phase, hooks := range map[string][]Hook{
		"pre_start":  h.PreStart,
		"post_start": h.PostStart,
		"pre_stop":   h.PreStop,
		"post_stop":  h.PostStop,
	} {
		for i, hk := range hooks {
			if err := hk.Validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s hook %d: %w", phase, i, err))
				continue
			}
			if prev, dup := seen[hk.Name]; dup {
				errs = append(errs, fmt.Errorf("hook name %q used in both %s and %s", hk.Name, prev, phase))
			}
			seen[hk.Name] = phase
		}
	}
	return errors.Join(errs...)
}

// Validate checks a single hook.
func (h Hook) Validate() error {
	name := strings.TrimSpace(h.Name)
	if name == "" {
		return errors.New("hook name is required")
	}
	if strings.ContainsAny(name, " \t\n/\\") {
		return fmt.Errorf("hook %q: name contains whitespace or path separators", name)
	}
	if strings.TrimSpace(h.Command) == "" {
		return fmt.Errorf("hook %q: command is required", name)
	}
	switch h.FailureMode {
	case "", FailureIgnore, FailureFail:
	default:
		return fmt.Errorf("hook %q: failure_mode %q must be ignore or fail", name, h.FailureMode)
	}
	switch h.RunMode {
	case "", RunBlocking, RunAsync:
	default:
		return fmt.Errorf("hook %q: run_mode %q must be blocking or async", name, h.RunMode)
	}
	if h.Timeout < 0 {
		return fmt.Errorf("hook %q: timeout must not be negative", name)
	}
	for i, kv := range h.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("hook %q: env[%d] %q must be KEY=VALUE", name, i, kv)
		}
	}
	return nil
}

// Normalized returns the hook with defaults applied.
func (h Hook) Normalized() Hook {
	if h.FailureMode == "" {
		h.FailureMode = FailureFail
	}
	if h.RunMode == "" {
		h.RunMode = RunBlocking
	}
	if h.Timeout == 0 {
		h.Timeout = 30 * time.Second
	}
	return h
}
