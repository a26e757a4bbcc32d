package service

import (
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/haelod/conductr/internal/logger"
)

// Defaults applied by Normalize when a field is unset.
const (
	DefaultHealthTimeout     = 2 * time.Second
	DefaultHealthInterval    = 200 * time.Millisecond
	DefaultHealthMaxDelay    = 3 * time.Second
	DefaultHealthMaxAttempts = 30
	DefaultStartTimeout      = 60 * time.Second
	DefaultMaxRestarts       = 5
	DefaultRestartWindow     = 60 * time.Second
	DefaultBackoff           = time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultRestartDelay      = 500 * time.Millisecond
	DefaultStopTimeout       = 5 * time.Second
	DefaultWatchDebounce     = time.Second
)

// Definition describes one managed service. Definitions are immutable once
// registered; the supervisor copies them into its per-service actors.
type Definition struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`
	WorkDir string   `json:"work_dir"`
	Env     []string `json:"env"`
	Port    int      `json:"port"` // advisory; injected as PORT when > 0
	Tier    int      `json:"tier"` // lower tiers start first

	HealthURL         string        `json:"health_url"`
	HealthTimeout     time.Duration `json:"health_timeout"`
	HealthInterval    time.Duration `json:"health_interval"`
	HealthMaxDelay    time.Duration `json:"health_max_delay"`
	HealthMaxAttempts int           `json:"health_max_attempts"`
	StartTimeout      time.Duration `json:"start_timeout"`

	MaxRestarts   int           `json:"max_restarts"`
	RestartWindow time.Duration `json:"restart_window"`
	Backoff       time.Duration `json:"backoff"`
	BackoffMax    time.Duration `json:"backoff_max"`
	RestartDelay  time.Duration `json:"restart_delay"` // stop -> start gap for explicit restarts

	StopTimeout time.Duration `json:"stop_timeout"`

	WatchPaths    []string      `json:"watch_paths"`
	WatchExts     []string      `json:"watch_exts"`
	WatchDebounce time.Duration `json:"watch_debounce"`

	RestartEvery time.Duration `json:"restart_every"` // scheduled relaunch; 0 disables

	PIDFile string        `json:"pid_file"`
	Log     logger.Config `json:"log"`
	Hooks   Hooks         `json:"hooks"`
}

// Normalize fills unset fields with defaults and returns the result.
// Validation happens separately so that zero-value misuse is still caught.
func (d Definition) Normalize() Definition {
	if d.HealthTimeout <= 0 {
		d.HealthTimeout = DefaultHealthTimeout
	}
	if d.HealthInterval <= 0 {
		d.HealthInterval = DefaultHealthInterval
	}
	if d.HealthMaxDelay <= 0 {
		d.HealthMaxDelay = DefaultHealthMaxDelay
	}
	if d.HealthMaxAttempts <= 0 {
		d.HealthMaxAttempts = DefaultHealthMaxAttempts
	}
	if d.StartTimeout <= 0 {
		d.StartTimeout = DefaultStartTimeout
	}
	if d.MaxRestarts <= 0 {
		d.MaxRestarts = DefaultMaxRestarts
	}
	if d.RestartWindow <= 0 {
		d.RestartWindow = DefaultRestartWindow
	}
	if d.Backoff <= 0 {
		d.Backoff = DefaultBackoff
	}
	if d.BackoffMax <= 0 {
		d.BackoffMax = DefaultBackoffMax
	}
	if d.RestartDelay <= 0 {
		d.RestartDelay = DefaultRestartDelay
	}
	if d.StopTimeout <= 0 {
		d.StopTimeout = DefaultStopTimeout
	}
	if d.WatchDebounce <= 0 {
		d.WatchDebounce = DefaultWatchDebounce
	}
	return d
}

// Validate reports every violation in the definition, joined into one error.
func (d Definition) Validate() error {
	var errs []error
	name := strings.TrimSpace(d.Name)
	if name == "" {
		errs = append(errs, errors.New("name is required"))
	} else if !nameRe.MatchString(name) {
		errs = append(errs, fmt.Errorf("name %q contains invalid characters", name))
	}
	if strings.TrimSpace(d.Command) == "" {
		errs = append(errs, errors.New("command is required"))
	}
	if d.Port < 0 || d.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", d.Port))
	}
	if d.Tier < 0 {
		errs = append(errs, fmt.Errorf("tier %d must not be negative", d.Tier))
	}
	if d.HealthURL != "" {
		u, err := url.Parse(d.HealthURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("health_url %q must be an http(s) URL", d.HealthURL))
		}
	}
	if d.HealthMaxDelay > 0 && d.HealthInterval > 0 && d.HealthMaxDelay < d.HealthInterval {
		errs = append(errs, fmt.Errorf("health_max_delay %s is below health_interval %s", d.HealthMaxDelay, d.HealthInterval))
	}
	for _, f := range []struct {
		name string
		v    time.Duration
	}{
		{"health_timeout", d.HealthTimeout},
		{"health_interval", d.HealthInterval},
		{"health_max_delay", d.HealthMaxDelay},
		{"start_timeout", d.StartTimeout},
		{"restart_window", d.RestartWindow},
		{"backoff", d.Backoff},
		{"backoff_max", d.BackoffMax},
		{"restart_delay", d.RestartDelay},
		{"stop_timeout", d.StopTimeout},
		{"watch_debounce", d.WatchDebounce},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", f.name))
		}
	}
	if d.MaxRestarts < 0 || d.HealthMaxAttempts < 0 {
		errs = append(errs, errors.New("restart and attempt counts must not be negative"))
	}
	if d.RestartEvery != 0 && d.RestartEvery < time.Second {
		errs = append(errs, fmt.Errorf("restart_every %s is below the 1s minimum", d.RestartEvery))
	}
	if len(d.WatchExts) > 0 && len(d.WatchPaths) == 0 {
		errs = append(errs, errors.New("watch_exts set without watch_paths"))
	}
	if err := d.Hooks.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SplitCommand resolves a command string into an argv. Plain commands are
// split on whitespace and executed directly; strings with shell
// metacharacters run under /bin/sh -c; an explicit "sh -c '...'" prefix is
// unwrapped so the script does not pass through two shells.
func SplitCommand(cmdStr string) (string, []string) {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return "/bin/true", nil
	}
	if _, script, ok := parseExplicitShell(cmdStr); ok {
		return "/bin/sh", []string{"-c", script}
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return "/bin/sh", []string{"-c", cmdStr}
	}
	parts := strings.Fields(cmdStr)
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return parts[0], args
}

// BuildCommand constructs an *exec.Cmd for the definition's Command.
func (d Definition) BuildCommand() *exec.Cmd {
	name, args := SplitCommand(d.Command)
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// script after -c with one layer of surrounding quotes stripped, so the
// shell sees the actual script rather than a quoted literal.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}

// ParseInterval parses a relaunch interval. Both plain Go durations ("30s")
// and the "@every 30s" form are accepted.
func ParseInterval(expr string) (time.Duration, error) {
	s := strings.TrimSpace(expr)
	s = strings.TrimPrefix(s, "@every ")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty interval")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", expr, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %q must be positive", expr)
	}
	return d, nil
}
