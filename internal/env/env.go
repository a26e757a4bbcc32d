package env

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ModeVar is injected into every child so services can pick their profile.
const ModeVar = "CONDUCTR_MODE"

type Var map[string]string

// Env composes the environment handed to child processes. Layering, lowest
// precedence first: OS environment (when enabled), env files, global
// variables, per-service overrides, then the injected PORT and mode.
type Env struct {
	vars  Var
	base  Var // cached OS environment
	useOS bool
	mode  string
}

func New() *Env {
	return &Env{vars: make(Var), useOS: true}
}

// SetUseOS controls whether the OS environment forms the base layer.
func (e *Env) SetUseOS(use bool) { e.useOS = use }

// SetMode records the run mode ("development", "production", ...).
func (e *Env) SetMode(mode string) { e.mode = mode }

// Mode returns the configured run mode.
func (e *Env) Mode() string { return e.mode }

// Set adds or replaces a global variable.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.vars == nil {
		e.vars = make(Var)
	}
	e.vars[k] = v
}

// SetAll applies a list of "KEY=VALUE" entries as global variables.
// Malformed entries are skipped.
func (e *Env) SetAll(kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			e.Set(kv[:i], kv[i+1:])
		}
	}
}

// LoadFile reads a .env style file (KEY=VALUE lines, # comments) and applies
// its entries as global variables.
func (e *Env) LoadFile(path string) error {
	pairs, err := ReadEnvFile(path)
	if err != nil {
		return err
	}
	for k, v := range pairs {
		e.Set(k, v)
	}
	return nil
}

func (e *Env) osBase() Var {
	if e.base == nil {
		base := make(Var)
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i > 0 {
				base[kv[:i]] = kv[i+1:]
			}
		}
		e.base = base
	}
	return e.base
}

// Merge composes the final "KEY=VALUE" environment for a child. perService
// overrides apply over the global layers; port > 0 adds PORT; the mode, when
// set, is always present as CONDUCTR_MODE. ${VAR} references are expanded
// against the composed map (single pass, no recursion).
func (e *Env) Merge(perService []string, port int) []string {
	m := make(Var)
	if e.useOS {
		for k, v := range e.osBase() {
			m[k] = v
		}
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for _, kv := range perService {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	if port > 0 {
		m["PORT"] = strconv.Itoa(port)
	}
	if e.mode != "" {
		m[ModeVar] = e.mode
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}

// ReadEnvFile parses a simple .env file with KEY=VALUE lines. Lines starting
// with # and blank lines are ignored; no export keyword, no quoting rules.
func ReadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			if k != "" {
				m[k] = v
			}
		}
	}
	return m, nil
}
