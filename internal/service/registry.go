package service

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ConfigError aggregates every definition violation found at registration.
// It fails the whole load before anything is started.
type ConfigError struct {
	Errs []error
}

func (e *ConfigError) Error() string {
	if len(e.Errs) == 0 {
		return "invalid configuration"
	}
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

func (e *ConfigError) Unwrap() []error { return e.Errs }

// Registry is the immutable-per-run table of service definitions.
type Registry struct {
	byName map[string]*Definition
	order  []string // registration order
}

// NewRegistry normalizes and validates the given definitions. Every
// violation across all definitions is reported in one ConfigError so the
// operator sees the complete picture at once.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{byName: make(map[string]*Definition, len(defs))}
	var errs []error
	for i := range defs {
		d := defs[i].Normalize()
		if err := d.Validate(); err != nil {
			label := d.Name
			if strings.TrimSpace(label) == "" {
				label = fmt.Sprintf("#%d", i)
			}
			errs = append(errs, fmt.Errorf("service %s: %w", label, err))
			continue
		}
		if _, dup := r.byName[d.Name]; dup {
			errs = append(errs, fmt.Errorf("service %s: duplicate name", d.Name))
			continue
		}
		dc := d
		r.byName[d.Name] = &dc
		r.order = append(r.order, d.Name)
	}
	if len(errs) > 0 {
		return nil, &ConfigError{Errs: errs}
	}
	return r, nil
}

// Get returns the definition for name, or nil.
func (r *Registry) Get(name string) *Definition { return r.byName[name] }

// Names returns all registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// All returns the definitions in registration order.
func (r *Registry) All() []*Definition {
	out := make([]*Definition, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int { return len(r.order) }

// Tiers groups the definitions by tier in ascending tier order. Within a
// tier, registration order is preserved.
func (r *Registry) Tiers() [][]*Definition {
	byTier := make(map[int][]*Definition)
	for _, n := range r.order {
		d := r.byName[n]
		byTier[d.Tier] = append(byTier[d.Tier], d)
	}
	tiers := make([]int, 0, len(byTier))
	for t := range byTier {
		tiers = append(tiers, t)
	}
	sort.Ints(tiers)
	out := make([][]*Definition, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, byTier[t])
	}
	return out
}
