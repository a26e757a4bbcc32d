// Package conductr embeds the service supervisor in other Go programs: a
// stable facade over the internal packages, mirroring what the conductr
// CLI wires together.
package conductr

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/haelod/conductr/internal/config"
	"github.com/haelod/conductr/internal/env"
	"github.com/haelod/conductr/internal/events"
	"github.com/haelod/conductr/internal/health"
	"github.com/haelod/conductr/internal/metrics"
	iapi "github.com/haelod/conductr/internal/server"
	"github.com/haelod/conductr/internal/service"
	"github.com/haelod/conductr/internal/supervisor"
)

// Re-export core types for external consumers. These are aliases so
// conversions are zero-cost.

type Definition = service.Definition

type Status = service.Status

type State = service.State

const (
	StateStopped  = service.StateStopped
	StateStarting = service.StateStarting
	StateHealthy  = service.StateHealthy
	StateDegraded = service.StateDegraded
	StateStopping = service.StateStopping
	StateFailed   = service.StateFailed
)

type Event = events.Event

// Supervisor is a thin facade over the internal supervisor. It provides a
// stable public API for embedding.
type Supervisor struct {
	inner *supervisor.Supervisor
	bus   *events.Bus
}

// New builds a supervisor for the given service definitions with default
// wiring: an in-process event bus and the OS environment as the base env.
func New(defs []Definition) (*Supervisor, error) {
	reg, err := service.NewRegistry(defs)
	if err != nil {
		return nil, err
	}
	bus := events.NewBus(nil, 256)
	inner, err := supervisor.New(supervisor.Config{
		Registry: reg,
		Env:      env.New(),
		Bus:      bus,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}
	return &Supervisor{inner: inner, bus: bus}, nil
}

// FromConfig builds a supervisor from a loaded config file, including its
// env layering. Event sinks, the state store and the HTTP server stay with
// the CLI; embedders wire those themselves.
func FromConfig(c *cfg.Config) (*Supervisor, error) {
	reg, err := c.Registry()
	if err != nil {
		return nil, err
	}
	environ, err := c.BuildEnv()
	if err != nil {
		return nil, err
	}
	bus := events.NewBus(nil, 256)
	inner, err := supervisor.New(supervisor.Config{
		Registry: reg,
		Env:      environ,
		Bus:      bus,
	})
	if err != nil {
		bus.Close()
		return nil, err
	}
	return &Supervisor{inner: inner, bus: bus}, nil
}

func (s *Supervisor) Start(ctx context.Context, name string) error { return s.inner.Start(ctx, name) }
func (s *Supervisor) Stop(ctx context.Context, name string) error  { return s.inner.Stop(ctx, name) }
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	return s.inner.Restart(ctx, name)
}
func (s *Supervisor) Reload(name string) error { return s.inner.Reload(name, "reload") }

// StartAll starts every service tier by tier and returns one readiness
// result per service.
func (s *Supervisor) StartAll(ctx context.Context) []HealthResult { return s.inner.StartAll(ctx) }

// StopAll stops everything in reverse tier order.
func (s *Supervisor) StopAll(ctx context.Context) { s.inner.StopAll(ctx) }

// Shutdown stops every service and tears down the supervisor and its
// event bus. The supervisor is unusable afterwards.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.inner.Shutdown(ctx)
	s.bus.Close()
}

func (s *Supervisor) Status(name string) (Status, error) { return s.inner.Status(name) }
func (s *Supervisor) StatusAll() []Status                { return s.inner.StatusAll() }

// Subscribe registers a handler for lifecycle events. Handlers run on the
// bus dispatch goroutine and must not block.
func (s *Supervisor) Subscribe(h func(Event)) { s.bus.Subscribe(h) }

// Health wait facade.

type HealthResult = health.Result

type WaitOptions = health.WaitOptions

// WaitForEndpoints polls the given URLs concurrently until each answers
// 2xx or its budget runs out. It is independent of any supervisor; use it
// to gate on services conductr does not manage.
func WaitForEndpoints(ctx context.Context, urls map[string]string, opts WaitOptions) []HealthResult {
	members := make([]health.Member, 0, len(urls))
	for name, url := range urls {
		members = append(members, health.Member{
			Name:    name,
			Checker: health.NewHTTPChecker(url, 0),
			Opts:    opts,
		})
	}
	return health.WaitForTier(ctx, members)
}

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*cfg.Config, error) { return cfg.Load(path) }

// NewHTTPServer starts the control API on addr for an embedded supervisor.
func NewHTTPServer(addr string, s *Supervisor) *http.Server {
	return iapi.NewServer(addr, s.inner, nil)
}

// Metrics helpers.

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It blocks in the caller's goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
