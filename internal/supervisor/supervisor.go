// Package supervisor is the composition root: it wires the registry,
// process controllers, health monitor, restart policy and event bus into
// the per-service lifecycle operations and the tiered startup protocol.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haelod/conductr/internal/env"
	"github.com/haelod/conductr/internal/events"
	"github.com/haelod/conductr/internal/health"
	"github.com/haelod/conductr/internal/metrics"
	"github.com/haelod/conductr/internal/process"
	"github.com/haelod/conductr/internal/service"
	"github.com/haelod/conductr/internal/store"
)

// persistTimeout bounds one advisory store write.
const persistTimeout = 2 * time.Second

// Config assembles a Supervisor. Registry is required; everything else
// falls back to a usable default.
type Config struct {
	Registry *service.Registry
	Env      *env.Env
	Bus      *events.Bus
	Store    store.Store       // optional advisory state store
	Launcher process.Launcher  // nil selects the real ExecLauncher
	Log      *slog.Logger
	// Resources, when set, is consulted for CPU/RSS figures in snapshots.
	Resources func(name string) (cpuPercent float64, rssBytes uint64, ok bool)
}

// Supervisor owns one actor goroutine per registered service. Actors are
// the only writers of their service's runtime state; the supervisor routes
// commands to them and assembles read-only snapshots.
type Supervisor struct {
	reg      *service.Registry
	env      *env.Env
	bus      *events.Bus
	st       store.Store
	launcher process.Launcher
	log      *slog.Logger
	res      func(string) (float64, uint64, bool)

	ctx    context.Context
	cancel context.CancelFunc

	actors   map[string]*actor
	down     atomic.Bool
	stopOnce sync.Once
}

func New(cfg Config) (*Supervisor, error) {
	if cfg.Registry == nil || cfg.Registry.Len() == 0 {
		return nil, fmt.Errorf("supervisor: registry with at least one service is required")
	}
	if cfg.Env == nil {
		cfg.Env = env.New()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		reg:      cfg.Registry,
		env:      cfg.Env,
		bus:      cfg.Bus,
		st:       cfg.Store,
		launcher: cfg.Launcher,
		log:      cfg.Log,
		res:      cfg.Resources,
		ctx:      ctx,
		cancel:   cancel,
		actors:   make(map[string]*actor, cfg.Registry.Len()),
	}
	for _, def := range cfg.Registry.All() {
		a := newActor(*def, s)
		s.actors[def.Name] = a
		go a.run()
		if def.RestartEvery > 0 {
			go s.relaunchLoop(def.Name, def.RestartEvery)
		}
	}
	return s, nil
}

// Registry exposes the immutable service table.
func (s *Supervisor) Registry() *service.Registry { return s.reg }

func (s *Supervisor) actor(name string) (*actor, error) {
	a, ok := s.actors[name]
	if !ok {
		return nil, fmt.Errorf("unknown service %q", name)
	}
	return a, nil
}

// Start launches one service. It returns once the process is spawned; the
// health wait runs in the background and is reflected in status.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	a, err := s.actor(name)
	if err != nil {
		return err
	}
	return a.send(ctx, cmdStart, "")
}

// Stop terminates one service with its graceful-then-forceful discipline.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	a, err := s.actor(name)
	if err != nil {
		return err
	}
	return a.send(ctx, cmdStop, "")
}

// Restart stops, waits the fixed inter-restart delay, and starts. As a
// manual operation it clears the crash budget, so it is the operator's way
// out of a permanently failed state.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	a, err := s.actor(name)
	if err != nil {
		return err
	}
	return a.send(ctx, cmdRestart, "")
}

// Reload restarts through the hot-reload path: same mechanics as Restart
// but the crash budget is untouched. The file watcher and the scheduled
// relaunch timers land here.
func (s *Supervisor) Reload(name, reason string) error {
	a, err := s.actor(name)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "reload"
	}
	return a.send(s.ctx, cmdReload, reason)
}

// StartAll runs the tiered startup protocol: tiers in ascending order;
// within a tier every start fires concurrently and the tier is joined with
// an all-settle wait. Failures are collected, never abort later tiers, and
// are returned once every tier was attempted.
func (s *Supervisor) StartAll(ctx context.Context) []health.Result {
	var all []health.Result
	for _, tier := range s.reg.Tiers() {
		results := s.startTier(ctx, tier)
		for _, r := range health.Failed(results) {
			s.log.Warn("service not ready after tier start",
				"service", r.Service, "elapsed", r.Elapsed, "error", r.Err)
		}
		all = append(all, results...)
	}
	return all
}

func (s *Supervisor) startTier(ctx context.Context, tier []*service.Definition) []health.Result {
	results := make([]health.Result, len(tier))
	var wg sync.WaitGroup
	for i, def := range tier {
		wg.Add(1)
		go func(i int, def *service.Definition) {
			defer wg.Done()
			a := s.actors[def.Name]
			began := time.Now()
			healthCh := make(chan health.Result, 1)
			if err := a.sendStart(ctx, healthCh); err != nil {
				results[i] = health.Result{Service: def.Name, Elapsed: time.Since(began), Err: err}
				return
			}
			select {
			case results[i] = <-healthCh:
			case <-ctx.Done():
				results[i] = health.Result{Service: def.Name, Elapsed: time.Since(began), Err: ctx.Err()}
			}
		}(i, def)
	}
	wg.Wait()
	return results
}

// StopAll stops every service, tier by tier in reverse order; within a
// tier stops run in parallel, each bounded by its own grace period.
func (s *Supervisor) StopAll(ctx context.Context) {
	tiers := s.reg.Tiers()
	for i := len(tiers) - 1; i >= 0; i-- {
		var wg sync.WaitGroup
		for _, def := range tiers[i] {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				if err := s.Stop(ctx, name); err != nil {
					s.log.Warn("stop failed", "service", name, "error", err)
				}
			}(def.Name)
		}
		wg.Wait()
	}
}

// Shutdown runs the signal-driven teardown: mark the supervisor as going
// down so exits are not treated as crashes, stop everything, retire the
// actors. Safe to call more than once.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.stopOnce.Do(func() {
		s.down.Store(true)
		s.StopAll(ctx)
		for _, a := range s.actors {
			reply := make(chan error, 1)
			select {
			case a.ctrl <- cmdMsg{kind: cmdShutdown, reply: reply}:
				select {
				case <-reply:
				case <-time.After(2 * time.Second):
				}
			case <-a.done:
			}
		}
		s.cancel()
	})
}

func (s *Supervisor) shuttingDown() bool { return s.down.Load() }

// Status returns the snapshot for one service.
func (s *Supervisor) Status(name string) (service.Status, error) {
	a, err := s.actor(name)
	if err != nil {
		return service.Status{}, err
	}
	return s.enrich(a.snapshot()), nil
}

// StatusAll returns snapshots for every registered service, ordered by
// tier then name.
func (s *Supervisor) StatusAll() []service.Status {
	out := make([]service.Status, 0, len(s.actors))
	for _, def := range s.reg.All() {
		out = append(out, s.enrich(s.actors[def.Name].snapshot()))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return strings.Compare(out[i].Name, out[j].Name) < 0
	})
	return out
}

// PIDs maps running services to their child PID, for the resource sampler.
func (s *Supervisor) PIDs() map[string]int {
	out := make(map[string]int)
	for name, a := range s.actors {
		if st := a.snapshot(); st.Running && st.PID > 0 {
			out[name] = st.PID
		}
	}
	return out
}

func (s *Supervisor) enrich(st service.Status) service.Status {
	if s.res != nil && st.Running {
		if cpu, rss, ok := s.res(st.Name); ok {
			st.CPUPercent, st.MemoryRSS = cpu, rss
		}
	}
	return st
}

// relaunchLoop fires the reload path every interval while the service is
// running. A stopped or failed service is left alone.
func (s *Supervisor) relaunchLoop(name string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.shuttingDown() {
				return
			}
			st, err := s.Status(name)
			if err != nil || !st.Running {
				continue
			}
			s.log.Info("scheduled relaunch", "service", name, "every", every)
			if err := s.Reload(name, "schedule"); err != nil {
				s.log.Warn("scheduled relaunch failed", "service", name, "error", err)
			}
		}
	}
}

func (s *Supervisor) emit(e events.Event) {
	if s.bus != nil {
		s.bus.Emit(e)
	}
	metrics.SetEventOverflow(s.busDropped())
}

func (s *Supervisor) busDropped() uint64 {
	if s.bus == nil {
		return 0
	}
	return s.bus.Dropped()
}

// persist mirrors a snapshot into the advisory store. Failures are logged
// and dropped; the store is never load-bearing.
func (s *Supervisor) persist(st service.Status) {
	if s.st == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		rec := store.Record{
			Name:         st.Name,
			PID:          st.PID,
			State:        string(st.State),
			Healthy:      st.Healthy,
			RestartCount: st.RestartCount,
			StartedAt:    st.StartedAt,
			StoppedAt:    st.StoppedAt,
			UpdatedAt:    time.Now().UTC(),
			ExitErr:      st.ExitErr,
		}
		if err := s.st.UpsertState(ctx, rec); err != nil {
			s.log.Warn("state store write failed", "service", st.Name, "error", err)
		}
	}()
}
