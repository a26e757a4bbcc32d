package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haelod/conductr/internal/events"
	"github.com/haelod/conductr/internal/health"
	"github.com/haelod/conductr/internal/metrics"
	"github.com/haelod/conductr/internal/process"
	"github.com/haelod/conductr/internal/restart"
	"github.com/haelod/conductr/internal/service"
)

type cmdKind int

const (
	cmdStart cmdKind = iota // manual start: clears crash bookkeeping
	cmdStop
	cmdRestart // manual restart: stop, fixed delay, start; clears bookkeeping
	cmdReload  // hot reload / scheduled relaunch: restart without touching the crash budget
	cmdShutdown
)

type cmdMsg struct {
	kind   cmdKind
	reason string // restart reason label for reload commands
	reply  chan error
	// healthCh, when non-nil on a start, receives exactly one wait result
	// once the reply was nil. StartAll joins tiers on these futures.
	healthCh chan health.Result
}

// exitMsg is published by the process exit observer. gen identifies the
// spawn it belongs to so stale notifications are discarded.
type exitMsg struct {
	gen int
	err error
}

// healthMsg delivers the outcome of one wait-until-healthy loop.
type healthMsg struct {
	gen    int
	result health.Result
}

// probeMsg delivers one steady-state health poll result.
type probeMsg struct {
	gen int
	ok  bool
	err error
}

// crashMsg fires when a scheduled crash-recovery delay elapses.
type crashMsg struct {
	gen int
}

// actor owns one service's runtime state. All mutation happens on the
// actor's goroutine; the rest of the supervisor communicates through the
// control and notification channels and reads published snapshots.
type actor struct {
	def     service.Definition
	sup     *Supervisor
	proc    *process.Process
	log     *slog.Logger
	ctrl    chan cmdMsg
	notify  chan any // exitMsg | healthMsg | crashMsg
	done    chan struct{}
	checker health.Checker

	// actor-goroutine state
	gen          int
	spawnCtx     context.Context
	spawnCancel  context.CancelFunc
	state        service.State
	healthy      bool
	restartCount int
	lastRestart  time.Time
	lastHealthy  time.Time
	pendingCrash bool
	startedAt    time.Time
	stoppedAt    time.Time
	exitErr      error

	snap publishedStatus
}

func newActor(def service.Definition, sup *Supervisor) *actor {
	a := &actor{
		def:    def,
		sup:    sup,
		proc:   process.New(def, sup.launcher),
		log:    sup.log.With(slog.String("service", def.Name)),
		ctrl:   make(chan cmdMsg, 16),
		notify: make(chan any, 16),
		done:   make(chan struct{}),
		state:  service.StateStopped,
	}
	if def.HealthURL != "" {
		a.checker = health.NewHTTPChecker(def.HealthURL, def.HealthTimeout)
	} else {
		a.checker = nopChecker{}
	}
	a.publish()
	return a
}

// nopChecker stands in for services without a health URL: nothing to
// probe, so the wait succeeds on the first attempt.
type nopChecker struct{}

func (nopChecker) Check(context.Context) error { return nil }

func (a *actor) run() {
	defer close(a.done)
	for {
		select {
		case msg := <-a.ctrl:
			var err error
			switch msg.kind {
			case cmdStart:
				err = a.start(true, msg.healthCh)
			case cmdStop:
				err = a.stop()
			case cmdRestart:
				err = a.restartNow("manual", true)
			case cmdReload:
				err = a.restartNow(msg.reason, false)
			case cmdShutdown:
				if a.proc.Running() {
					_ = a.stop()
				}
				a.proc.CloseWriters()
				if msg.reply != nil {
					msg.reply <- nil
				}
				return
			}
			if msg.reply != nil {
				msg.reply <- err
			}
		case n := <-a.notify:
			switch m := n.(type) {
			case exitMsg:
				a.onExit(m)
			case healthMsg:
				a.onHealth(m)
			case probeMsg:
				a.onProbe(m)
			case crashMsg:
				a.onCrashTimer(m)
			}
		}
	}
}

// start spawns the child. Manual starts clear crash bookkeeping; crash
// recovery passes manual=false so the budget keeps accumulating.
func (a *actor) start(manual bool, healthCh chan health.Result) error {
	if a.state.Running() {
		a.log.Warn("start requested but already running", "state", string(a.state))
		if healthCh != nil {
			healthCh <- health.Result{
				Service: a.def.Name,
				Success: a.healthy || a.def.HealthURL == "",
			}
		}
		return nil
	}
	if manual {
		a.restartCount = 0
		a.lastRestart = time.Time{}
		a.pendingCrash = false
		metrics.SetRestartCount(a.def.Name, 0)
	}
	return a.spawn(healthCh)
}

// spawn does the actual launch and installs the gen-guarded exit observer
// and health wait.
func (a *actor) spawn(healthCh chan health.Result) error {
	env := a.sup.env.Merge(a.def.Env, a.def.Port)
	if a.def.Hooks.HasAny() {
		if err := process.RunHooks(context.Background(), a.def.Name, "pre_start", a.def.Hooks.PreStart, env, a.log); err != nil {
			a.log.Error("pre_start hook failed", "error", err)
			return err
		}
	}

	a.gen++
	gen := a.gen
	a.sup.emit(events.Event{Type: events.TypeStarting, Service: a.def.Name})
	err := a.proc.Start(env, func(exitErr error) {
		a.notify <- exitMsg{gen: gen, err: exitErr}
	})
	if err != nil {
		a.log.Error("spawn failed", "error", err)
		a.setState(service.StateStopped)
		a.exitErr = err
		a.publish()
		return err
	}

	a.exitErr = nil
	a.healthy = false
	a.startedAt = a.proc.StartedAt()
	a.stoppedAt = time.Time{}
	a.setState(service.StateStarting)
	a.spawnCtx, a.spawnCancel = context.WithCancel(a.sup.ctx)
	a.publish()

	pid := a.proc.PID()
	a.log.Info("started", "pid", pid)
	metrics.IncStart(a.def.Name)
	metrics.SetUp(a.def.Name, true)
	a.sup.emit(events.Event{Type: events.TypeStarted, Service: a.def.Name, PID: pid})

	go a.awaitHealth(a.spawnCtx, gen, healthCh)
	if a.def.Hooks.HasAny() {
		if err := process.RunHooks(context.Background(), a.def.Name, "post_start", a.def.Hooks.PostStart, env, a.log); err != nil {
			a.log.Error("post_start hook failed", "error", err)
		}
	}
	return nil
}

// awaitHealth runs off the actor goroutine; the result is delivered as a
// notification so state mutation stays on the actor, and mirrored to the
// caller's future when one was handed in. ctx is the spawn's context: an
// exit cancels it so tier joins are not left polling a dead process.
func (a *actor) awaitHealth(ctx context.Context, gen int, healthCh chan health.Result) {
	res := health.WaitForService(ctx, a.def.Name, a.checker, health.WaitOptions{
		InitialDelay: a.def.HealthInterval,
		MaxDelay:     a.def.HealthMaxDelay,
		MaxAttempts:  a.def.HealthMaxAttempts,
		Timeout:      a.def.StartTimeout,
	})
	if healthCh != nil {
		healthCh <- res
	}
	select {
	case a.notify <- healthMsg{gen: gen, result: res}:
	case <-a.sup.ctx.Done():
	}
}

func (a *actor) onHealth(m healthMsg) {
	if m.gen != a.gen || !a.state.Running() {
		return
	}
	metrics.IncHealthCheck(a.def.Name, m.result.Success)
	if m.result.Success {
		a.healthy = true
		a.lastHealthy = time.Now()
		a.setState(service.StateHealthy)
		metrics.SetHealthy(a.def.Name, true)
		metrics.ObserveStartDuration(a.def.Name, m.result.Elapsed.Seconds())
		a.log.Info("healthy", "elapsed", m.result.Elapsed, "attempts", m.result.Attempts)
		a.sup.emit(events.Event{
			Type: events.TypeHealthy, Service: a.def.Name,
			ElapsedMS: m.result.Elapsed.Milliseconds(), PID: a.proc.PID(),
		})
	} else {
		a.healthy = false
		a.setState(service.StateDegraded)
		metrics.SetHealthy(a.def.Name, false)
		detail := "health wait exhausted"
		if m.result.Err != nil {
			detail = m.result.Err.Error()
		}
		a.log.Warn("did not become healthy", "elapsed", m.result.Elapsed, "attempts", m.result.Attempts, "error", m.result.Err)
		a.sup.emit(events.Event{
			Type: events.TypeUnhealthy, Service: a.def.Name,
			ElapsedMS: m.result.Elapsed.Milliseconds(), Detail: detail,
		})
	}
	a.publish()
	if _, vacuous := a.checker.(nopChecker); !vacuous {
		go a.monitor(a.spawnCtx, m.gen)
	}
}

// monitor keeps polling the health endpoint after the startup wait has
// settled, so a degraded service can recover and a healthy one is demoted
// as soon as a probe fails. It stops when the spawn's context is cancelled.
func (a *actor) monitor(ctx context.Context, gen int) {
	if ctx == nil {
		return
	}
	interval := a.def.HealthMaxDelay
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := a.checker.Check(ctx)
			select {
			case a.notify <- probeMsg{gen: gen, ok: err == nil, err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// onProbe applies a steady-state poll. Only edges are reported; a probe
// result matching the current flag is just counted.
func (a *actor) onProbe(m probeMsg) {
	if m.gen != a.gen || !a.state.Running() || a.state == service.StateStopping {
		return
	}
	metrics.IncHealthCheck(a.def.Name, m.ok)
	if m.ok == a.healthy {
		if m.ok {
			a.lastHealthy = time.Now()
		}
		return
	}
	if m.ok {
		a.healthy = true
		a.lastHealthy = time.Now()
		a.setState(service.StateHealthy)
		metrics.SetHealthy(a.def.Name, true)
		a.log.Info("health restored")
		a.sup.emit(events.Event{Type: events.TypeHealthy, Service: a.def.Name, PID: a.proc.PID()})
	} else {
		a.healthy = false
		a.setState(service.StateDegraded)
		metrics.SetHealthy(a.def.Name, false)
		a.log.Warn("health check failing", "error", m.err)
		a.sup.emit(events.Event{Type: events.TypeUnhealthy, Service: a.def.Name, Detail: m.err.Error()})
	}
	a.publish()
}

// onExit handles the observer's notification. Exits observed during a stop
// are resolved inside stop; this path only sees unexpected exits.
func (a *actor) onExit(m exitMsg) {
	if m.gen != a.gen {
		return
	}
	if a.spawnCancel != nil {
		a.spawnCancel()
	}
	wasHealthy := a.healthy
	a.healthy = false
	a.exitErr = m.err
	a.stoppedAt = a.proc.StoppedAt()
	metrics.SetUp(a.def.Name, false)
	metrics.SetHealthy(a.def.Name, false)
	if wasHealthy || a.state.Running() {
		a.sup.emit(events.Event{Type: events.TypeExited, Service: a.def.Name, Detail: exitDetail(m.err)})
	}

	if a.sup.shuttingDown() || a.state == service.StateStopping {
		a.setState(service.StateStopped)
		a.publish()
		return
	}

	if m.err == nil {
		// Clean exit while running: the service finished on its own terms;
		// not a crash, no restart.
		a.log.Info("exited cleanly")
		a.setState(service.StateStopped)
		a.publish()
		return
	}

	a.log.Warn("exited unexpectedly", "error", m.err)
	a.evaluateCrash()
}

func (a *actor) evaluateCrash() {
	now := time.Now()
	decision := restart.Evaluate(now, restart.History{
		Count:         a.restartCount,
		LastRestartAt: a.lastRestart,
	}, restart.Policy{
		MaxRestarts: a.def.MaxRestarts,
		Window:      a.def.RestartWindow,
		Backoff:     a.def.Backoff,
		BackoffMax:  a.def.BackoffMax,
	})
	if !decision.Allow {
		a.setState(service.StateFailed)
		a.publish()
		a.log.Error("max restarts exceeded, giving up",
			"restarts", a.restartCount, "window", a.def.RestartWindow)
		a.sup.emit(events.Event{
			Type: events.TypeRestartDenied, Service: a.def.Name,
			Detail: restart.ErrMaxRestarts.Error(),
		})
		return
	}

	a.restartCount = decision.Count
	a.lastRestart = now
	a.pendingCrash = true
	a.setState(service.StateStopped)
	metrics.SetRestartCount(a.def.Name, a.restartCount)
	a.publish()
	a.log.Info("restart scheduled", "attempt", a.restartCount, "delay", decision.Delay)
	a.sup.emit(events.Event{
		Type: events.TypeRestartScheduled, Service: a.def.Name,
		Detail: decision.Delay.String(), ElapsedMS: decision.Delay.Milliseconds(),
	})

	gen := a.gen
	time.AfterFunc(decision.Delay, func() {
		select {
		case a.notify <- crashMsg{gen: gen}:
		case <-a.sup.ctx.Done():
		}
	})
}

// onCrashTimer performs the delayed crash-recovery start. A manual stop or
// start since scheduling clears pendingCrash and cancels recovery.
func (a *actor) onCrashTimer(m crashMsg) {
	if m.gen != a.gen || !a.pendingCrash || a.sup.shuttingDown() {
		return
	}
	a.pendingCrash = false
	if a.state.Running() {
		return
	}
	metrics.IncRestart(a.def.Name, "crash")
	if err := a.spawn(nil); err != nil {
		// The spawn itself failed; burn through the budget the same way a
		// crash does so a broken command cannot retry forever.
		a.evaluateCrash()
	}
}

// stop terminates the child with the graceful-then-forceful discipline.
// Stopping a stopped service is a warning no-op.
func (a *actor) stop() error {
	a.pendingCrash = false
	if !a.proc.Running() {
		if a.state != service.StateFailed {
			a.setState(service.StateStopped)
		}
		a.publish()
		a.log.Warn("stop requested but not running")
		return nil
	}

	env := a.sup.env.Merge(a.def.Env, a.def.Port)
	if a.def.Hooks.HasAny() {
		if err := process.RunHooks(context.Background(), a.def.Name, "pre_stop", a.def.Hooks.PreStop, env, a.log); err != nil {
			a.log.Error("pre_stop hook failed", "error", err)
		}
	}

	a.setState(service.StateStopping)
	a.healthy = false
	metrics.SetHealthy(a.def.Name, false)
	a.publish()
	a.sup.emit(events.Event{Type: events.TypeStopping, Service: a.def.Name, PID: a.proc.PID()})

	began := time.Now()
	forced, err := a.proc.Stop(a.def.StopTimeout)
	if a.spawnCancel != nil {
		a.spawnCancel()
	}
	// The exit observer has published (or will publish) an exitMsg for this
	// spawn; bump the generation so it is discarded as stale.
	a.gen++
	a.exitErr = a.proc.ExitErr()
	a.stoppedAt = a.proc.StoppedAt()
	a.setState(service.StateStopped)
	metrics.SetUp(a.def.Name, false)
	metrics.IncStop(a.def.Name)
	a.publish()

	elapsed := time.Since(began)
	if forced {
		a.log.Warn("graceful stop timed out, killed", "elapsed", elapsed)
	} else {
		a.log.Info("stopped", "elapsed", elapsed)
	}
	a.sup.emit(events.Event{
		Type: events.TypeStopped, Service: a.def.Name,
		ElapsedMS: elapsed.Milliseconds(), Detail: stopDetail(forced),
	})

	if a.def.Hooks.HasAny() {
		if hookErr := process.RunHooks(context.Background(), a.def.Name, "post_stop", a.def.Hooks.PostStop, env, a.log); hookErr != nil {
			a.log.Error("post_stop hook failed", "error", hookErr)
		}
	}
	return err
}

// restartNow is the shared restart path: stop if running, wait the fixed
// inter-restart delay, start. Manual restarts clear crash bookkeeping;
// reload and scheduled relaunches leave the budget untouched.
func (a *actor) restartNow(reason string, manual bool) error {
	if a.proc.Running() {
		if err := a.stop(); err != nil {
			a.log.Warn("stop during restart reported error", "error", err)
		}
	}
	if !manual {
		a.sup.emit(events.Event{Type: events.TypeReload, Service: a.def.Name, Detail: reason})
	}
	metrics.IncRestart(a.def.Name, reason)
	select {
	case <-time.After(a.def.RestartDelay):
	case <-a.sup.ctx.Done():
		return a.sup.ctx.Err()
	}
	return a.start(manual, nil)
}

func (a *actor) setState(next service.State) {
	if a.state == next {
		return
	}
	metrics.RecordStateTransition(a.def.Name, string(a.state), string(next))
	a.state = next
}

func exitDetail(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

func stopDetail(forced bool) string {
	if forced {
		return "killed after grace period"
	}
	return "graceful"
}

// send enqueues a control message and waits for the reply.
func (a *actor) send(ctx context.Context, kind cmdKind, reason string) error {
	return a.sendMsg(ctx, cmdMsg{kind: kind, reason: reason, reply: make(chan error, 1)})
}

// sendStart enqueues a start whose health outcome is mirrored to healthCh.
func (a *actor) sendStart(ctx context.Context, healthCh chan health.Result) error {
	return a.sendMsg(ctx, cmdMsg{kind: cmdStart, reply: make(chan error, 1), healthCh: healthCh})
}

func (a *actor) sendMsg(ctx context.Context, msg cmdMsg) error {
	select {
	case a.ctrl <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return errors.New("supervisor: service actor stopped")
	}
	select {
	case err := <-msg.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return nil
	}
}
