package process

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haelod/conductr/internal/logger"
	"github.com/haelod/conductr/internal/service"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

type fakeChild struct {
	pid int

	mu         sync.Mutex
	alive      bool
	terminated bool
	killed     bool

	exitCh   chan error
	exitOnce sync.Once
	termHook func()
}

func newFakeChild(pid int) *fakeChild {
	return &fakeChild{pid: pid, alive: true, exitCh: make(chan error, 1)}
}

func (f *fakeChild) PID() int { return f.pid }

func (f *fakeChild) Terminate() error {
	f.mu.Lock()
	f.terminated = true
	h := f.termHook
	f.mu.Unlock()
	if h != nil {
		h()
	}
	return nil
}

func (f *fakeChild) Kill() error {
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()
	f.exit(errors.New("killed"))
	return nil
}

func (f *fakeChild) Wait() error {
	err := <-f.exitCh
	f.mu.Lock()
	f.alive = false
	f.mu.Unlock()
	return err
}

func (f *fakeChild) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeChild) exit(err error) {
	f.exitOnce.Do(func() { f.exitCh <- err })
}

func (f *fakeChild) wasKilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed
}

type fakeLauncher struct {
	child *fakeChild
	err   error
}

func (l *fakeLauncher) Launch(service.Definition, []string, io.Writer, io.Writer) (Child, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.child, nil
}

func waitExit(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit observer")
		return nil
	}
}

func TestStartRecordsStateAndObservesExit(t *testing.T) {
	child := newFakeChild(42)
	p := New(service.Definition{Name: "web"}, &fakeLauncher{child: child})

	exitCh := make(chan error, 1)
	if err := p.Start(nil, func(err error) { exitCh <- err }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Running() || p.PID() != 42 {
		t.Fatalf("running=%v pid=%d, want running pid 42", p.Running(), p.PID())
	}

	boom := errors.New("exit status 1")
	child.exit(boom)
	if err := waitExit(t, exitCh); !errors.Is(err, boom) {
		t.Fatalf("observer err = %v, want %v", err, boom)
	}
	if p.Running() {
		t.Fatal("still running after observed exit")
	}
	if !errors.Is(p.ExitErr(), boom) {
		t.Fatalf("ExitErr = %v, want %v", p.ExitErr(), boom)
	}
	if p.StoppedAt().Before(p.StartedAt()) {
		t.Fatal("StoppedAt before StartedAt")
	}
}

func TestStartWhileRunningRejected(t *testing.T) {
	child := newFakeChild(7)
	p := New(service.Definition{Name: "web"}, &fakeLauncher{child: child})
	if err := p.Start(nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(nil, nil); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Start = %v, want ErrRunning", err)
	}
	child.exit(nil)
}

func TestStartLaunchFailureWrapsSpawnError(t *testing.T) {
	base := errors.New("no such file")
	p := New(service.Definition{Name: "api"}, &fakeLauncher{err: base})
	err := p.Start(nil, nil)
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T %v, want *SpawnError", err, err)
	}
	if se.Service != "api" || !errors.Is(err, base) {
		t.Fatalf("SpawnError = %+v", se)
	}
	if p.Running() {
		t.Fatal("running after failed spawn")
	}
}

func TestStopNeverStartedIsNoOp(t *testing.T) {
	p := New(service.Definition{Name: "idle"}, &fakeLauncher{})
	forced, err := p.Stop(time.Second)
	if forced || err != nil {
		t.Fatalf("Stop = (%v, %v), want (false, nil)", forced, err)
	}
}

func TestStopAfterExitIsNoOp(t *testing.T) {
	child := newFakeChild(9)
	p := New(service.Definition{Name: "web"}, &fakeLauncher{child: child})
	exitCh := make(chan error, 1)
	if err := p.Start(nil, func(err error) { exitCh <- err }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	child.exit(nil)
	waitExit(t, exitCh)

	forced, err := p.Stop(time.Second)
	if forced || err != nil {
		t.Fatalf("Stop after exit = (%v, %v), want (false, nil)", forced, err)
	}
}

func TestStopGracefulWhenChildHonorsTerminate(t *testing.T) {
	child := newFakeChild(11)
	child.termHook = func() { child.exit(nil) }
	p := New(service.Definition{Name: "web"}, &fakeLauncher{child: child})
	if err := p.Start(nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	forced, err := p.Stop(2 * time.Second)
	if forced || err != nil {
		t.Fatalf("Stop = (%v, %v), want graceful", forced, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("graceful stop took %s", elapsed)
	}
	if child.wasKilled() {
		t.Fatal("kill sent on graceful path")
	}
}

func TestStopEscalatesWhenTerminateIgnored(t *testing.T) {
	child := newFakeChild(13)
	p := New(service.Definition{Name: "stubborn"}, &fakeLauncher{child: child})
	if err := p.Start(nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	grace := 80 * time.Millisecond
	start := time.Now()
	forced, err := p.Stop(grace)
	elapsed := time.Since(start)
	if !forced || err != nil {
		t.Fatalf("Stop = (%v, %v), want forced", forced, err)
	}
	if elapsed < grace {
		t.Fatalf("stop returned before grace period: %s", elapsed)
	}
	if !child.wasKilled() {
		t.Fatal("kill was not sent after grace expired")
	}
}

func TestExecLaunchAliveAndGracefulStop(t *testing.T) {
	requireUnix(t)
	def := service.Definition{Name: "sleeper", Command: "sleep 5"}
	p := New(def, nil)
	exitCh := make(chan error, 1)
	if err := p.Start(nil, func(err error) { exitCh <- err }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Alive() {
		t.Fatal("child not alive after start")
	}

	start := time.Now()
	forced, err := p.Stop(2 * time.Second)
	if forced || err != nil {
		t.Fatalf("Stop = (%v, %v), want graceful", forced, err)
	}
	if elapsed := time.Since(start); elapsed > 1500*time.Millisecond {
		t.Fatalf("graceful stop of sleep took %s", elapsed)
	}
	waitExit(t, exitCh)
	if p.Alive() {
		t.Fatal("alive after stop")
	}
}

// A shell that ignores the polite signal must be force killed shortly
// after the grace period, never hanging the caller.
func TestExecStopForceKillBounded(t *testing.T) {
	requireUnix(t)
	def := service.Definition{
		Name:    "stubborn",
		Command: "trap '' TERM; while true; do sleep 0.1; done",
	}
	p := New(def, nil)
	exitCh := make(chan error, 1)
	if err := p.Start(nil, func(err error) { exitCh <- err }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	grace := 300 * time.Millisecond
	start := time.Now()
	forced, err := p.Stop(grace)
	elapsed := time.Since(start)
	if !forced {
		t.Fatalf("Stop = (%v, %v), want forced kill", forced, err)
	}
	if err != nil {
		t.Fatalf("forced stop errored: %v", err)
	}
	if elapsed < grace || elapsed > grace+3*time.Second {
		t.Fatalf("forced stop took %s, want just over %s", elapsed, grace)
	}
	waitExit(t, exitCh)
}

func TestExecSpawnFailure(t *testing.T) {
	requireUnix(t)
	p := New(service.Definition{Name: "ghost", Command: "/nonexistent/binary-for-test"}, nil)
	err := p.Start(nil, nil)
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T %v, want *SpawnError", err, err)
	}
}

func TestPIDFileLifecycle(t *testing.T) {
	requireUnix(t)
	pidPath := filepath.Join(t.TempDir(), "run", "svc.pid")
	def := service.Definition{Name: "svc", Command: "sleep 5", PIDFile: pidPath}
	p := New(def, nil)
	exitCh := make(chan error, 1)
	if err := p.Start(nil, func(err error) { exitCh <- err }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile: %v", err)
	}
	if pid != p.PID() {
		t.Fatalf("pid file has %d, process reports %d", pid, p.PID())
	}

	if _, err := p.Stop(2 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	waitExit(t, exitCh)
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatalf("pid file still present after stop: %v", err)
	}
}

func TestCombinedLogCapturesBothStreams(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	def := service.Definition{
		Name:    "chatty",
		Command: "sh -c 'echo from-stdout; echo from-stderr 1>&2'",
		Log:     logger.Config{Dir: dir},
	}
	p := New(def, nil)
	exitCh := make(chan error, 1)
	if err := p.Start(nil, func(err error) { exitCh <- err }); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitExit(t, exitCh)
	p.CloseWriters()

	b, err := os.ReadFile(filepath.Join(dir, "chatty.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	got := string(b)
	if !strings.Contains(got, "from-stdout") || !strings.Contains(got, "from-stderr") {
		t.Fatalf("combined log missing a stream: %q", got)
	}
}
