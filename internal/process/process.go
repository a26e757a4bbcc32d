// Package process owns the OS-level lifecycle of one child process per
// service: spawning, liveness detection, signal delivery and confirmed
// termination. Spawning goes through the Launcher interface so tests can
// substitute a fake child without touching real OS processes.
package process

import (
	"bytes"
	"errors"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/haelod/conductr/internal/service"
)

// killConfirmWait bounds how long Stop waits for exit confirmation after
// SIGKILL before giving up.
const killConfirmWait = 200 * time.Millisecond

// ErrRunning is returned by Start while a previous child is still alive.
var ErrRunning = errors.New("process already running")

// SpawnError wraps a launch failure for one service. The service stays
// stopped; the supervisor decides whether to retry.
type SpawnError struct {
	Service string
	Err     error
}

func (e *SpawnError) Error() string { return "spawn " + e.Service + ": " + e.Err.Error() }
func (e *SpawnError) Unwrap() error { return e.Err }

// Child is a handle to one spawned OS process.
type Child interface {
	PID() int
	// Terminate delivers the polite stop signal to the process group.
	Terminate() error
	// Kill forcefully terminates the process group.
	Kill() error
	// Wait blocks until the child exits. At most one caller.
	Wait() error
	Alive() bool
}

// Launcher spawns a child for a service definition.
type Launcher interface {
	Launch(def service.Definition, env []string, stdout, stderr io.Writer) (Child, error)
}

// ExecLauncher launches real OS processes via os/exec.
type ExecLauncher struct{}

func (ExecLauncher) Launch(def service.Definition, env []string, stdout, stderr io.Writer) (Child, error) {
	cmd := def.BuildCommand()
	if def.WorkDir != "" {
		cmd.Dir = def.WorkDir
	}
	if len(env) > 0 {
		cmd.Env = env
	}
	if stdout == nil || stderr == nil {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		if stdout == nil {
			stdout = null
		}
		if stderr == nil {
			stderr = null
		}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execChild{cmd: cmd}, nil
}

type execChild struct {
	cmd *exec.Cmd
}

func (c *execChild) PID() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

func (c *execChild) Terminate() error { return terminateGroup(c.PID()) }
func (c *execChild) Kill() error      { return killGroup(c.PID()) }
func (c *execChild) Wait() error      { return c.cmd.Wait() }

// Alive probes the child with a zero signal. On Linux a quickly exited but
// unreaped child shows up as a zombie; treat that as dead.
func (c *execChild) Alive() bool {
	pid := c.PID()
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	return pidAlive(pid)
}

// isZombieLinux reports whether /proc/<pid>/status shows state Z.
func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// Process is the runtime handle for one service's child. The supervisor's
// per-service actor is the only caller of its mutating methods; the mutex
// protects against the exit observer goroutine, which runs concurrently.
type Process struct {
	def      service.Definition
	launcher Launcher

	mu        sync.Mutex
	child     Child
	pid       int
	running   bool
	waitDone  chan struct{} // closed by the observer when Wait returns
	exitErr   error
	startedAt time.Time
	stoppedAt time.Time
	out, errw io.WriteCloser // reused across restarts
}

func New(def service.Definition, l Launcher) *Process {
	if l == nil {
		l = ExecLauncher{}
	}
	return &Process{def: def, launcher: l}
}

// Start spawns the child and installs the single exit observer. onExit is
// invoked once, after exit state is recorded, from the observer goroutine.
// It does not wait for the service to become healthy.
func (p *Process) Start(env []string, onExit func(error)) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrRunning
	}
	p.mu.Unlock()

	out, errw, err := p.ensureWriters()
	if err != nil {
		return &SpawnError{Service: p.def.Name, Err: err}
	}
	child, err := p.launcher.Launch(p.def, env, out, errw)
	if err != nil {
		return &SpawnError{Service: p.def.Name, Err: err}
	}

	p.mu.Lock()
	p.child = child
	p.pid = child.PID()
	p.running = true
	p.exitErr = nil
	p.startedAt = time.Now()
	p.stoppedAt = time.Time{}
	wd := make(chan struct{})
	p.waitDone = wd
	p.mu.Unlock()

	p.writePIDFile()
	go p.observe(child, wd, onExit)
	return nil
}

// observe is the single waiter for one spawn. Exit state is recorded and
// waitDone closed before onExit runs, so Stop callers unblocked by the
// close always see final state.
func (p *Process) observe(c Child, wd chan struct{}, onExit func(error)) {
	err := c.Wait()
	p.mu.Lock()
	p.running = false
	p.stoppedAt = time.Now()
	p.exitErr = err
	p.mu.Unlock()
	p.removePIDFile()
	close(wd)
	if onExit != nil {
		onExit(err)
	}
}

// Stop terminates the child: polite signal, wait up to grace, then SIGKILL
// the process group. forced reports whether escalation was needed. Stopping
// an already-dead or never-started process is a no-op.
func (p *Process) Stop(grace time.Duration) (forced bool, err error) {
	p.mu.Lock()
	child, wd, running := p.child, p.waitDone, p.running
	p.mu.Unlock()
	if child == nil || wd == nil || !running {
		return false, nil
	}

	_ = child.Terminate()
	select {
	case <-wd:
		return false, nil
	case <-time.After(grace):
	}

	_ = child.Kill()
	select {
	case <-wd:
		return true, nil
	case <-time.After(killConfirmWait):
		return true, errors.New("process " + p.def.Name + ": no exit confirmation after kill")
	}
}

func (p *Process) ensureWriters() (io.WriteCloser, io.WriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil && p.errw == nil {
		out, errw, err := p.def.Log.Writers(p.def.Name)
		if err != nil {
			return nil, nil, err
		}
		p.out, p.errw = out, errw
	}
	return p.out, p.errw, nil
}

// CloseWriters releases the log writers. Called once at final teardown;
// restarts keep writers open so rotation state carries over.
func (p *Process) CloseWriters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out != nil {
		_ = p.out.Close()
	}
	if p.errw != nil && p.errw != p.out {
		_ = p.errw.Close()
	}
	p.out, p.errw = nil, nil
}

// Alive probes the current child, false when none was spawned or the
// observer already reaped it.
func (p *Process) Alive() bool {
	p.mu.Lock()
	child, running := p.child, p.running
	p.mu.Unlock()
	if child == nil || !running {
		return false
	}
	return child.Alive()
}

func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// PID returns the child's PID from the most recent spawn, 0 before the
// first start.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

func (p *Process) StoppedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stoppedAt
}
