package supervisor

import (
	"sync"

	"github.com/haelod/conductr/internal/service"
)

// publishedStatus is the actor's outward-facing snapshot. The actor
// goroutine is the only writer; readers take a copy under the lock.
type publishedStatus struct {
	mu sync.Mutex
	st service.Status
}

// publish refreshes the snapshot from the actor's state and mirrors it to
// the advisory store. Called by the actor after every transition.
func (a *actor) publish() {
	st := service.Status{
		Name:          a.def.Name,
		Tier:          a.def.Tier,
		State:         a.state,
		Running:       a.state.Running(),
		Healthy:       a.healthy,
		HealthURL:     a.def.HealthURL,
		RestartCount:  a.restartCount,
		LastRestartAt: a.lastRestart,
		StartedAt:     a.startedAt,
		StoppedAt:     a.stoppedAt,
		LastHealthyAt: a.lastHealthy,
	}
	if st.Running {
		st.PID = a.proc.PID()
	}
	if a.exitErr != nil {
		st.ExitErr = a.exitErr.Error()
	}
	a.snap.mu.Lock()
	a.snap.st = st
	a.snap.mu.Unlock()
	if a.sup != nil {
		a.sup.persist(st)
	}
}

func (a *actor) snapshot() service.Status {
	a.snap.mu.Lock()
	defer a.snap.mu.Unlock()
	return a.snap.st
}
