package service

import "time"

// State is the supervisor-visible lifecycle state of a service.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded" // running but not (yet) confirmed healthy
	StateStopping State = "stopping"
	StateFailed   State = "failed" // restart budget exhausted; manual intervention required
)

// Running reports whether the state implies a live child process.
func (s State) Running() bool {
	switch s {
	case StateStarting, StateHealthy, StateDegraded, StateStopping:
		return true
	default:
		return false
	}
}

// Status is a point-in-time snapshot of one service's runtime state.
// It is safe to copy; the owning actor produces it, everyone else reads it.
type Status struct {
	Name          string    `json:"name"`
	Tier          int       `json:"tier"`
	State         State     `json:"state"`
	Running       bool      `json:"running"`
	Healthy       bool      `json:"healthy"`
	PID           int       `json:"pid,omitempty"`
	HealthURL     string    `json:"health_url,omitempty"`
	RestartCount  int       `json:"restart_count"`
	LastRestartAt time.Time `json:"last_restart_at"`
	StartedAt     time.Time `json:"started_at"`
	StoppedAt     time.Time `json:"stopped_at"`
	LastHealthyAt time.Time `json:"last_healthy_at"`
	ExitErr       string    `json:"exit_error,omitempty"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryRSS     uint64    `json:"memory_rss_bytes"`
}

// Uptime returns how long the service has been up, zero when stopped.
func (s Status) Uptime(now time.Time) time.Duration {
	if !s.Running || s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}
