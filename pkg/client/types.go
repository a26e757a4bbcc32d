package client

import "time"

// ServiceStatus mirrors the snapshot the control API returns for one
// service.
type ServiceStatus struct {
	Name          string    `json:"name"`
	Tier          int       `json:"tier"`
	State         string    `json:"state"`
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

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
