// Package events carries lifecycle events from the supervisor to
// subscribers, the NDJSON event log and optional external sinks.
package events

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type is the kind of lifecycle event.
type Type string

const (
	TypeStarting         Type = "starting"
	TypeStarted          Type = "started"
	TypeHealthy          Type = "healthy"
	TypeUnhealthy        Type = "unhealthy"
	TypeExited           Type = "exited"
	TypeRestartScheduled Type = "restart-scheduled"
	TypeRestartDenied    Type = "restart-denied"
	TypeStopping         Type = "stopping"
	TypeStopped          Type = "stopped"
	TypeReload           Type = "reload"
	TypeDegraded         Type = "degraded"
	TypeRecovered        Type = "recovered"
	TypeSupervisorUp     Type = "supervisor-started"
	TypeSupervisorDown   Type = "supervisor-stopped"
)

// Event is one lifecycle occurrence. Service is empty for supervisor-wide
// events; ElapsedMS is filled where an operation duration is meaningful
// (time to healthy, time to stop).
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Service   string    `json:"service,omitempty"`
	At        time.Time `json:"at"`
	ElapsedMS int64     `json:"elapsed_ms,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	PID       int       `json:"pid,omitempty"`
}

// New builds an event stamped with a fresh ULID and the current UTC time.
func New(t Type, service string) Event {
	return Event{ID: ulid.Make().String(), Type: t, Service: service, At: time.Now().UTC()}
}

// Sink is a destination for events (files, databases, search clusters).
// Implementations must be safe for concurrent use. Send failures are
// logged by the bus and never propagate into lifecycle paths.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Handler receives events synchronously from the bus dispatcher. Handlers
// must return quickly; slow consumers should hand off to their own
// goroutine.
type Handler func(Event)
