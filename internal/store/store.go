// Package store persists last-known runtime state per service. Records are
// advisory: they mirror the in-memory state for inspection and are never
// read back to make supervision decisions.
package store

import (
	"context"
	"time"
)

// Record is the persisted shape of one service's runtime state.
type Record struct {
	Name         string
	PID          int
	State        string
	Healthy      bool
	RestartCount int
	StartedAt    time.Time
	StoppedAt    time.Time
	UpdatedAt    time.Time
	ExitErr      string
}

// Store is implemented by the SQLite and PostgreSQL backends.
type Store interface {
	EnsureSchema(ctx context.Context) error
	UpsertState(ctx context.Context, rec Record) error
	GetByName(ctx context.Context, name string) (Record, bool, error)
	All(ctx context.Context) ([]Record, error)
	Close() error
}
