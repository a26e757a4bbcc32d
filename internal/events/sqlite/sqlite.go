// Package sqlite appends lifecycle events to a SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/haelod/conductr/internal/events"
)

type Sink struct {
	db *sql.DB
}

// New opens (or creates) the event table. Accepted DSNs:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - a bare path or ":memory:"
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty sqlite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_events(
			id TEXT NOT NULL,
			at TIMESTAMP NOT NULL,
			type TEXT NOT NULL,
			service TEXT NOT NULL,
			elapsed_ms INTEGER NOT NULL DEFAULT 0,
			pid INTEGER NOT NULL DEFAULT 0,
			detail TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_events_service ON service_events(service);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e events.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_events(id, at, type, service, elapsed_ms, pid, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		e.ID, e.At.UTC(), string(e.Type), e.Service, e.ElapsedMS, e.PID, e.Detail)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
