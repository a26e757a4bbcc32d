// Package sqlite keeps advisory runtime state in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haelod/conductr/internal/store"
)

type DB struct {
	db *sql.DB
}

// New opens (or creates) the database. Accepted DSNs: "sqlite:///path",
// "sqlite://:memory:", a bare path, or ":memory:".
func New(dsn string) (*DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty sqlite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &DB{db: db}
	if err := s.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS service_state(
			name TEXT PRIMARY KEY,
			pid INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL,
			healthy INTEGER NOT NULL DEFAULT 0,
			restart_count INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NULL,
			stopped_at TIMESTAMP NULL,
			updated_at TIMESTAMP NOT NULL,
			exit_error TEXT
		);`)
	return err
}

func (s *DB) UpsertState(ctx context.Context, rec store.Record) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_state(name, pid, state, healthy, restart_count, started_at, stopped_at, updated_at, exit_error)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			pid=excluded.pid,
			state=excluded.state,
			healthy=excluded.healthy,
			restart_count=excluded.restart_count,
			started_at=excluded.started_at,
			stopped_at=excluded.stopped_at,
			updated_at=excluded.updated_at,
			exit_error=excluded.exit_error;`,
		rec.Name, rec.PID, rec.State, boolInt(rec.Healthy), rec.RestartCount,
		nullTime(rec.StartedAt), nullTime(rec.StoppedAt), rec.UpdatedAt.UTC(), rec.ExitErr)
	return err
}

func (s *DB) GetByName(ctx context.Context, name string) (store.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, pid, state, healthy, restart_count, started_at, stopped_at, updated_at, exit_error
		FROM service_state WHERE name = ?;`, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	return rec, true, nil
}

func (s *DB) All(ctx context.Context) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, pid, state, healthy, restart_count, started_at, stopped_at, updated_at, exit_error
		FROM service_state ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []store.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *DB) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (store.Record, error) {
	var rec store.Record
	var healthy int
	var started, stopped sql.NullTime
	var exitErr sql.NullString
	err := row.Scan(&rec.Name, &rec.PID, &rec.State, &healthy, &rec.RestartCount,
		&started, &stopped, &rec.UpdatedAt, &exitErr)
	if err != nil {
		return rec, err
	}
	rec.Healthy = healthy != 0
	if started.Valid {
		rec.StartedAt = started.Time
	}
	if stopped.Valid {
		rec.StoppedAt = stopped.Time
	}
	rec.ExitErr = exitErr.String
	return rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
