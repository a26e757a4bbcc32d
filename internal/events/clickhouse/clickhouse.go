// Package clickhouse streams lifecycle events into ClickHouse using the
// official native-protocol client.
package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/haelod/conductr/internal/events"
)

// execCloser is the slice of driver.Conn the sink needs; tests substitute
// a fake.
type execCloser interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

var _ execCloser = (driver.Conn)(nil)

type Sink struct {
	conn  execCloser
	table string
}

// New connects to addr (host:port, native port 9000) and verifies the
// connection with a ping. The table is not created; event analytics
// tables are owned by the cluster operator.
func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse connect: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Sink{conn: conn, table: table}, nil
}

func (s *Sink) Send(ctx context.Context, e events.Event) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (id, at, type, service, elapsed_ms, pid, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.table)
	if err := s.conn.Exec(ctx, query,
		e.ID, e.At.UTC(), string(e.Type), e.Service, e.ElapsedMS, e.PID, e.Detail); err != nil {
		return fmt.Errorf("clickhouse insert: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
