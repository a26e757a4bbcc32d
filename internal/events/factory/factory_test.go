package factory

import (
	"path/filepath"
	"testing"
)

func TestNewSinkFromDSN(t *testing.T) {
	sqlitePath := filepath.Join(t.TempDir(), "ev.db")
	tests := []struct {
		name      string
		dsn       string
		wantErr   bool
		needsConn bool
	}{
		{"empty", "", true, false},
		{"unknown scheme", "kafka://broker:9092", true, false},
		{"sqlite explicit", "sqlite://" + sqlitePath, false, false},
		{"sqlite bare path", sqlitePath, false, false},
		{"opensearch", "opensearch://localhost:9200/service-events", false, false},
		{"elasticsearch alias", "elasticsearch://localhost:9200/service-events", false, false},
		{"clickhouse", "clickhouse://localhost:9000?table=service_events", false, true},
		{"postgres", "postgres://u:p@localhost:5432/db?sslmode=disable", false, true},
		{"postgresql alias", "postgresql://u:p@localhost:5432/db", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.needsConn {
				t.Skip("requires a running database")
			}
			sink, err := NewSinkFromDSN(tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.dsn)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSinkFromDSN(%q): %v", tt.dsn, err)
			}
			if sink == nil {
				t.Fatalf("nil sink for %q", tt.dsn)
			}
			_ = sink.Close()
		})
	}
}
