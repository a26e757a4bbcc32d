package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/haelod/conductr/internal/store"
)

func TestUpsertAndGet(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Second)
	rec := store.Record{
		Name:         "web",
		PID:          1234,
		State:        "healthy",
		Healthy:      true,
		RestartCount: 2,
		StartedAt:    started,
	}
	if err := db.UpsertState(ctx, rec); err != nil {
		t.Fatalf("UpsertState: %v", err)
	}

	got, ok, err := db.GetByName(ctx, "web")
	if err != nil || !ok {
		t.Fatalf("GetByName: ok=%v err=%v", ok, err)
	}
	if got.PID != 1234 || got.State != "healthy" || !got.Healthy || got.RestartCount != 2 {
		t.Fatalf("got %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if !got.StoppedAt.IsZero() {
		t.Fatalf("StoppedAt = %v, want zero", got.StoppedAt)
	}

	// Upsert replaces, never duplicates.
	rec.State = "stopped"
	rec.Healthy = false
	rec.PID = 0
	rec.StoppedAt = started.Add(time.Minute)
	rec.ExitErr = "exit status 1"
	if err := db.UpsertState(ctx, rec); err != nil {
		t.Fatalf("UpsertState update: %v", err)
	}
	all, err := db.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(all) = %d, want 1", len(all))
	}
	if all[0].State != "stopped" || all[0].Healthy || all[0].ExitErr != "exit status 1" {
		t.Fatalf("updated record = %+v", all[0])
	}
}

func TestGetByNameMissing(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = db.Close() }()
	_, ok, err := db.GetByName(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if ok {
		t.Fatal("found a record for an unknown name")
	}
}

func TestAllOrdersByName(t *testing.T) {
	db, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = db.Close() }()
	ctx := context.Background()
	for _, n := range []string{"zeta", "api", "mid"} {
		if err := db.UpsertState(ctx, store.Record{Name: n, State: "stopped"}); err != nil {
			t.Fatalf("UpsertState(%s): %v", n, err)
		}
	}
	all, err := db.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	want := []string{"api", "mid", "zeta"}
	for i, rec := range all {
		if rec.Name != want[i] {
			t.Fatalf("all[%d] = %s, want %s", i, rec.Name, want[i])
		}
	}
}
