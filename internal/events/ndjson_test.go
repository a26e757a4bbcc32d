package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSinkWritesOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "events.ndjson")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	sent := []Event{
		New(TypeStarting, "web"),
		New(TypeStarted, "web"),
		New(TypeHealthy, "web"),
	}
	sent[2].ElapsedMS = 212
	for _, e := range sent {
		if err := sink.Send(context.Background(), e); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != len(sent) {
		t.Fatalf("got %d lines, want %d", len(lines), len(sent))
	}
	for i, line := range lines {
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i, err)
		}
		if e.ID != sent[i].ID || e.Type != sent[i].Type || e.Service != "web" {
			t.Fatalf("line %d mismatch: %+v", i, e)
		}
	}
	var last Event
	_ = json.Unmarshal([]byte(lines[2]), &last)
	if last.ElapsedMS != 212 {
		t.Fatalf("elapsed_ms lost: %+v", last)
	}
}
