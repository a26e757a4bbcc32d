package conductr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestSupervisorLifecycle(t *testing.T) {
	s, err := New([]Definition{
		{Name: "db", Command: "sleep 60", Tier: 0},
		{Name: "api", Command: "sleep 60", Tier: 1},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Shutdown(context.Background())

	results := s.StartAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("service %s failed to start: %v", r.Service, r.Err)
		}
	}

	st, err := s.Status("api")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Running || st.PID == 0 {
		t.Fatalf("api not running: %+v", st)
	}

	s.StopAll(context.Background())
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, _ = s.Status("api")
		if st.State == StateStopped {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if st.State != StateStopped {
		t.Fatalf("api did not stop: %+v", st)
	}
}

func TestUnknownServiceError(t *testing.T) {
	s, err := New([]Definition{{Name: "a", Command: "sleep 1"}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown(context.Background())
	if err := s.Start(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unknown service")
	}
}

func TestInvalidDefinitionsRejected(t *testing.T) {
	if _, err := New([]Definition{{Name: "", Command: ""}}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestSubscribeSeesLifecycleEvents(t *testing.T) {
	s, err := New([]Definition{{Name: "a", Command: "sleep 60"}})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Shutdown(context.Background())

	var mu sync.Mutex
	var types []string
	s.Subscribe(func(e Event) {
		mu.Lock()
		types = append(types, string(e.Type))
		mu.Unlock()
	})

	if err := s.Start(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(types)
		mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("no events observed after start")
}

func TestWaitForEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	results := WaitForEndpoints(context.Background(), map[string]string{
		"up":   srv.URL,
		"down": "http://127.0.0.1:1/never",
	}, WaitOptions{MaxAttempts: 2, Timeout: time.Second})

	byName := map[string]HealthResult{}
	for _, r := range results {
		byName[r.Service] = r
	}
	if !byName["up"].Success {
		t.Fatalf("up should be healthy: %+v", byName["up"])
	}
	if byName["down"].Success {
		t.Fatal("down should not be healthy")
	}
}
