package service

import (
	"errors"
	"strings"
	"testing"
)

func TestRegistryLookupAndOrder(t *testing.T) {
	r, err := NewRegistry([]Definition{
		{Name: "db", Command: "postgres", Tier: 0},
		{Name: "api", Command: "api-server", Tier: 1},
		{Name: "web", Command: "web-server", Tier: 1},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d", r.Len())
	}
	if d := r.Get("api"); d == nil || d.Command != "api-server" {
		t.Fatalf("Get(api) = %+v", d)
	}
	if r.Get("nope") != nil {
		t.Fatal("Get(nope) should be nil")
	}
	names := r.Names()
	if names[0] != "db" || names[1] != "api" || names[2] != "web" {
		t.Fatalf("order not preserved: %v", names)
	}
}

func TestRegistryAppliesDefaults(t *testing.T) {
	r, err := NewRegistry([]Definition{{Name: "a", Command: "true"}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if r.Get("a").StopTimeout != DefaultStopTimeout {
		t.Fatalf("registry did not normalize: %v", r.Get("a").StopTimeout)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Definition{
		{Name: "a", Command: "true"},
		{Name: "a", Command: "false"},
	})
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if !strings.Contains(cerr.Error(), "duplicate name") {
		t.Fatalf("error %q does not mention duplicate", cerr)
	}
}

func TestRegistryAggregatesAllViolations(t *testing.T) {
	_, err := NewRegistry([]Definition{
		{Name: "", Command: "true"},
		{Name: "ok", Command: ""},
		{Name: "ok2", Command: "true", Port: -1},
	})
	var cerr *ConfigError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if len(cerr.Errs) != 3 {
		t.Fatalf("expected 3 aggregated errors, got %d: %v", len(cerr.Errs), cerr)
	}
	msg := cerr.Error()
	for _, want := range []string{"service #0", "service ok:", "service ok2:"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error %q missing %q", msg, want)
		}
	}
}

func TestRegistryTiers(t *testing.T) {
	r, err := NewRegistry([]Definition{
		{Name: "worker", Command: "w", Tier: 2},
		{Name: "db", Command: "d", Tier: 0},
		{Name: "cache", Command: "c", Tier: 0},
		{Name: "api", Command: "a", Tier: 1},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	tiers := r.Tiers()
	if len(tiers) != 3 {
		t.Fatalf("expected 3 tiers, got %d", len(tiers))
	}
	if tiers[0][0].Name != "db" || tiers[0][1].Name != "cache" {
		t.Fatalf("tier 0 wrong: %v", tiers[0])
	}
	if tiers[1][0].Name != "api" || tiers[2][0].Name != "worker" {
		t.Fatalf("tier ordering wrong")
	}
}
