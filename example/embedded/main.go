package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haelod/conductr"
)

// embedded: run the supervisor inside your own program instead of through
// the CLI. Two tiers: the demo service must answer its health probe before
// the tier-1 worker starts.
func main() {
	sup, err := conductr.New([]conductr.Definition{
		{
			Name:      "demo",
			Command:   "go run ./example/demoservice",
			Port:      8080,
			Tier:      0,
			HealthURL: "http://127.0.0.1:8080/healthz",
		},
		{
			Name:    "worker",
			Command: "sh -c 'while true; do echo working; sleep 5; done'",
			Tier:    1,
		},
	})
	if err != nil {
		panic(err)
	}

	sup.Subscribe(func(e conductr.Event) {
		fmt.Printf("event: %s service=%s\n", e.Type, e.Service)
	})

	results := sup.StartAll(context.Background())
	for _, r := range results {
		fmt.Printf("start %s: ok=%v attempts=%d elapsed=%s\n", r.Service, r.Success, r.Attempts, r.Elapsed.Round(time.Millisecond))
	}

	b, _ := json.MarshalIndent(sup.StatusAll(), "", "  ")
	fmt.Println(string(b))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	sup.Shutdown(ctx)
}
