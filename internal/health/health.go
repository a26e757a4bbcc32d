// Package health probes service health endpoints and provides the bounded
// wait-until-healthy primitives used during tiered startup.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Checker performs a single bounded probe. Implementations must be safe to
// call repeatedly from a poll loop and must never panic.
type Checker interface {
	Check(ctx context.Context) error
}

// HTTPChecker reports healthy iff a GET to URL answers with a 2xx status
// within the timeout. Any other status, a connection error, or a timeout is
// a failed probe.
type HTTPChecker struct {
	url    string
	client *http.Client
}

func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPChecker{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	// drain a little so keep-alive connections can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health status %d", resp.StatusCode)
	}
	return nil
}

// WaitOptions bounds a wait-until-healthy loop.
type WaitOptions struct {
	InitialDelay time.Duration // first inter-attempt delay; doubles per attempt
	MaxDelay     time.Duration // delay cap
	MaxAttempts  int
	Timeout      time.Duration // overall budget
}

func (o WaitOptions) normalized() WaitOptions {
	if o.InitialDelay <= 0 {
		o.InitialDelay = 200 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 3 * time.Second
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = o.InitialDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 30
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	return o
}

// Result is the outcome of one wait. It is a value, never an error: tier
// joins aggregate partial failures without one failure aborting the batch.
type Result struct {
	Service  string
	Success  bool
	Elapsed  time.Duration
	Attempts int
	Err      error // last probe error when Success is false
}

// WaitForService polls the checker until it succeeds, the attempt budget is
// spent, or the overall timeout passes. The first probe fires immediately;
// later attempts back off exponentially from InitialDelay up to MaxDelay.
func WaitForService(ctx context.Context, name string, c Checker, opts WaitOptions) Result {
	opts = opts.normalized()
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	delay := opts.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		err := c.Check(ctx)
		if err == nil {
			return Result{Service: name, Success: true, Elapsed: time.Since(start), Attempts: attempt}
		}
		lastErr = err
		if attempt == opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Result{Service: name, Elapsed: time.Since(start), Attempts: attempt, Err: lastErr}
		case <-time.After(delay):
		}
		delay *= 2
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	return Result{Service: name, Elapsed: time.Since(start), Attempts: opts.MaxAttempts, Err: lastErr}
}

// Member is one service taking part in a tier join.
type Member struct {
	Name    string
	Checker Checker
	Opts    WaitOptions
}

// WaitForTier waits for every member concurrently and returns once all have
// settled. No member is abandoned because a sibling hangs; each wait is
// individually bounded, so the join is bounded too. Results keep the member
// order.
func WaitForTier(ctx context.Context, members []Member) []Result {
	results := make([]Result, len(members))
	done := make(chan int, len(members))
	for i := range members {
		go func(i int) {
			m := members[i]
			results[i] = WaitForService(ctx, m.Name, m.Checker, m.Opts)
			done <- i
		}(i)
	}
	for range members {
		<-done
	}
	return results
}

// Failed filters a join's results down to the unsuccessful ones.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out
}
