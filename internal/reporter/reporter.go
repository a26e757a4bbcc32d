// Package reporter runs the periodic degraded-state sweep and writes the
// advisory JSON status snapshot. It is purely observational: it reads
// snapshots, refreshes resource samples and emits events, never mutating
// runtime state.
package reporter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/haelod/conductr/internal/events"
	"github.com/haelod/conductr/internal/metrics"
	"github.com/haelod/conductr/internal/service"
)

// DefaultInterval is the sweep period when the configuration is silent.
const DefaultInterval = 10 * time.Second

// StatusSource supplies the snapshots the reporter aggregates.
type StatusSource interface {
	StatusAll() []service.Status
}

type Reporter struct {
	src      StatusSource
	bus      *events.Bus
	log      *slog.Logger
	interval time.Duration
	snapshot string // advisory JSON path, empty disables
	sampler  *metrics.Sampler

	mu       sync.Mutex
	degraded bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type Config struct {
	Source       StatusSource
	Bus          *events.Bus
	Log          *slog.Logger
	Interval     time.Duration
	SnapshotPath string
	Sampler      *metrics.Sampler // optional; refreshed by each sweep
}

func New(cfg Config) (*Reporter, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("reporter: status source is required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Reporter{
		src:      cfg.Source,
		bus:      cfg.Bus,
		log:      cfg.Log,
		interval: cfg.Interval,
		snapshot: cfg.SnapshotPath,
		sampler:  cfg.Sampler,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the sweep loop.
func (r *Reporter) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Stop halts the loop and writes one final snapshot.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
	if err := r.WriteSnapshot(); err != nil {
		r.log.Warn("final status snapshot failed", "error", err)
	}
}

// Sweep runs one pass: refresh resource samples, compare healthy count to
// total, emit degraded/recovered edges, persist the snapshot.
func (r *Reporter) Sweep() {
	if r.sampler != nil {
		r.sampler.SampleOnce()
	}
	statuses := r.src.StatusAll()
	total := len(statuses)
	healthy := 0
	var unhealthy []string
	for _, st := range statuses {
		if st.Healthy {
			healthy++
		} else {
			unhealthy = append(unhealthy, st.Name)
		}
	}

	r.mu.Lock()
	was := r.degraded
	now := healthy < total
	r.degraded = now
	r.mu.Unlock()

	if now && !was {
		r.log.Warn("degraded state", "healthy", healthy, "total", total, "unhealthy", unhealthy)
		if r.bus != nil {
			r.bus.Emit(events.Event{
				Type:   events.TypeDegraded,
				Detail: fmt.Sprintf("%d/%d healthy", healthy, total),
			})
		}
	} else if !now && was {
		r.log.Info("all services healthy again", "total", total)
		if r.bus != nil {
			r.bus.Emit(events.Event{
				Type:   events.TypeRecovered,
				Detail: fmt.Sprintf("%d/%d healthy", healthy, total),
			})
		}
	}

	if err := r.WriteSnapshot(); err != nil {
		r.log.Warn("status snapshot failed", "error", err)
	}
}

// Degraded reports the outcome of the most recent sweep.
func (r *Reporter) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

// snapshotFile is the on-disk shape of the advisory snapshot.
type snapshotFile struct {
	WrittenAt time.Time        `json:"written_at"`
	Services  []service.Status `json:"services"`
}

// WriteSnapshot serializes StatusAll and writes it atomically so a reader
// tailing the file never sees a torn JSON document. A configured empty
// path disables the snapshot.
func (r *Reporter) WriteSnapshot() error {
	if r.snapshot == "" {
		return nil
	}
	data, err := json.MarshalIndent(snapshotFile{
		WrittenAt: time.Now().UTC(),
		Services:  r.src.StatusAll(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(r.snapshot, append(data, '\n'), 0o644)
}
