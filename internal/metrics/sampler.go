package metrics

import (
	"log/slog"
	"sync"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Sample is one resource reading for a running child.
type Sample struct {
	CPUPercent float64
	MemoryRSS  uint64
	At         time.Time
}

// Sampler periodically reads CPU and RSS for every running service child
// via gopsutil and publishes them as gauges. The pids callback supplies
// the current service -> PID mapping; services missing from a snapshot
// have their series cleared.
type Sampler struct {
	interval time.Duration
	pids     func() map[string]int
	log      *slog.Logger

	mu     sync.Mutex
	latest map[string]Sample

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSampler(interval time.Duration, pids func() map[string]int, log *slog.Logger) *Sampler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sampler{
		interval: interval,
		pids:     pids,
		log:      log,
		latest:   make(map[string]Sample),
		stopCh:   make(chan struct{}),
	}
}

func (s *Sampler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.SampleOnce()
			}
		}
	}()
}

func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// SampleOnce reads every mapped PID and updates gauges and the latest
// cache. Unreadable processes (exited between snapshot and read) are
// skipped and their series cleared.
func (s *Sampler) SampleOnce() {
	snapshot := s.pids()
	now := time.Now()

	s.mu.Lock()
	for name := range s.latest {
		if pid, ok := snapshot[name]; !ok || pid <= 0 {
			delete(s.latest, name)
			ClearResources(name)
		}
	}
	s.mu.Unlock()

	for name, pid := range snapshot {
		if pid <= 0 {
			continue
		}
		sample, err := read(pid, now)
		if err != nil {
			s.log.Debug("resource sample failed", "service", name, "pid", pid, "error", err)
			s.mu.Lock()
			delete(s.latest, name)
			s.mu.Unlock()
			ClearResources(name)
			continue
		}
		s.mu.Lock()
		s.latest[name] = sample
		s.mu.Unlock()
		SetResources(name, sample.CPUPercent, sample.MemoryRSS)
	}
}

// Latest returns the most recent sample for a service.
func (s *Sampler) Latest(name string) (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.latest[name]
	return sample, ok
}

func read(pid int, at time.Time) (Sample, error) {
	proc, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Sample{}, err
	}
	sample := Sample{At: at}
	// CPUPercent needs a prior reading for a real rate; the first call per
	// process reports 0, which a second sweep corrects.
	if cpu, err := proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, err
	}
	sample.MemoryRSS = mem.RSS
	return sample, nil
}
