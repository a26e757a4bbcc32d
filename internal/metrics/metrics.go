package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Restart reasons used as the reason label on restarts_total.
const (
	ReasonCrash    = "crash"
	ReasonManual   = "manual"
	ReasonReload   = "reload"
	ReasonSchedule = "schedule"
)

// Package-level Prometheus collectors, registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductr",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service spawns.",
		}, []string{"service"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductr",
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of restarts by reason (crash, manual, reload, schedule).",
		}, []string{"service", "reason"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductr",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of stops, graceful or forced.",
		}, []string{"service"},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductr",
			Name:      "health_checks_total",
			Help:      "Health probe outcomes.",
		}, []string{"service", "result"},
	)
	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "conductr",
			Subsystem: "service",
			Name:      "up",
			Help:      "1 while the service process is running.",
		}, []string{"service"},
	)
	serviceHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "conductr",
			Subsystem: "service",
			Name:      "healthy",
			Help:      "1 between a confirmed 2xx health response and the next exit or failure.",
		}, []string{"service"},
	)
	serviceRestartCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "conductr",
			Subsystem: "service",
			Name:      "restart_count",
			Help:      "Restarts consumed inside the current restart window.",
		}, []string{"service"},
	)
	startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "conductr",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn to confirmed healthy.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "conductr",
			Subsystem: "service",
			Name:      "state_transitions_total",
			Help:      "Number of state machine transitions.",
		}, []string{"service", "from", "to"},
	)
	serviceCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "conductr",
			Subsystem: "service",
			Name:      "cpu_percent",
			Help:      "Sampled CPU usage of the child process.",
		}, []string{"service"},
	)
	serviceRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "conductr",
			Subsystem: "service",
			Name:      "memory_rss_bytes",
			Help:      "Sampled resident set size of the child process.",
		}, []string{"service"},
	)
	eventOverflow = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "conductr",
			Name:      "event_overflow_total",
			Help:      "Lifecycle events dropped because the bus queue was full.",
		},
	)
)

// Register registers all collectors with r. Safe to call multiple times;
// an AlreadyRegisteredError from a previous registration is tolerated.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		serviceStarts, serviceRestarts, serviceStops, healthChecks,
		serviceUp, serviceHealthy, serviceRestartCount, startDuration,
		stateTransitions, serviceCPU, serviceRSS, eventOverflow,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer; the caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncStart(service string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(service).Inc()
	}
}

func IncRestart(service, reason string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(service, reason).Inc()
	}
}

func IncStop(service string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(service).Inc()
	}
}

func IncHealthCheck(service string, ok bool) {
	if regOK.Load() {
		result := "fail"
		if ok {
			result = "ok"
		}
		healthChecks.WithLabelValues(service, result).Inc()
	}
}

func SetUp(service string, up bool) {
	if regOK.Load() {
		serviceUp.WithLabelValues(service).Set(boolVal(up))
	}
}

func SetHealthy(service string, healthy bool) {
	if regOK.Load() {
		serviceHealthy.WithLabelValues(service).Set(boolVal(healthy))
	}
}

func SetRestartCount(service string, n int) {
	if regOK.Load() {
		serviceRestartCount.WithLabelValues(service).Set(float64(n))
	}
}

func ObserveStartDuration(service string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(service).Observe(seconds)
	}
}

func RecordStateTransition(service, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(service, from, to).Inc()
	}
}

func SetResources(service string, cpuPercent float64, rssBytes uint64) {
	if regOK.Load() {
		serviceCPU.WithLabelValues(service).Set(cpuPercent)
		serviceRSS.WithLabelValues(service).Set(float64(rssBytes))
	}
}

// ClearResources removes the resource series of a service whose process
// is gone, so stale samples do not linger on the scrape page.
func ClearResources(service string) {
	if regOK.Load() {
		serviceCPU.DeleteLabelValues(service)
		serviceRSS.DeleteLabelValues(service)
	}
}

// SetEventOverflow publishes the bus's cumulative drop counter.
func SetEventOverflow(total uint64) {
	if regOK.Load() {
		eventOverflow.Set(float64(total))
	}
}

func boolVal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
