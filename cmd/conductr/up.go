package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haelod/conductr/internal/config"
	"github.com/haelod/conductr/internal/events"
	eventsfactory "github.com/haelod/conductr/internal/events/factory"
	"github.com/haelod/conductr/internal/logger"
	"github.com/haelod/conductr/internal/metrics"
	"github.com/haelod/conductr/internal/reporter"
	"github.com/haelod/conductr/internal/server"
	"github.com/haelod/conductr/internal/store"
	storefactory "github.com/haelod/conductr/internal/store/factory"
	"github.com/haelod/conductr/internal/supervisor"
	"github.com/haelod/conductr/internal/watcher"
)

type upFlags struct {
	NoWatch bool
	Mode    string
}

func newUpCmd(gf *GlobalFlags) *cobra.Command {
	uf := &upFlags{}
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start every configured service and supervise them until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runUp(gf, uf)
		},
	}
	cmd.Flags().BoolVar(&uf.NoWatch, "no-watch", false, "disable the file watcher even when configured")
	cmd.Flags().StringVar(&uf.Mode, "mode", "", "override the configured mode (development, production, ...)")
	return cmd
}

func runUp(gf *GlobalFlags, uf *upFlags) error {
	cfg, err := config.Load(gf.ConfigPath)
	if err != nil {
		return err
	}
	if uf.Mode != "" {
		cfg.Mode = uf.Mode
	}

	log := setupLogger(cfg)
	slog.SetDefault(log)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	environ, err := cfg.BuildEnv()
	if err != nil {
		return err
	}

	bus := events.NewBus(log, 1024)
	defer bus.Close()
	if cfg.Events.NDJSONPath != "" {
		sink, err := events.NewFileSink(cfg.Events.NDJSONPath)
		if err != nil {
			return fmt.Errorf("ndjson sink: %w", err)
		}
		bus.AddSink(sink)
	}
	for _, dsn := range cfg.Events.Sinks {
		sink, err := eventsfactory.NewSinkFromDSN(dsn)
		if err != nil {
			return fmt.Errorf("event sink %s: %w", dsn, err)
		}
		bus.AddSink(sink)
	}

	var st store.Store
	if cfg.Store.DSN != "" {
		st, err = storefactory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("state store: %w", err)
		}
		defer func() { _ = st.Close() }()
		if err := st.EnsureSchema(context.Background()); err != nil {
			return fmt.Errorf("state store schema: %w", err)
		}
	}

	var sampler *metrics.Sampler
	sup, err := supervisor.New(supervisor.Config{
		Registry: reg,
		Env:      environ,
		Bus:      bus,
		Store:    st,
		Log:      log,
		Resources: func(name string) (float64, uint64, bool) {
			if sampler == nil {
				return 0, 0, false
			}
			s, ok := sampler.Latest(name)
			return s.CPUPercent, s.MemoryRSS, ok
		},
	})
	if err != nil {
		return err
	}
	sampler = metrics.NewSampler(5*time.Second, sup.PIDs, log)
	sampler.Start()
	defer sampler.Stop()

	log.Info("starting services", "mode", cfg.Mode, "services", reg.Len())
	startedAt := time.Now()
	results := sup.StartAll(context.Background())
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			log.Warn("service failed readiness", "service", res.Service, "error", res.Err)
		}
	}
	log.Info("startup complete", "elapsed", time.Since(startedAt).Round(time.Millisecond),
		"ready", len(results)-failed, "failed", failed)

	var w *watcher.Watcher
	if cfg.WatchEnabled() && !uf.NoWatch {
		w, err = watcher.New(reg.All(), func(name string) {
			if err := sup.Reload(name, "file-change"); err != nil {
				log.Warn("reload failed", "service", name, "error", err)
			}
		}, log)
		if err != nil {
			log.Warn("file watcher unavailable", "error", err)
		} else if w != nil {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			w.Start(ctx)
			defer func() { _ = w.Close() }()
		}
	}

	rep, err := reporter.New(reporter.Config{
		Source:       sup,
		Bus:          bus,
		Log:          log,
		Interval:     cfg.Status.SweepInterval,
		SnapshotPath: cfg.Status.SnapshotPath,
		Sampler:      sampler,
	})
	if err != nil {
		return err
	}
	rep.Start()
	defer rep.Stop()

	if cfg.Server.Enabled {
		srv := server.NewServer(cfg.Server.Listen, sup, log)
		log.Info("control api listening", "addr", cfg.Server.Listen)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sup.Shutdown(ctx)
	log.Info("all services stopped")
	return nil
}

// setupLogger installs the handler the config asks for: colorized text by
// default, plain JSON when log.format = "json".
func setupLogger(cfg *config.Config) *slog.Logger {
	level := parseLevel(cfg.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = logger.NewColorTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
