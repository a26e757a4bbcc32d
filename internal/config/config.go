// Package config loads the conductr TOML configuration and turns it into a
// validated service registry plus the supervisor's ambient settings.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/haelod/conductr/internal/env"
	"github.com/haelod/conductr/internal/logger"
	"github.com/haelod/conductr/internal/reporter"
	"github.com/haelod/conductr/internal/service"
)

// Config is the top-level file shape.
type Config struct {
	Mode     string   `mapstructure:"mode"`
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`
	UseOSEnv *bool    `mapstructure:"use_os_env"` // default true

	Log      LogConfig       `mapstructure:"log"`
	Events   EventsConfig    `mapstructure:"events"`
	Store    StoreConfig     `mapstructure:"store"`
	Server   ServerConfig    `mapstructure:"server"`
	Watch    WatchConfig     `mapstructure:"watch"`
	Status   StatusConfig    `mapstructure:"status"`
	Services []ServiceConfig `mapstructure:"service"`
}

// LogConfig controls the supervisor's own logging and the defaults for
// per-service child logs.
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug|info|warn|error
	Format     string `mapstructure:"format"` // text|json
	Dir        string `mapstructure:"dir"`    // default dir for child logs
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type EventsConfig struct {
	NDJSONPath string   `mapstructure:"ndjson_path"`
	Sinks      []string `mapstructure:"sinks"` // DSNs
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type WatchConfig struct {
	Enabled  *bool         `mapstructure:"enabled"` // default true
	Debounce time.Duration `mapstructure:"debounce"`
}

type StatusConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	SnapshotPath  string        `mapstructure:"snapshot_path"`
}

// ServiceConfig is one [[service]] block. Fields mirror
// service.Definition; duration fields accept Go syntax ("5s").
type ServiceConfig struct {
	Name    string   `mapstructure:"name"`
	Command string   `mapstructure:"command"`
	WorkDir string   `mapstructure:"work_dir"`
	Env     []string `mapstructure:"env"`
	Port    int      `mapstructure:"port"`
	Tier    int      `mapstructure:"tier"`

	HealthURL         string        `mapstructure:"health_url"`
	HealthTimeout     time.Duration `mapstructure:"health_timeout"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
	HealthMaxDelay    time.Duration `mapstructure:"health_max_delay"`
	HealthMaxAttempts int           `mapstructure:"health_max_attempts"`
	StartTimeout      time.Duration `mapstructure:"start_timeout"`

	MaxRestarts   int           `mapstructure:"max_restarts"`
	RestartWindow time.Duration `mapstructure:"restart_window"`
	Backoff       time.Duration `mapstructure:"backoff"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	RestartDelay  time.Duration `mapstructure:"restart_delay"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"`

	WatchPaths    []string      `mapstructure:"watch_paths"`
	WatchExts     []string      `mapstructure:"watch_exts"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`

	RestartEvery string `mapstructure:"restart_every"` // "30s" or "@every 30s"

	PIDFile string        `mapstructure:"pid_file"`
	Log     logger.Config `mapstructure:"log"`
	Hooks   service.Hooks `mapstructure:"hooks"`
}

// Load reads and decodes the file. Validation of the service table happens
// in Registry so every violation is reported at once.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// viper's default decoder already parses "5s" style durations.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "development"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8750"
	}
	if c.Status.SweepInterval <= 0 {
		c.Status.SweepInterval = reporter.DefaultInterval
	}
}

// UseOS reports whether the OS environment forms the base env layer.
func (c *Config) UseOS() bool { return c.UseOSEnv == nil || *c.UseOSEnv }

// WatchEnabled reports whether the file watcher should run.
func (c *Config) WatchEnabled() bool { return c.Watch.Enabled == nil || *c.Watch.Enabled }

// Definitions converts the service blocks, layering the global log
// defaults and the global watch debounce under the per-service settings.
func (c *Config) Definitions() ([]service.Definition, error) {
	defs := make([]service.Definition, 0, len(c.Services))
	for _, sc := range c.Services {
		d := service.Definition{
			Name:              sc.Name,
			Command:           sc.Command,
			WorkDir:           sc.WorkDir,
			Env:               sc.Env,
			Port:              sc.Port,
			Tier:              sc.Tier,
			HealthURL:         sc.HealthURL,
			HealthTimeout:     sc.HealthTimeout,
			HealthInterval:    sc.HealthInterval,
			HealthMaxDelay:    sc.HealthMaxDelay,
			HealthMaxAttempts: sc.HealthMaxAttempts,
			StartTimeout:      sc.StartTimeout,
			MaxRestarts:       sc.MaxRestarts,
			RestartWindow:     sc.RestartWindow,
			Backoff:           sc.Backoff,
			BackoffMax:        sc.BackoffMax,
			RestartDelay:      sc.RestartDelay,
			StopTimeout:       sc.StopTimeout,
			WatchPaths:        sc.WatchPaths,
			WatchExts:         sc.WatchExts,
			WatchDebounce:     sc.WatchDebounce,
			PIDFile:           sc.PIDFile,
			Log:               sc.Log,
			Hooks:             sc.Hooks,
		}
		if d.WatchDebounce <= 0 && c.Watch.Debounce > 0 {
			d.WatchDebounce = c.Watch.Debounce
		}
		if d.Log.Dir == "" && d.Log.Path == "" && d.Log.StdoutPath == "" {
			d.Log.Dir = c.Log.Dir
			if d.Log.MaxSizeMB == 0 {
				d.Log.MaxSizeMB = c.Log.MaxSizeMB
			}
			if d.Log.MaxBackups == 0 {
				d.Log.MaxBackups = c.Log.MaxBackups
			}
			if d.Log.MaxAgeDays == 0 {
				d.Log.MaxAgeDays = c.Log.MaxAgeDays
			}
		}
		if sc.RestartEvery != "" {
			every, err := service.ParseInterval(sc.RestartEvery)
			if err != nil {
				return nil, fmt.Errorf("service %s: %w", sc.Name, err)
			}
			d.RestartEvery = every
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// Registry builds the validated immutable service table. A ConfigError
// from here lists every violation across the whole file.
func (c *Config) Registry() (*service.Registry, error) {
	defs, err := c.Definitions()
	if err != nil {
		return nil, err
	}
	return service.NewRegistry(defs)
}

// BuildEnv assembles the layered child environment: OS env (when enabled),
// env files in order, then the global env list, with the mode on top.
func (c *Config) BuildEnv() (*env.Env, error) {
	e := env.New()
	e.SetUseOS(c.UseOS())
	e.SetMode(c.Mode)
	for _, f := range c.EnvFiles {
		if err := e.LoadFile(f); err != nil {
			return nil, fmt.Errorf("env file %s: %w", f, err)
		}
	}
	e.SetAll(c.Env)
	return e, nil
}
