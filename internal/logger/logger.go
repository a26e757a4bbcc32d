package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation parameters for per-service log files.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes log destinations for a managed service.
// By default the child's stdout and stderr are combined into a single
// Dir/<name>.log file. Explicit StdoutPath/StderrPath split the streams.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	Path       string `json:"path" mapstructure:"path"`               // explicit combined path, overrides Dir
	StdoutPath string `json:"stdout_path" mapstructure:"stdout_path"` // split mode: stdout destination
	StderrPath string `json:"stderr_path" mapstructure:"stderr_path"` // split mode: stderr destination
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

func (c Config) rotating(path string) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// Writers returns the stdout and stderr destinations for the named service.
// In combined mode both returned writers are the same object; os/exec
// detects the identical writer and serializes writes to it, so interleaved
// output stays line-intact. Both may be nil when no destination is set.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser, error) {
	if c.StdoutPath != "" || c.StderrPath != "" {
		var outW, errW io.WriteCloser
		if c.StdoutPath != "" {
			if err := ensureParent(c.StdoutPath); err != nil {
				return nil, nil, err
			}
			outW = c.rotating(c.StdoutPath)
		}
		if c.StderrPath != "" {
			if err := ensureParent(c.StderrPath); err != nil {
				return nil, nil, err
			}
			errW = c.rotating(c.StderrPath)
		}
		return outW, errW, nil
	}
	combined := c.Path
	if combined == "" && c.Dir != "" {
		combined = filepath.Join(c.Dir, fmt.Sprintf("%s.log", name))
	}
	if combined == "" {
		return nil, nil, nil
	}
	if err := ensureParent(combined); err != nil {
		return nil, nil, err
	}
	w := c.rotating(combined)
	return w, w, nil
}

func ensureParent(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		return os.MkdirAll(dir, 0o750)
	}
	return nil
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// ParseLevel converts a config string into a slog.Level. Unknown values
// default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Setup builds the supervisor's own logger. format is "text" (colorized,
// for terminals) or "json". The returned logger is also installed as the
// slog default.
func Setup(w io.Writer, level slog.Level, format string) *slog.Logger {
	var h slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = NewColorTextHandler(w, opts)
	}
	l := slog.New(h)
	slog.SetDefault(l)
	return l
}
