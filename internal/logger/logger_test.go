package logger

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

func TestWritersCombinedByDefault(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	outW, errW, err := cfg.Writers("api")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("expected writers when Dir is set")
	}
	if outW != errW {
		t.Fatalf("expected combined mode to share one writer")
	}
	if _, err := outW.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	closeIf(outW)
	p := filepath.Join(dir, "api.log")
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("combined log not created at %s: %v", p, err)
	}
	if string(b) != "hello\n" {
		t.Fatalf("unexpected content %q", b)
	}
}

func TestWritersSplitMode(t *testing.T) {
	dir := t.TempDir()
	sp := filepath.Join(dir, "s.out.log")
	ep := filepath.Join(dir, "s.err.log")
	cfg := Config{StdoutPath: sp, StderrPath: ep}
	outW, errW, err := cfg.Writers("ignored")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW == nil || errW == nil || outW == errW {
		t.Fatalf("expected two distinct writers in split mode")
	}
	_, _ = outW.Write([]byte("x"))
	_, _ = errW.Write([]byte("y"))
	closeIf(outW)
	closeIf(errW)
	if _, err := os.Stat(sp); err != nil {
		t.Fatalf("stdout path not created: %v", err)
	}
	if _, err := os.Stat(ep); err != nil {
		t.Fatalf("stderr path not created: %v", err)
	}
}

func TestWritersNoDestination(t *testing.T) {
	outW, errW, err := Config{}.Writers("n")
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	if outW != nil || errW != nil {
		t.Fatalf("expected nil writers without Dir or paths")
	}
}

func TestWritersRotationDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir}
	outW, _, _ := cfg.Writers("n")
	l, ok := outW.(*lj.Logger)
	if !ok {
		t.Fatalf("writer is not lumberjack.Logger")
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("unexpected defaults: size=%d backups=%d age=%d", l.MaxSize, l.MaxBackups, l.MaxAge)
	}
	closeIf(outW)

	cfg = Config{Dir: dir, MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 11, Compress: true}
	outW, _, _ = cfg.Writers("m")
	l = outW.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 11 || !l.Compress {
		t.Fatalf("overrides not applied: size=%d backups=%d age=%d compress=%t", l.MaxSize, l.MaxBackups, l.MaxAge, l.Compress)
	}
	closeIf(outW)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestColorTextHandlerKeepsColorThroughWith(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewColorTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l.With("service", "api").Warn("slow start")
	out := buf.String()
	if !strings.Contains(out, "\033[33m") {
		t.Fatalf("expected yellow level tag in %q", out)
	}
	if !strings.Contains(out, "service=api") {
		t.Fatalf("expected attr from derived logger in %q", out)
	}
}
