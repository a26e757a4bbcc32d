package events

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// FileSink appends events to an NDJSON file, one JSON object per line,
// rotated by lumberjack so a long-running supervisor does not grow the
// log without bound. The format is meant for external tailing.
type FileSink struct {
	w *lj.Logger
}

func NewFileSink(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	return &FileSink{w: &lj.Logger{
		Filename:   path,
		MaxSize:    20,
		MaxBackups: 3,
		MaxAge:     14,
	}}, nil
}

func (s *FileSink) Send(_ context.Context, e Event) error {
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.w.Write(append(line, '\n'))
	return err
}

func (s *FileSink) Close() error { return s.w.Close() }
