package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// writePIDFile records the current PID if the definition asks for one.
// Written synchronously after spawn so the file is valid as soon as Start
// returns. Best-effort.
func (p *Process) writePIDFile() {
	p.mu.Lock()
	path, pid := p.def.PIDFile, p.pid
	p.mu.Unlock()
	if path == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o750)
	_ = os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

func (p *Process) removePIDFile() {
	p.mu.Lock()
	path := p.def.PIDFile
	p.mu.Unlock()
	if path == "" {
		return
	}
	_ = os.Remove(path)
}

// ReadPIDFile parses a PID file written by writePIDFile.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	line, _, _ := strings.Cut(string(b), "\n")
	return strconv.Atoi(strings.TrimSpace(line))
}
