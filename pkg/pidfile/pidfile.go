// Package pidfile keeps a single livedatabusd instance per PID file.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile is a PID file owned by the current process.
type PIDFile struct {
	path string
	pid  int
}

// New creates a PIDFile for the current process.
func New(path string) *PIDFile {
	return &PIDFile{path: path, pid: os.Getpid()}
}

// Path returns the file path.
func (p *PIDFile) Path() string {
	return p.path
}

// CheckRunning reports whether the file names a live process other than
// this one.
func (p *PIDFile) CheckRunning() (bool, int, error) {
	pid, err := p.read()
	if errors.Is(err, os.ErrNotExist) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	return pid != p.pid && processAlive(pid), pid, nil
}

// Create writes the current PID, replacing a stale file.
func (p *PIDFile) Create() error {
	running, pid, err := p.CheckRunning()
	if err != nil {
		return err
	}
	if running {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}
	if err := os.WriteFile(p.path, []byte(strconv.Itoa(p.pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}
	return nil
}

// Remove deletes the file if it still holds the current PID.
func (p *PIDFile) Remove() error {
	pid, err := p.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err == nil && pid != p.pid {
		return fmt.Errorf("PID file contains different PID (%d vs %d), not removing", pid, p.pid)
	}
	return os.Remove(p.path)
}

func (p *PIDFile) read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", s)
	}
	return pid, nil
}

// signal 0 checks for existence; EPERM means it exists under another user
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
