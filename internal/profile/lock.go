package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError is returned when another daemon already runs for the profile.
type HeldError struct {
	Profile string
	PID     int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("profile %q already in use by PID %d", e.Profile, e.PID)
}

// Lock guards a profile directory against a second daemon. It is separate
// from the sync lock, which serializes sync passes inside the database.
type Lock struct {
	file *os.File
	path string
}

// LockPath returns the daemon lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// AcquireLock takes an exclusive flock on the profile's LOCK file and records
// the owning PID in it.
func AcquireLock(name string) (*Lock, error) {
	if err := EnsureDir(name); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := LockPath(name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		pid, _ := LockHolder(name)
		return nil, &HeldError{Profile: name, PID: pid}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteAt([]byte(content), 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// LockHolder returns the PID recorded in the profile's LOCK file. ok is false
// when no daemon has the file.
func LockHolder(name string) (pid int, ok bool) {
	data, err := os.ReadFile(LockPath(name))
	if err != nil {
		return 0, false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if after, found := strings.CutPrefix(line, "pid="); found {
			pid, _ = strconv.Atoi(after)
			return pid, pid > 0
		}
	}
	return 0, false
}

// Release removes the lock file and drops the flock. Safe to call on a nil
// receiver and more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
