package profile

import (
	"errors"
	"os"
	"testing"
)

func TestAcquireLock(t *testing.T) {
	t.Setenv("MIRROR_HOME", t.TempDir())

	l, err := AcquireLock("main")
	if err != nil {
		t.Fatalf("AcquireLock() error = %v", err)
	}
	pid, ok := LockHolder("main")
	if !ok || pid != os.Getpid() {
		t.Errorf("LockHolder() = %d, %v; want %d, true", pid, ok, os.Getpid())
	}

	_, err = AcquireLock("main")
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("second AcquireLock() error = %v, want *HeldError", err)
	}
	if held.PID != os.Getpid() || held.Profile != "main" {
		t.Errorf("HeldError = %+v", held)
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if _, ok := LockHolder("main"); ok {
		t.Error("LockHolder() reports a holder after Release")
	}

	l2, err := AcquireLock("main")
	if err != nil {
		t.Fatalf("AcquireLock() after release error = %v", err)
	}
	_ = l2.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}
