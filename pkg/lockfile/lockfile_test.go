package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func writeContent(t *testing.T, path string, content Content) {
	t.Helper()
	data, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := os.WriteFile(path, data, util.UserWritableFilePerms); err != nil {
		t.Fatalf("failed to write lock file: %v", err)
	}
}

func TestAcquireAndRelease(t *testing.T) {
	path := PathFor(t.TempDir(), "nightly")

	lock, err := Acquire(context.Background(), path, "backup nightly")
	if err != nil {
		t.Fatalf("expected to acquire lock, but got error: %v", err)
	}
	if lock.Path() != path {
		t.Errorf("expected lock path %s, got %s", path, lock.Path())
	}

	content, err := Read(path)
	if err != nil {
		t.Fatalf("could not read lock content: %v", err)
	}
	if content.Owner != "backup nightly" || content.PID != int64(os.Getpid()) || content.Nonce == "" {
		t.Errorf("unexpected lock content: %+v", content)
	}

	lock.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("lock file was not removed after releasing lock")
	}
}

func TestContention(t *testing.T) {
	path := PathFor(t.TempDir(), "history")

	lock1, err := Acquire(context.Background(), path, "first")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer lock1.Release()

	_, err = Acquire(context.Background(), path, "second")
	var lockErr *ErrLockActive
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *ErrLockActive, got %T: %v", err, err)
	}
	if lockErr.Owner != "first" {
		t.Errorf("expected lock error to report owner 'first', got '%s'", lockErr.Owner)
	}
}

func TestStaleLockTakeover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.lock")
	writeContent(t, path, Content{
		PID:        12345,
		Hostname:   "stale-host",
		Owner:      "stale",
		LastUpdate: time.Now().Add(-(staleTimeout + time.Minute)),
		Nonce:      "stale-nonce",
	})

	lock, err := Acquire(context.Background(), path, "fresh")
	if err != nil {
		t.Fatalf("failed to take over stale lock: %v", err)
	}
	defer lock.Release()

	content, err := Read(path)
	if err != nil {
		t.Fatalf("could not read lock content: %v", err)
	}
	if content.Owner != "fresh" {
		t.Errorf("expected owner 'fresh', got '%s'", content.Owner)
	}
}

func TestCorruptLockTakeover(t *testing.T) {
	origWait := retryWait
	retryWait = time.Millisecond
	t.Cleanup(func() { retryWait = origWait })

	path := filepath.Join(t.TempDir(), "job.lock")
	if err := os.WriteFile(path, []byte("{corrupt"), util.UserWritableFilePerms); err != nil {
		t.Fatalf("failed to write corrupt lock: %v", err)
	}

	lock, err := Acquire(context.Background(), path, "fresh")
	if err != nil {
		t.Fatalf("failed to take over corrupt lock: %v", err)
	}
	lock.Release()
}

func TestHeartbeatKeepsLockFresh(t *testing.T) {
	origHeartbeat, origStale := heartbeatInterval, staleTimeout
	heartbeatInterval = 50 * time.Millisecond
	staleTimeout = 3 * heartbeatInterval
	t.Cleanup(func() {
		heartbeatInterval = origHeartbeat
		staleTimeout = origStale
	})

	path := PathFor(t.TempDir(), "job")
	lock1, err := Acquire(context.Background(), path, "first")
	if err != nil {
		t.Fatalf("failed to acquire initial lock: %v", err)
	}
	defer lock1.Release()

	// Longer than the stale timeout, so only the heartbeat keeps it alive.
	time.Sleep(staleTimeout + heartbeatInterval)

	_, err = Acquire(context.Background(), path, "second")
	var lockErr *ErrLockActive
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected ErrLockActive, got %T: %v", err, err)
	}
}

func TestReleaseIdempotency(t *testing.T) {
	path := PathFor(t.TempDir(), "job")
	lock, err := Acquire(context.Background(), path, "app")
	if err != nil {
		t.Fatalf("failed to acquire lock: %v", err)
	}
	lock.Release()
	lock.Release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("lock file still exists after multiple releases")
	}
}

func TestAcquireCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Acquire(ctx, PathFor(t.TempDir(), "job"), "app"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRead(t *testing.T) {
	origWait := retryWait
	retryWait = 20 * time.Millisecond
	t.Cleanup(func() { retryWait = origWait })

	path := filepath.Join(t.TempDir(), "test.lock")

	t.Run("Valid file", func(t *testing.T) {
		writeContent(t, path, Content{PID: 1, Owner: "valid", Nonce: "abc"})
		content, err := Read(path)
		if err != nil {
			t.Fatalf("failed to read valid content: %v", err)
		}
		if content.Owner != "valid" {
			t.Errorf("expected owner 'valid', got '%s'", content.Owner)
		}
	})

	t.Run("Persistently empty file", func(t *testing.T) {
		if err := os.WriteFile(path, nil, util.UserWritableFilePerms); err != nil {
			t.Fatalf("failed to write empty file: %v", err)
		}
		if _, err := Read(path); !errors.Is(err, ErrCorruptLockFile) {
			t.Errorf("expected ErrCorruptLockFile, got %v", err)
		}
	})

	t.Run("Persistently corrupt file", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("{corrupt"), util.UserWritableFilePerms); err != nil {
			t.Fatalf("failed to write corrupt file: %v", err)
		}
		if _, err := Read(path); !errors.Is(err, ErrCorruptLockFile) {
			t.Errorf("expected ErrCorruptLockFile, got %v", err)
		}
	})

	t.Run("Missing file", func(t *testing.T) {
		if _, err := Read(filepath.Join(t.TempDir(), "none.lock")); !os.IsNotExist(err) {
			t.Errorf("expected not-exist error, got %v", err)
		}
	})
}
