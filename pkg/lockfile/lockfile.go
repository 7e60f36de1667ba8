// Package lockfile provides a cross-process lock backed by a JSON file.
//
// A lock is taken by creating the file with O_EXCL. The holder refreshes the
// timestamp inside it on a heartbeat; a lock whose heartbeat is older than
// staleTimeout (or whose file is unreadable) belongs to a dead process and is
// taken over with an atomic rename. A random nonce read back after the rename
// decides which process won a concurrent takeover.
package lockfile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-rsync/pkg/plog"
	"github.com/paulschiretz/pgl-rsync/pkg/util"
)

// Content is what a lock file holds.
type Content struct {
	PID        int64     `json:"pid"`
	Hostname   string    `json:"hostname"`
	Owner      string    `json:"owner"`
	LastUpdate time.Time `json:"lastUpdate"`
	Nonce      string    `json:"nonce"`
}

// ErrLockActive is returned when a live process holds the lock.
type ErrLockActive struct {
	PID       int64
	Hostname  string
	Owner     string
	TimeSince time.Duration
}

func (e *ErrLockActive) Error() string {
	return fmt.Sprintf("lock is held by %s (PID %d on host '%s'), last heartbeat %s ago", e.Owner, e.PID, e.Hostname, e.TimeSince.Truncate(time.Second))
}

// ErrLostRace is returned when another process won a stale-lock takeover.
var ErrLostRace = errors.New("lost race during stale lock takeover")

// ErrCorruptLockFile is returned when the lock file is empty or not valid JSON.
var ErrCorruptLockFile = errors.New("lock file is corrupt or empty")

// Variables so tests can shorten them.
var (
	heartbeatInterval = time.Minute
	staleTimeout      = 3 * heartbeatInterval
	retryWait         = 100 * time.Millisecond
)

const maxAttempts = 3

// Lock is a held lock. Release it when done.
type Lock struct {
	path    string
	content Content

	mu     sync.Mutex
	held   bool
	cancel context.CancelFunc
	done   chan struct{}
}

// Acquire takes the lock at path on behalf of owner. It returns *ErrLockActive
// if a live process holds it. ctx bounds the acquisition, not the lock lifetime.
func Acquire(ctx context.Context, path, owner string) (*Lock, error) {
	for range maxAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := create(path, owner)
		if err == nil {
			return lock.start(), nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("could not create lock file %s: %w", path, err)
		}

		current, err := Read(path)
		switch {
		case errors.Is(err, ErrCorruptLockFile):
			plog.Warn("Lock file is corrupt, treating as stale", "path", path, "error", err)
		case errors.Is(err, os.ErrNotExist):
			// Released between our create and read.
			continue
		case err != nil:
			time.Sleep(retryWait)
			continue
		default:
			age := time.Since(current.LastUpdate)
			if age < staleTimeout {
				return nil, &ErrLockActive{PID: current.PID, Hostname: current.Hostname, Owner: current.Owner, TimeSince: age}
			}
			plog.Warn("Found stale lock, taking over", "path", path, "pid", current.PID, "owner", current.Owner, "age", age)
		}

		lock, err = takeover(path, owner)
		if err != nil {
			if errors.Is(err, ErrLostRace) {
				plog.Debug("Lost lock takeover race, retrying", "path", path)
			} else {
				plog.Warn("Lock takeover failed, retrying", "path", path, "error", err)
			}
			time.Sleep(retryWait)
			continue
		}
		return lock.start(), nil
	}
	return nil, fmt.Errorf("could not acquire lock %s after %d attempts", path, maxAttempts)
}

func newContent(owner string) (Content, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Content{}, fmt.Errorf("could not generate lock nonce: %w", err)
	}
	hostname, err := os.Hostname()
	if err != nil {
		return Content{}, fmt.Errorf("could not determine hostname: %w", err)
	}
	return Content{
		PID:        int64(os.Getpid()),
		Hostname:   hostname,
		Owner:      owner,
		LastUpdate: time.Now().UTC(),
		Nonce:      hex.EncodeToString(nonce),
	}, nil
}

// create claims a free lock with O_EXCL.
func create(path, owner string) (*Lock, error) {
	content, err := newContent(owner)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err == nil {
		_, err = f.Write(data)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("could not write lock file %s: %w", path, err)
	}
	return &Lock{path: path, content: content}, nil
}

// takeover replaces a stale lock and verifies by nonce that this process won.
func takeover(path, owner string) (*Lock, error) {
	content, err := newContent(owner)
	if err != nil {
		return nil, err
	}
	if err := write(path, content); err != nil {
		return nil, err
	}
	readback, err := Read(path)
	if err != nil {
		return nil, fmt.Errorf("could not read back lock file after takeover: %w", err)
	}
	if readback.PID != content.PID || readback.Nonce != content.Nonce {
		return nil, ErrLostRace
	}
	return &Lock{path: path, content: content}, nil
}

func write(path string, content Content) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal lock content: %w", err)
	}
	return util.WriteFileAtomic(path, data, util.UserWritableFilePerms)
}

// Read returns the content of the lock file at path. Transient empty or partial
// reads are retried before ErrCorruptLockFile is returned.
func Read(path string) (Content, error) {
	var lastErr error
	for range maxAttempts {
		data, err := os.ReadFile(path)
		if err != nil {
			return Content{}, err
		}
		if len(data) == 0 {
			lastErr = errors.New("lock file is empty")
			time.Sleep(retryWait / 2)
			continue
		}
		var content Content
		if lastErr = json.Unmarshal(data, &content); lastErr != nil {
			time.Sleep(retryWait / 2)
			continue
		}
		return content, nil
	}
	return Content{}, fmt.Errorf("%w: %v", ErrCorruptLockFile, lastErr)
}

// start marks the lock held and begins the heartbeat.
func (l *Lock) start() *Lock {
	ctx, cancel := context.WithCancel(context.Background())
	l.held = true
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.heartbeat(ctx)
	plog.Debug("Lock acquired", "path", l.path, "owner", l.content.Owner)
	return l
}

func (l *Lock) heartbeat(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			l.content.LastUpdate = time.Now().UTC()
			content := l.content
			l.mu.Unlock()
			if err := write(l.path, content); err != nil {
				plog.Warn("Lock heartbeat failed", "path", l.path, "error", err)
			}
		}
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release stops the heartbeat and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	if !l.held {
		l.mu.Unlock()
		return
	}
	l.held = false
	l.mu.Unlock()

	l.cancel()
	<-l.done

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		plog.Warn("Could not remove lock file", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

// PathFor returns the lock path for name inside dir.
func PathFor(dir, name string) string {
	return filepath.Join(dir, "."+name+".lock")
}
