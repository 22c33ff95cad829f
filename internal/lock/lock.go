// Package lock guards the daemon against a second instance. The lock file
// carries the holder's PID, instance ID and a heartbeat; an flock on the same
// file makes acquisition atomic.
package lock

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/anthropic/lifeos/internal/model"
)

// ErrHeld is returned when a live instance holds the lock.
var ErrHeld = errors.New("process lock is held by another instance")

// Options tune stale-lock detection.
type Options struct {
	HeartbeatInterval   time.Duration
	StaleAfterIntervals int
	// Now and Alive are overridable for tests.
	Now   func() time.Time
	Alive func(pid int) bool
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = time.Second
	}
	if o.StaleAfterIntervals <= 0 {
		o.StaleAfterIntervals = 10
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Alive == nil {
		o.Alive = processAlive
	}
	return o
}

// StaleAfter is the heartbeat age beyond which a holder is presumed dead.
func (o Options) StaleAfter() time.Duration {
	o = o.withDefaults()
	return time.Duration(o.StaleAfterIntervals) * o.HeartbeatInterval
}

// Lock is a held process lock.
type Lock struct {
	path string
	opts Options

	mu   sync.Mutex
	f    *os.File
	info model.ProcessInfo
}

// Takeover describes a stale holder replaced during Acquire.
type Takeover struct {
	Previous model.ProcessInfo
	Age      time.Duration
}

// Acquire takes the lock at path. It fails fast with ErrHeld when another
// process holds the flock, or when the recorded holder is alive and its
// heartbeat is fresh. A stale record is taken over and reported.
func Acquire(path string, opts Options) (*Lock, *Takeover, error) {
	opts = opts.withDefaults()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open lock file: %w", err)
	}

	prev, prevErr := decode(f)

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if prevErr == nil {
				return nil, nil, fmt.Errorf("%w: pid %d (instance %s)", ErrHeld, prev.PID, prev.Instance)
			}
			return nil, nil, ErrHeld
		}
		return nil, nil, fmt.Errorf("flock %s: %w", path, err)
	}

	now := opts.Now()
	var takeover *Takeover
	if prevErr == nil && prev.PID > 0 {
		age := now.Sub(prev.Heartbeat)
		if prev.PID != os.Getpid() && age < opts.StaleAfter() && opts.Alive(prev.PID) {
			_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
			_ = f.Close()
			return nil, nil, fmt.Errorf("%w: pid %d heartbeat %s ago", ErrHeld, prev.PID, age.Round(time.Millisecond))
		}
		takeover = &Takeover{Previous: prev, Age: age}
	}

	l := &Lock{
		path: path,
		opts: opts,
		f:    f,
		info: model.ProcessInfo{
			PID:       os.Getpid(),
			Instance:  uuid.NewString(),
			Started:   now,
			Heartbeat: now,
		},
	}
	if err := l.write(); err != nil {
		_ = l.Release()
		return nil, nil, err
	}
	return l, takeover, nil
}

// Heartbeat refreshes the heartbeat timestamp in the lock file.
func (l *Lock) Heartbeat() (model.ProcessInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return l.info, os.ErrClosed
	}
	l.info.Heartbeat = l.opts.Now()
	return l.info, l.writeLocked()
}

// Info returns the metadata this lock last wrote.
func (l *Lock) Info() model.ProcessInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.info
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file and drops the flock. It is idempotent.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	rmErr := os.Remove(l.path)
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	if rmErr != nil {
		return fmt.Errorf("remove lock file: %w", rmErr)
	}
	return err
}

func (l *Lock) write() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeLocked()
}

func (l *Lock) writeLocked() error {
	data, err := json.Marshal(l.info)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write lock file: %w", err)
	}
	return nil
}

// Read returns the metadata recorded in the lock file at path without
// taking the lock.
func Read(path string) (model.ProcessInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.ProcessInfo{}, err
	}
	defer f.Close()
	return decode(f)
}

func decode(f *os.File) (model.ProcessInfo, error) {
	var info model.ProcessInfo
	buf := make([]byte, 4096)
	n, err := f.ReadAt(buf, 0)
	if n == 0 {
		if err == nil {
			err = errors.New("empty lock file")
		}
		return info, err
	}
	if err := json.Unmarshal(bytes.TrimSpace(buf[:n]), &info); err != nil {
		return info, fmt.Errorf("decode lock file: %w", err)
	}
	return info, nil
}

// processAlive reports whether pid names a running process. EPERM means it
// exists under another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
