package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// Tailer follows one append-only file and hands complete lines to a callback.
// It polls the file size rather than relying on fsnotify write events, which
// is more reliable for files appended to by other processes.
type Tailer struct {
	path     string
	offset   atomic.Int64
	interval time.Duration
}

// NewTailer creates a tailer that starts reading from offset.
// interval controls poll frequency (default: 500ms).
func NewTailer(path string, offset int64, interval time.Duration) *Tailer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	t := &Tailer{path: path, interval: interval}
	t.offset.Store(offset)
	return t
}

// Tail reads lines appended after the current offset until ctx is cancelled.
// The offset only advances past complete, newline-terminated lines, so a
// partially written line is re-read on the next poll. A file shorter than
// the offset is treated as truncated and read again from the start.
func (t *Tailer) Tail(ctx context.Context, onLine func([]byte)) error {
	for {
		if _, err := os.Stat(t.path); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(t.interval):
		}
	}

	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	defer func() { _ = f.Close() }()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stat %s: %w", t.path, err)
		}
		if info.Size() < t.offset.Load() {
			t.offset.Store(0)
		}
		if info.Size() > t.offset.Load() {
			if err := t.readFrom(f, onLine); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (t *Tailer) readFrom(f *os.File, onLine func([]byte)) error {
	off := t.offset.Load()
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seek %s to %d: %w", t.path, off, err)
	}
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// Partial line: leave it for the next poll.
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", t.path, err)
		}
		off += int64(len(line))
		t.offset.Store(off)

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			continue
		}
		onLine(line)
	}
}

// Offset returns the byte offset just past the last complete line read.
func (t *Tailer) Offset() int64 { return t.offset.Load() }

// Path returns the file path being tailed.
func (t *Tailer) Path() string { return t.path }
