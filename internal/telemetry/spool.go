package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/relvacode/iso8601"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/pkg/logger"
)

// SpoolLine is one NDJSON record written by an input-capture agent.
// Magnitude defaults to 1 and TS to the time the line is read.
type SpoolLine struct {
	Kind      string   `json:"kind"`
	Magnitude *float64 `json:"magnitude,omitempty"`
	TS        string   `json:"ts,omitempty"`
}

// Spool discovers capture files in a directory and tails each one into the
// aggregator. Capture agents are separate processes that only append.
type Spool struct {
	dir      string
	pattern  string
	interval time.Duration
	agg      *Aggregator
	log      logger.Logger

	mu      sync.Mutex
	tailers map[string]*Tailer
	resume  map[string]int64
	wg      sync.WaitGroup

	badLines atomic.Int64
}

// NewSpool creates a spool reader. resume holds byte offsets persisted by a
// previous run, keyed by absolute file path.
func NewSpool(cfg config.TelemetryConfig, agg *Aggregator, resume map[string]int64, log logger.Logger) *Spool {
	if log == nil {
		log = logger.Nop()
	}
	if resume == nil {
		resume = map[string]int64{}
	}
	return &Spool{
		dir:      cfg.SpoolDir,
		pattern:  cfg.SpoolPattern,
		interval: cfg.PollInterval,
		agg:      agg,
		log:      log,
		tailers:  make(map[string]*Tailer),
		resume:   resume,
	}
}

// Run watches the spool directory until ctx is cancelled, then waits for
// every tailer to return.
func (s *Spool) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("spool watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()
	if err := fsw.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	existing, err := filepath.Glob(filepath.Join(s.dir, s.pattern))
	if err != nil {
		return fmt.Errorf("glob spool: %w", err)
	}
	for _, path := range existing {
		s.follow(ctx, path)
	}

	defer s.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				s.follow(ctx, ev.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			s.log.Warn(ctx, "spool watcher error", logger.Error(err))
		}
	}
}

// accepts filters out editor swap files, hidden files and anything not
// matching the configured pattern.
func (s *Spool) accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	ok, _ := filepath.Match(s.pattern, base)
	return ok
}

func (s *Spool) follow(ctx context.Context, path string) {
	if !s.accepts(path) {
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	s.mu.Lock()
	if _, ok := s.tailers[abs]; ok {
		s.mu.Unlock()
		return
	}
	t := NewTailer(abs, s.resume[abs], s.interval)
	s.tailers[abs] = t
	s.mu.Unlock()

	s.log.Debug(ctx, "following spool file", logger.String("path", abs), logger.Int64("offset", t.Offset()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := t.Tail(ctx, s.ingest); err != nil {
			s.log.Warn(ctx, "spool tailer stopped", logger.String("path", abs), logger.Error(err))
		}
	}()
}

func (s *Spool) ingest(line []byte) {
	var rec SpoolLine
	if err := json.Unmarshal(line, &rec); err != nil {
		s.badLines.Add(1)
		return
	}
	kind, err := ParseKind(rec.Kind)
	if err != nil {
		s.badLines.Add(1)
		return
	}
	mag := 1.0
	if rec.Magnitude != nil {
		mag = *rec.Magnitude
	}
	at := time.Now()
	if rec.TS != "" {
		if ts, err := iso8601.ParseString(rec.TS); err == nil {
			at = ts
		}
	}
	if err := s.agg.RecordEventAt(kind, mag, at); err != nil {
		s.badLines.Add(1)
	}
}

// Offsets returns the current read offset of every followed file.
func (s *Spool) Offsets() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.tailers))
	for path, t := range s.tailers {
		out[path] = t.Offset()
	}
	return out
}

// BadLines counts lines that could not be parsed or were rejected.
func (s *Spool) BadLines() int64 { return s.badLines.Load() }
