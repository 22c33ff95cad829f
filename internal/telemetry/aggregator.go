// Package telemetry turns raw input events into windowed activity samples.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/pkg/metrics"
)

// EventKind names a class of input event.
type EventKind string

const (
	KindKey       EventKind = "key"
	KindClick     EventKind = "click"
	KindScroll    EventKind = "scroll"
	KindPointer   EventKind = "pointer"   // magnitude: pixels travelled
	KindBackspace EventKind = "backspace" // counted as a key as well
)

// ParseKind validates a kind received from an external feed.
func ParseKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case KindKey, KindClick, KindScroll, KindPointer, KindBackspace:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

var (
	ErrInvalidMagnitude = errors.New("magnitude must be a finite non-negative number")
	ErrUnknownKind      = errors.New("unknown event kind")
)

const maxPending = 64

type event struct {
	kind      EventKind
	magnitude float64
	at        time.Time
}

type bucket struct {
	sec       int64
	keys      int
	clicks    int
	scroll    int
	backspace int
	pointer   float64
}

// Aggregator accumulates events from any number of producers into a sliding
// window of one-second buckets. RecordEvent never blocks: events go through a
// bounded queue that Sample drains.
type Aggregator struct {
	cfg    config.TelemetryConfig
	window int64
	queue  chan event
	now    func() time.Time

	mu        sync.Mutex
	buckets   []bucket
	started   time.Time
	lastInput time.Time
	pending   []model.ActivitySample

	dropped     atomic.Int64
	lostSamples atomic.Int64
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator with the configured window and thresholds.
func NewAggregator(cfg config.TelemetryConfig, opts ...Option) *Aggregator {
	w := int64(cfg.Window / time.Second)
	if w < 1 {
		w = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	a := &Aggregator{
		cfg:     cfg,
		window:  w,
		queue:   make(chan event, size),
		now:     time.Now,
		buckets: make([]bucket, w),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.started = a.now()
	a.lastInput = a.started
	return a
}

// RecordEvent enqueues one event stamped with the current time.
func (a *Aggregator) RecordEvent(kind EventKind, magnitude float64) error {
	return a.RecordEventAt(kind, magnitude, a.now())
}

// RecordEventAt enqueues an event with an explicit timestamp. It is safe for
// concurrent use. A full queue drops the event and counts it.
func (a *Aggregator) RecordEventAt(kind EventKind, magnitude float64, at time.Time) error {
	if magnitude < 0 || math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return ErrInvalidMagnitude
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return err
	}
	select {
	case a.queue <- event{kind: kind, magnitude: magnitude, at: at}:
		metrics.RecordEvent(string(kind))
	default:
		a.dropped.Add(1)
		metrics.RecordEventDropped()
	}
	return nil
}

// Dropped returns how many events were discarded because the queue was full.
func (a *Aggregator) Dropped() int64 { return a.dropped.Load() }

// Sample drains the queue, evicts buckets older than the window and returns
// the per-minute rates over the window ending at now.
func (a *Aggregator) Sample(now time.Time) model.ActivitySample {
	a.mu.Lock()
	defer a.mu.Unlock()

	nowSec := now.Unix()
	oldest := nowSec - a.window + 1
	a.drain(oldest, nowSec)

	var sum bucket
	for i := range a.buckets {
		b := &a.buckets[i]
		if b.sec < oldest || b.sec > nowSec {
			*b = bucket{}
			continue
		}
		sum.keys += b.keys
		sum.clicks += b.clicks
		sum.scroll += b.scroll
		sum.backspace += b.backspace
		sum.pointer += b.pointer
	}

	// Early in the run the window is only partially filled.
	span := float64(a.window)
	if elapsed := now.Sub(a.started).Seconds(); elapsed < span {
		span = math.Max(1, elapsed)
	}
	perMinute := 60 / span

	s := model.ActivitySample{
		Start:           now.Add(-time.Duration(span * float64(time.Second))),
		End:             now,
		KeyCount:        sum.keys,
		ClickCount:      sum.clicks,
		ScrollSteps:     sum.scroll,
		BackspaceCount:  sum.backspace,
		PointerDistance: sum.pointer,
		APM:             float64(sum.keys+sum.clicks) * perMinute,
		PointerRate:     sum.pointer / span,
		IdleFor:         now.Sub(a.lastInput),
	}
	if s.IdleFor < 0 {
		s.IdleFor = 0
	}
	s.State = Classify(a.cfg, s)
	return s
}

func (a *Aggregator) drain(oldest, newest int64) {
	for {
		select {
		case ev := <-a.queue:
			a.fold(ev, oldest, newest)
		default:
			return
		}
	}
}

func (a *Aggregator) fold(ev event, oldest, newest int64) {
	sec := ev.at.Unix()
	if sec < oldest {
		return
	}
	if sec > newest {
		sec = newest
	}
	b := &a.buckets[sec%a.window]
	if b.sec != sec {
		*b = bucket{sec: sec}
	}
	switch ev.kind {
	case KindKey:
		b.keys += int(ev.magnitude)
	case KindBackspace:
		b.keys += int(ev.magnitude)
		b.backspace += int(ev.magnitude)
	case KindClick:
		b.clicks += int(ev.magnitude)
	case KindScroll:
		b.scroll += int(ev.magnitude)
	case KindPointer:
		b.pointer += ev.magnitude
	}
	if ev.magnitude > 0 && ev.at.After(a.lastInput) {
		a.lastInput = ev.at
	}
}

// Classify applies the idle/active/intense thresholds. Scrolling or enough
// pointer travel lifts an otherwise idle window to active.
func Classify(cfg config.TelemetryConfig, s model.ActivitySample) model.ActivityState {
	if s.APM >= cfg.IntenseThreshold {
		return model.StateIntense
	}
	if s.APM >= cfg.IdleThreshold {
		return model.StateActive
	}
	if cfg.ScrollActiveSteps > 0 && s.ScrollSteps >= cfg.ScrollActiveSteps {
		return model.StateActive
	}
	if cfg.PointerActiveDistance > 0 && s.PointerRate*60 >= cfg.PointerActiveDistance {
		return model.StateActive
	}
	return model.StateIdle
}

// Requeue keeps a sample whose tick failed to persist so the next tick can
// write it. At most maxPending samples are kept; the oldest go first and
// their number is returned.
func (a *Aggregator) Requeue(samples ...model.ActivitySample) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, samples...)
	over := len(a.pending) - maxPending
	if over <= 0 {
		return 0
	}
	a.pending = append(a.pending[:0], a.pending[over:]...)
	a.lostSamples.Add(int64(over))
	metrics.RecordSamplesDropped(over)
	return over
}

// DroppedSamples returns how many requeued samples were discarded because
// the replay buffer was full.
func (a *Aggregator) DroppedSamples() int64 { return a.lostSamples.Load() }

// TakePending returns and clears the requeued samples, oldest first.
func (a *Aggregator) TakePending() []model.ActivitySample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pending
	a.pending = nil
	return out
}
