package telemetry

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/model"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func testConfig() config.TelemetryConfig {
	cfg := config.Default().Telemetry
	cfg.QueueSize = 1024
	return cfg
}

// newTestAggregator returns an aggregator whose window started a full window
// before t0, so rates are not scaled up for a partial window.
func newTestAggregator(cfg config.TelemetryConfig) *Aggregator {
	start := t0.Add(-cfg.Window)
	return NewAggregator(cfg, WithClock(func() time.Time { return start }))
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func TestRecordEventRejectsInvalidMagnitude(t *testing.T) {
	a := newTestAggregator(testConfig())

	for _, mag := range []float64{-1, math.NaN(), math.Inf(1)} {
		if err := a.RecordEvent(KindKey, mag); !errors.Is(err, ErrInvalidMagnitude) {
			t.Errorf("RecordEvent(%v) err = %v, want ErrInvalidMagnitude", mag, err)
		}
	}
	if err := a.RecordEvent("wheel", 1); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind err = %v", err)
	}
	if err := a.RecordEvent(KindKey, 0); err != nil {
		t.Errorf("zero magnitude should be accepted: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Rates and classification
// ---------------------------------------------------------------------------

func TestSampleNormalizesToPerMinute(t *testing.T) {
	cfg := testConfig()
	cfg.Window = 30 * time.Second
	a := newTestAggregator(cfg)

	for i := 0; i < 20; i++ {
		_ = a.RecordEventAt(KindKey, 1, t0.Add(-time.Duration(i)*time.Second))
	}
	_ = a.RecordEventAt(KindClick, 5, t0.Add(-2*time.Second))
	_ = a.RecordEventAt(KindPointer, 900, t0.Add(-3*time.Second))

	s := a.Sample(t0)

	if s.KeyCount != 20 || s.ClickCount != 5 {
		t.Fatalf("counts = %d keys %d clicks, want 20/5", s.KeyCount, s.ClickCount)
	}
	// 25 actions over 30s -> 50/min.
	if s.APM != 50 {
		t.Errorf("APM = %v, want 50", s.APM)
	}
	if s.PointerRate != 30 {
		t.Errorf("PointerRate = %v px/s, want 30", s.PointerRate)
	}
	if s.State != model.StateActive {
		t.Errorf("State = %s, want active", s.State)
	}
}

func TestClassifyThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.IdleThreshold = 10
	cfg.IntenseThreshold = 40

	cases := []struct {
		name   string
		sample model.ActivitySample
		want   model.ActivityState
	}{
		{"below T1", model.ActivitySample{APM: 9.9}, model.StateIdle},
		{"at T1", model.ActivitySample{APM: 10}, model.StateActive},
		{"below T2", model.ActivitySample{APM: 39}, model.StateActive},
		{"at T2", model.ActivitySample{APM: 40}, model.StateIntense},
		{"scroll lifts idle", model.ActivitySample{APM: 0, ScrollSteps: 3}, model.StateActive},
		{"pointer lifts idle", model.ActivitySample{APM: 0, PointerRate: 2}, model.StateActive},
		{"small pointer stays idle", model.ActivitySample{APM: 0, PointerRate: 1}, model.StateIdle},
	}
	for _, tc := range cases {
		if got := Classify(cfg, tc.sample); got != tc.want {
			t.Errorf("%s: Classify = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestWindowEvictsOldBuckets(t *testing.T) {
	cfg := testConfig()
	cfg.Window = 10 * time.Second
	a := newTestAggregator(cfg)

	_ = a.RecordEventAt(KindKey, 10, t0)
	if s := a.Sample(t0); s.KeyCount != 10 {
		t.Fatalf("KeyCount = %d, want 10", s.KeyCount)
	}
	// Still inside the window.
	if s := a.Sample(t0.Add(9 * time.Second)); s.KeyCount != 10 {
		t.Fatalf("KeyCount at +9s = %d, want 10", s.KeyCount)
	}
	// Rolled out.
	s := a.Sample(t0.Add(10 * time.Second))
	if s.KeyCount != 0 || s.State != model.StateIdle {
		t.Fatalf("after window: KeyCount=%d State=%s, want 0/idle", s.KeyCount, s.State)
	}
	if s.IdleFor != 10*time.Second {
		t.Errorf("IdleFor = %s, want 10s", s.IdleFor)
	}
}

func TestEventsOlderThanWindowAreIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.Window = 5 * time.Second
	a := newTestAggregator(cfg)

	_ = a.RecordEventAt(KindKey, 3, t0.Add(-time.Minute))
	if s := a.Sample(t0); s.KeyCount != 0 {
		t.Fatalf("stale event counted: KeyCount = %d", s.KeyCount)
	}
}

func TestBackspaceCountsAsKeyAndCorrection(t *testing.T) {
	a := newTestAggregator(testConfig())
	_ = a.RecordEventAt(KindKey, 9, t0)
	_ = a.RecordEventAt(KindBackspace, 1, t0)

	s := a.Sample(t0)
	if s.KeyCount != 10 || s.BackspaceCount != 1 {
		t.Fatalf("keys=%d backspace=%d, want 10/1", s.KeyCount, s.BackspaceCount)
	}
	if s.CorrectionRate() != 0.1 {
		t.Errorf("CorrectionRate = %v", s.CorrectionRate())
	}
}

// ---------------------------------------------------------------------------
// Queue behaviour
// ---------------------------------------------------------------------------

func TestFullQueueDropsWithoutBlocking(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 4
	a := newTestAggregator(cfg)

	for i := 0; i < 10; i++ {
		if err := a.RecordEventAt(KindKey, 1, t0); err != nil {
			t.Fatalf("RecordEventAt: %v", err)
		}
	}
	if a.Dropped() != 6 {
		t.Errorf("Dropped = %d, want 6", a.Dropped())
	}
	if s := a.Sample(t0); s.KeyCount != 4 {
		t.Errorf("KeyCount = %d, want 4", s.KeyCount)
	}
}

func TestConcurrentRecordAndSample(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 100000
	a := newTestAggregator(cfg)

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = a.RecordEventAt(KindKey, 1, t0)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				a.Sample(t0)
			}
		}
	}()
	wg.Wait()
	close(done)

	if s := a.Sample(t0); s.KeyCount != producers*perProducer {
		t.Fatalf("KeyCount = %d, want %d", s.KeyCount, producers*perProducer)
	}
}

func TestRequeueKeepsFailedSamples(t *testing.T) {
	a := newTestAggregator(testConfig())
	s1 := model.ActivitySample{End: t0, APM: 12}
	s2 := model.ActivitySample{End: t0.Add(time.Second), APM: 30}

	a.Requeue(s1)
	a.Requeue(s2)
	got := a.TakePending()
	if len(got) != 2 || got[0].APM != 12 || got[1].APM != 30 {
		t.Fatalf("TakePending = %+v", got)
	}
	if len(a.TakePending()) != 0 {
		t.Fatal("TakePending should clear the buffer")
	}

	dropped := 0
	for i := 0; i < maxPending+5; i++ {
		dropped += a.Requeue(model.ActivitySample{APM: float64(i)})
	}
	got = a.TakePending()
	if len(got) != maxPending || got[0].APM != 5 {
		t.Fatalf("bounded requeue: len=%d first=%v", len(got), got[0].APM)
	}
	if dropped != 5 || a.DroppedSamples() != 5 {
		t.Errorf("dropped = %d, DroppedSamples = %d, want 5", dropped, a.DroppedSamples())
	}
}
