package biometric

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Azure/iot-operations-sdks/go/mqtt/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/model"
)

type fakeClient struct {
	mu        sync.Mutex
	dailyErrs []error
	daily     model.DailyBaseline
	hr        []model.HeartRateSample
	hrErr     error
	dailyN    int
	froms     []time.Time
}

func (f *fakeClient) FetchDaily(_ context.Context, date string) (model.DailyBaseline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dailyN++
	if len(f.dailyErrs) > 0 {
		err := f.dailyErrs[0]
		f.dailyErrs = f.dailyErrs[1:]
		return model.DailyBaseline{}, err
	}
	b := f.daily
	b.Date = date
	return b, nil
}

func (f *fakeClient) FetchRecentHeartRate(_ context.Context, from, to time.Time) ([]model.HeartRateSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.froms = append(f.froms, from)
	if f.hrErr != nil {
		return nil, f.hrErr
	}
	var out []model.HeartRateSample
	for _, s := range f.hr {
		if !s.Timestamp.Before(from) && s.Timestamp.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func newTestPoller(c Client, now time.Time) *Poller {
	p := NewPoller(c, config.BiometricConfig{
		PollInterval:    time.Minute,
		HeartRateWindow: time.Hour,
		RetryAttempts:   3,
	}, 4, nil, WithClock(func() time.Time { return now }))
	p.policy = &retry.ExponentialBackoff{
		MaxAttempts: 3,
		MinInterval: time.Millisecond,
		MaxInterval: time.Millisecond,
		NoJitter:    true,
	}
	return p
}

func TestPollerRetriesTransientFailures(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.Local)
	c := &fakeClient{
		daily: model.DailyBaseline{Readiness: 80, SleepScore: 70, FetchedAt: now},
		dailyErrs: []error{
			&RetryableError{Op: "daily", Err: errors.New("503")},
			&RetryableError{Op: "daily", Err: errors.New("timeout")},
		},
	}
	p := newTestPoller(c, now)

	require.Nil(t, p.Latest())
	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 3, c.dailyN)

	b := p.Latest()
	require.NotNil(t, b)
	assert.Equal(t, "2026-10-17", b.Date)
	assert.Equal(t, 80, b.Readiness)
	assert.Empty(t, p.Status().LastError)
}

func TestPollerKeepsCacheOnFailure(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.Local)
	c := &fakeClient{}
	p := newTestPoller(c, now)
	p.Seed(&model.DailyBaseline{Date: "2026-10-16", Readiness: 66}, model.HeartRateSample{})

	c.dailyErrs = []error{
		&RetryableError{Err: errors.New("a")},
		&RetryableError{Err: errors.New("b")},
		&RetryableError{Err: errors.New("c")},
	}
	require.Error(t, p.Poll(context.Background()))

	b := p.Latest()
	require.NotNil(t, b)
	assert.Equal(t, "2026-10-16", b.Date)
	assert.NotEmpty(t, p.Status().LastError)
	assert.False(t, p.Status().Halted)
}

func TestPollerHaltsOnFatal(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.Local)
	c := &fakeClient{dailyErrs: []error{&FatalError{Op: "daily", Err: errors.New("HTTP 401")}}}
	p := newTestPoller(c, now)

	err := p.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, 1, c.dailyN, "fatal errors are not retried")
	assert.True(t, p.Status().Halted)
}

func TestPollerNoDataIsNotAnError(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.Local)
	c := &fakeClient{dailyErrs: []error{ErrNoData}}
	p := newTestPoller(c, now)

	require.NoError(t, p.Poll(context.Background()))
	assert.Nil(t, p.Latest())
}

func TestPollerMeasuredQueue(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.Local)
	c := &fakeClient{
		daily: model.DailyBaseline{Readiness: 80, FetchedAt: now},
		hr: []model.HeartRateSample{
			{Timestamp: now.Add(-50 * time.Minute), BPM: 64},
			{Timestamp: now.Add(-20 * time.Minute), BPM: 71},
		},
	}
	p := newTestPoller(c, now)

	require.NoError(t, p.Poll(context.Background()))
	got := p.TakeMeasured()
	require.Len(t, got, 2)
	assert.Equal(t, model.Measured, got[0].Provenance)
	assert.Empty(t, p.TakeMeasured())

	last, ok := p.LatestMeasured()
	require.True(t, ok)
	assert.Equal(t, 71.0, last.BPM)

	// The next poll resumes after the newest sample and skips duplicates.
	later := now.Add(10 * time.Minute)
	p.now = func() time.Time { return later }
	c.hr = append(c.hr, model.HeartRateSample{Timestamp: now.Add(5 * time.Minute), BPM: 75})
	require.NoError(t, p.Poll(context.Background()))

	got = p.TakeMeasured()
	require.Len(t, got, 1)
	assert.Equal(t, 75.0, got[0].BPM)
	assert.True(t, c.froms[1].After(now.Add(-20*time.Minute)))
}

func TestPollerSkipsFreshBaseline(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.Local)
	c := &fakeClient{daily: model.DailyBaseline{Readiness: 80, FetchedAt: now}}
	p := newTestPoller(c, now)

	require.NoError(t, p.Poll(context.Background()))
	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 1, c.dailyN)

	p.now = func() time.Time { return now.Add(dailyRefresh) }
	require.NoError(t, p.Poll(context.Background()))
	assert.Equal(t, 2, c.dailyN)
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.Local)
	c := &fakeClient{daily: model.DailyBaseline{Readiness: 80, FetchedAt: now}}
	p := newTestPoller(c, now)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Latest() != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
