package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/ipc"
	"github.com/anthropic/lifeos/internal/lock"
	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/internal/store"
	"github.com/anthropic/lifeos/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	// Unix socket paths are length-limited; keep the directory short.
	dir, err := os.MkdirTemp("", "lifeosd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	cfg := config.Default()
	cfg.DataDir = dir
	cfg.DBPath = filepath.Join(dir, "lifeos.db")
	cfg.SocketPath = filepath.Join(dir, "d.sock")
	cfg.LockPath = filepath.Join(dir, "lifeosd.lock")
	cfg.Telemetry.SpoolDir = filepath.Join(dir, "spool")
	cfg.Daemon.TickInterval = 100 * time.Millisecond
	cfg.Daemon.WriteTimeout = 80 * time.Millisecond
	cfg.Daemon.HeartbeatInterval = 50 * time.Millisecond
	cfg.Daemon.MaintenanceInterval = time.Hour
	return cfg
}

// fakeClock hands out a settable time.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type stubClient struct {
	measured []model.HeartRateSample
}

func (s *stubClient) FetchDaily(_ context.Context, date string) (model.DailyBaseline, error) {
	return model.DailyBaseline{Date: date, Readiness: 80, SleepScore: 80, RestingHR: 55, FetchedAt: time.Now()}, nil
}

func (s *stubClient) FetchRecentHeartRate(context.Context, time.Time, time.Time) ([]model.HeartRateSample, error) {
	return s.measured, nil
}

func openTestDaemon(t *testing.T, cfg *config.Config, opts ...Option) *Daemon {
	t.Helper()
	d := New(cfg, nil, opts...)
	require.NoError(t, d.open(context.Background()))
	t.Cleanup(func() { d.closeResources(context.Background()) })
	return d
}

func TestDegradedRecoversWithoutLosingSample(t *testing.T) {
	cfg := testConfig(t)
	clock := &fakeClock{t: time.Date(2026, 5, 4, 12, 0, 0, 0, time.Local)}
	d := openTestDaemon(t, cfg, WithClock(clock.Now))
	ctx := context.Background()
	first := clock.Now()

	for i := 0; i < 30; i++ {
		require.NoError(t, d.agg.RecordEventAt(telemetry.KindKey, 1, first))
	}

	commit := d.commit
	d.commit = func(context.Context, store.TickBatch) error { return errors.New("disk full") }
	require.Error(t, d.tick(ctx))
	assert.Equal(t, Degraded, d.State())
	assert.Equal(t, 1, d.Status(ctx).ConsecutiveFailures)

	d.commit = commit
	clock.Advance(time.Second)
	require.NoError(t, d.tick(ctx))
	assert.Equal(t, Running, d.State())
	assert.Zero(t, d.Status(ctx).ConsecutiveFailures)

	acts, err := d.reader.Activity(ctx, first.Add(-time.Minute), first.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, acts, 2, "the failed tick's sample must be written by the next one")
	assert.True(t, acts[0].End.Equal(first))
	assert.Equal(t, 30, acts[0].KeyCount)

	snap, err := d.reader.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Timestamp.Equal(first.Add(time.Second)))
	assert.True(t, snap.Degraded.Has(model.BaselineMissing))
}

func TestTickTimestampsStayMonotonic(t *testing.T) {
	cfg := testConfig(t)
	clock := &fakeClock{t: time.Date(2026, 5, 4, 12, 0, 0, 0, time.Local)}
	d := openTestDaemon(t, cfg, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, d.tick(ctx))
	clock.Advance(-time.Minute)
	require.NoError(t, d.tick(ctx))

	snaps, err := d.reader.Snapshots(ctx, clock.Now().Add(-time.Hour), clock.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
}

func TestFinalFlushRunsInStopping(t *testing.T) {
	for _, fail := range []bool{false, true} {
		cfg := testConfig(t)
		d := openTestDaemon(t, cfg)

		var seen []State
		commit := d.commit
		d.commit = func(ctx context.Context, b store.TickBatch) error {
			seen = append(seen, d.State())
			if fail {
				return errors.New("disk full")
			}
			return commit(ctx, b)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, d.run(ctx))

		require.NotEmpty(t, seen)
		assert.Equal(t, Stopping, seen[len(seen)-1], "fail=%v", fail)
		assert.Equal(t, Stopping, d.State(), "fail=%v", fail)
	}
}

func TestWorkFatigueAccruesWhileWorking(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.WorkDecay = []config.WorkDecayStep{{After: time.Hour, Mult: 2}}
	clock := &fakeClock{t: time.Date(2026, 5, 4, 12, 0, 0, 0, time.Local)}
	d := openTestDaemon(t, cfg, WithClock(clock.Now))
	ctx := context.Background()

	typeKeys := func() {
		for i := 0; i < 30; i++ {
			require.NoError(t, d.agg.RecordEventAt(telemetry.KindKey, 1, clock.Now()))
		}
	}

	typeKeys()
	require.NoError(t, d.tick(ctx))
	require.False(t, d.workStart.IsZero())
	assert.Zero(t, d.fatigue, "the first hour of work decays at the normal rate")

	clock.Advance(2 * time.Hour)
	typeKeys()
	require.NoError(t, d.tick(ctx))
	assert.Equal(t, 2*time.Hour, d.fatigue)
	assert.Equal(t, 2*time.Hour, d.input.WorkFatigue)

	// A rest ends the stretch but keeps what it cost.
	clock.Advance(10 * time.Minute)
	require.NoError(t, d.tick(ctx))
	assert.True(t, d.workStart.IsZero())
	assert.Equal(t, 2*time.Hour, d.fatigue)

	clock.Advance(24 * time.Hour)
	require.NoError(t, d.tick(ctx))
	assert.Zero(t, d.fatigue, "fatigue resets with the day")
}

func TestCalibrationUsesPersistedEstimate(t *testing.T) {
	cfg := testConfig(t)
	t0 := time.Date(2026, 5, 4, 12, 0, 0, 0, time.Local)
	clock := &fakeClock{t: t0}
	client := &stubClient{measured: []model.HeartRateSample{
		{Timestamp: t0.Add(30 * time.Second), BPM: 95, Provenance: model.Measured},
	}}
	d := openTestDaemon(t, cfg, WithClock(clock.Now), WithBiometricClient(client))
	ctx := context.Background()
	before := d.est.Coefficients()

	// The first tick persists an estimate at t0.
	require.NoError(t, d.tick(ctx))
	require.NoError(t, d.poller.Poll(ctx))

	clock.Advance(time.Minute)
	require.NoError(t, d.tick(ctx))

	after := d.est.Coefficients()
	assert.Equal(t, before.Updates+1, after.Updates)
	assert.Greater(t, after.LastError, 0.0)
	assert.GreaterOrEqual(t, after.Gamma, before.Gamma, "a measured rate above the estimate pushes coefficients up")

	stored, err := d.reader.Coefficients(ctx)
	require.NoError(t, err)
	assert.Equal(t, after.Gamma, stored.Gamma)

	hr, err := d.reader.HeartRate(ctx, t0.Add(-time.Minute), t0.Add(time.Hour), model.Measured)
	require.NoError(t, err)
	require.Len(t, hr, 1)
	assert.Equal(t, 95.0, hr[0].BPM)

	b, err := d.reader.LatestBaseline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, b.Readiness)
}

func TestElapsedWake(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg, nil)
	now := time.Date(2026, 5, 4, 10, 30, 0, 0, time.Local)
	today := "2026-05-04"

	woke := model.DailyBaseline{Date: today, WakeTime: now.Add(-2 * time.Hour)}
	assert.Equal(t, 2*time.Hour, d.elapsedWake(woke, today, now))

	// Yesterday's wake time does not carry over.
	stale := model.DailyBaseline{Date: "2026-05-03", WakeTime: now.Add(-27 * time.Hour)}
	assert.Equal(t, 3*time.Hour+30*time.Minute, d.elapsedWake(stale, today, now))

	early := time.Date(2026, 5, 4, 6, 0, 0, 0, time.Local)
	assert.Zero(t, d.elapsedWake(model.DailyBaseline{Date: today}, today, early))
}

func TestSecondInstanceFailsFast(t *testing.T) {
	cfg := testConfig(t)
	openTestDaemon(t, cfg)

	err := New(cfg, nil).Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrHeld)
}

func TestStartServeStop(t *testing.T) {
	cfg := testConfig(t)
	srv := ipc.NewServer(nil, nil, nil)
	d := New(cfg, srv)
	srv.SetDaemon(d)

	done := make(chan error, 1)
	go func() { done <- d.Start() }()

	c := ipc.NewClient(cfg.SocketPath)
	require.Eventually(t, func() bool {
		st, err := c.Status()
		return err == nil && st.State == string(Running) && st.Ticks >= 2
	}, 5*time.Second, 20*time.Millisecond)

	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snap.Effective, cfg.Engine.Floor)

	require.NoError(t, c.RecordEvent("key", 1))
	assert.Error(t, c.RecordEvent("sneeze", 1))

	f, err := c.Forecast("rest")
	require.NoError(t, err)
	assert.NotEmpty(t, f.Points)

	info, err := lock.Read(cfg.LockPath)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), info.PID)

	require.NoError(t, c.RequestStop())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Equal(t, Stopped, d.State())
	assert.False(t, d.Running())

	_, err = os.Stat(cfg.LockPath)
	assert.True(t, os.IsNotExist(err), "lock file must be removed on shutdown")
	_, err = os.Stat(cfg.SocketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestSignalCancelsWithCause(t *testing.T) {
	ctx, stop := signalContext(context.Background())
	defer stop(context.Canceled)

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
	assert.ErrorIs(t, context.Cause(ctx), ErrSignal)
}
