package ipc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthropic/lifeos/internal/engine"
	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/internal/store"
)

type fakeDaemon struct {
	mu       sync.Mutex
	events   []string
	stopped  bool
	refresh  int
	scenario engine.Scenario
}

func (f *fakeDaemon) Status(context.Context) StatusData {
	return StatusData{State: "RUNNING", Ticks: 42, DayMode: "mid"}
}

func (f *fakeDaemon) Forecast(sc engine.Scenario) ([]engine.Point, error) {
	f.mu.Lock()
	f.scenario = sc
	f.mu.Unlock()
	return []engine.Point{{Effective: 70, Status: "good"}, {Effective: 65, Status: "good"}}, nil
}

func (f *fakeDaemon) RecordEvent(kind string, magnitude float64) error {
	if kind == "bogus" {
		return errors.New("unknown event kind")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, kind)
	return nil
}

func (f *fakeDaemon) RefreshBiometrics() {
	f.mu.Lock()
	f.refresh++
	f.mu.Unlock()
}

func (f *fakeDaemon) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

type fakeStore struct {
	latest    *model.ResourceSnapshot
	snapshots []model.ResourceSnapshot
	hrFrom    time.Time
	hrProv    model.Provenance
}

func (f *fakeStore) Latest(context.Context) (model.ResourceSnapshot, error) {
	if f.latest == nil {
		return model.ResourceSnapshot{}, store.ErrNotFound
	}
	return *f.latest, nil
}

func (f *fakeStore) Snapshots(_ context.Context, from, to time.Time, limit int) ([]model.ResourceSnapshot, error) {
	if limit < len(f.snapshots) {
		return f.snapshots[:limit], nil
	}
	return f.snapshots, nil
}

func (f *fakeStore) HeartRate(_ context.Context, from, to time.Time, prov model.Provenance) ([]model.HeartRateSample, error) {
	f.hrFrom, f.hrProv = from, prov
	return []model.HeartRateSample{{BPM: 72, Provenance: model.Measured}}, nil
}

func (f *fakeStore) DailySummaries(context.Context, string, string) ([]model.DailySummary, error) {
	return []model.DailySummary{{Date: "2026-10-16", Ticks: 100}}, nil
}

func (f *fakeStore) WeeklySummaries(_ context.Context, n int) ([]model.WeeklySummary, error) {
	return []model.WeeklySummary{{Week: "2026-W42", Days: 5}}, nil
}

func startServer(t *testing.T, d DaemonQuerier, st StoreQuerier) (*Client, *Server) {
	t.Helper()
	// Unix socket paths are length-limited; keep the directory short.
	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s.sock")

	srv := NewServer(d, st, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Listen(sock, ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
		require.NoError(t, srv.Stop())
	})

	c := NewClient(sock)
	require.Eventually(t, func() bool { return c.Ping() == nil }, 2*time.Second, 10*time.Millisecond)
	return c, srv
}

func TestStatusRoundTrip(t *testing.T) {
	c, _ := startServer(t, &fakeDaemon{}, &fakeStore{})

	st, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", st.State)
	assert.Equal(t, int64(42), st.Ticks)
	assert.Equal(t, "mid", st.DayMode)
}

func TestSnapshot(t *testing.T) {
	fs := &fakeStore{}
	c, _ := startServer(t, &fakeDaemon{}, fs)

	_, err := c.Snapshot()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshot yet")

	fs.latest = &model.ResourceSnapshot{Effective: 61.5, Status: "good"}
	snap, err := c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 61.5, snap.Effective)
}

func TestHistoryScopes(t *testing.T) {
	fs := &fakeStore{snapshots: make([]model.ResourceSnapshot, 5)}
	c, _ := startServer(t, &fakeDaemon{}, fs)

	h, err := c.History(time.Hour, 3)
	require.NoError(t, err)
	assert.Len(t, h.Snapshots, 3)

	h, err = c.DailyHistory(7)
	require.NoError(t, err)
	require.Len(t, h.Daily, 1)
	assert.Equal(t, "2026-10-16", h.Daily[0].Date)

	h, err = c.WeeklyHistory(4)
	require.NoError(t, err)
	require.Len(t, h.Weekly, 1)
}

func TestHeartRateArgs(t *testing.T) {
	fs := &fakeStore{}
	c, srv := startServer(t, &fakeDaemon{}, fs)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	srv.now = func() time.Time { return now }

	hr, err := c.HeartRate(30*time.Minute, model.Measured)
	require.NoError(t, err)
	require.Len(t, hr.Samples, 1)
	assert.Equal(t, model.Measured, fs.hrProv)
	assert.True(t, fs.hrFrom.Equal(now.Add(-30*time.Minute)))

	_, err = c.HeartRate(time.Hour, "guessed")
	assert.Error(t, err)
}

func TestForecastAndEvents(t *testing.T) {
	d := &fakeDaemon{}
	c, _ := startServer(t, d, &fakeStore{})

	f, err := c.Forecast("rest")
	require.NoError(t, err)
	assert.Equal(t, "rest", f.Scenario)
	assert.Len(t, f.Points, 2)
	assert.Equal(t, engine.Rest, d.scenario)

	_, err = c.Forecast("sprint")
	assert.Error(t, err)

	require.NoError(t, c.RecordEvent("key", 1))
	assert.Error(t, c.RecordEvent("bogus", 1))
	assert.Equal(t, []string{"key"}, d.events)

	require.NoError(t, c.RefreshBiometrics())
	assert.Equal(t, 1, d.refresh)
}

func TestStopAndUnknown(t *testing.T) {
	d := &fakeDaemon{}
	c, _ := startServer(t, d, &fakeStore{})

	_, err := c.send(Request{Command: "reboot"})
	assert.Error(t, err)

	require.NoError(t, c.RequestStop())
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.True(t, d.stopped)
}

func TestDaemonNotReady(t *testing.T) {
	c, srv := startServer(t, nil, nil)
	_, err := c.Status()
	require.Error(t, err)

	srv.SetDaemon(&fakeDaemon{})
	_, err = c.Status()
	assert.NoError(t, err)
}
