package store

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/anthropic/lifeos/internal/model"
)

var day0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T, opts Options) (*Writer, *Reader) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	if opts.Retention == 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	w, err := Open(context.Background(), dbPath, opts)
	if err != nil {
		t.Fatal(err)
	}
	r, err := OpenReader(dbPath, 0)
	if err != nil {
		w.Close()
		t.Fatal(err)
	}
	t.Cleanup(func() {
		r.Close()
		w.Close()
	})
	return w, r
}

func snapshotAt(ts time.Time, effective float64) model.ResourceSnapshot {
	return model.ResourceSnapshot{
		Timestamp:     ts,
		Effective:     effective,
		Base:          effective,
		Efficiency:    1,
		ActivityState: model.StateActive,
		Status:        "good",
		Tier:          "good",
		EstimatedHR:   70,
		HREstimated:   true,
		Degraded:      model.HeartRateEstimated,
	}
}

func commit(t *testing.T, w *Writer, b TickBatch) {
	t.Helper()
	if err := w.CommitTick(context.Background(), b); err != nil {
		t.Fatalf("CommitTick(%s): %v", b.Snapshot.Timestamp, err)
	}
}

func TestOpenMigratesAndReopens(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	w, err := Open(ctx, dbPath, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v, err := currentVersion(ctx, w.db)
	if err != nil || v != schemaVersion {
		t.Fatalf("version = %d, %v; want %d", v, err, schemaVersion)
	}
	w.Close()

	w, err = Open(ctx, dbPath, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	w.Close()
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	w, err := Open(ctx, dbPath, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := setState(ctx, w.db, keySchemaVersion, "99"); err != nil {
		t.Fatal(err)
	}
	w.Close()

	_, err = Open(ctx, dbPath, Options{})
	if !errors.Is(err, ErrStructural) {
		t.Fatalf("Open on newer schema: err = %v, want ErrStructural", err)
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	garbage := make([]byte, 8192)
	rand.New(rand.NewSource(1)).Read(garbage)
	if err := os.WriteFile(dbPath, garbage, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(context.Background(), dbPath, Options{})
	if !errors.Is(err, ErrStructural) {
		t.Fatalf("Open on garbage: err = %v, want ErrStructural", err)
	}
}

// ---------------------------------------------------------------------------
// Tick commits
// ---------------------------------------------------------------------------

func TestCommitTickVisibleToReader(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	est := model.HeartRateSample{
		Timestamp: day0, BPM: 72, Provenance: model.Estimated,
		Features: &model.Features{APM: 40, PointerRate: 12, HoursAwake: 2},
	}
	meas := model.HeartRateSample{Timestamp: day0.Add(-time.Hour), BPM: 64, Provenance: model.Measured}
	commit(t, w, TickBatch{
		Snapshot:     snapshotAt(day0, 55),
		Activity:     []model.ActivitySample{{Start: day0.Add(-time.Minute), End: day0, APM: 40, KeyCount: 30, State: model.StateActive, IdleFor: 2 * time.Second}},
		HeartRate:    []model.HeartRateSample{est, meas},
		Coefficients: &model.Coefficients{Alpha: 0.11, Beta: 0.02, Gamma: 0.05, LastError: 1.5, Updates: 3},
		Offsets:      map[string]int64{"/spool/a.ndjson": 128},
		Process:      &model.ProcessInfo{PID: 42, Instance: "abc", Started: day0, Heartbeat: day0},
	})

	latest, err := r.Latest(ctx)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Effective != 55 || !latest.Timestamp.Equal(day0) || latest.Degraded != model.HeartRateEstimated {
		t.Errorf("Latest = %+v", latest)
	}

	snaps, err := r.Snapshots(ctx, day0.Add(-time.Hour), day0.Add(time.Hour), 0)
	if err != nil || len(snaps) != 1 || snaps[0].Status != "good" || !snaps[0].HREstimated {
		t.Fatalf("Snapshots = %+v, %v", snaps, err)
	}

	act, err := r.Activity(ctx, day0.Add(-time.Hour), day0.Add(time.Second))
	if err != nil || len(act) != 1 || act[0].IdleFor != 2*time.Second {
		t.Fatalf("Activity = %+v, %v", act, err)
	}

	hr, err := r.HeartRate(ctx, day0.Add(-2*time.Hour), day0.Add(time.Hour), "")
	if err != nil || len(hr) != 2 {
		t.Fatalf("HeartRate = %+v, %v", hr, err)
	}
	if hr[0].Provenance != model.Measured || hr[0].Features != nil {
		t.Errorf("measured sample = %+v", hr[0])
	}
	if hr[1].Provenance != model.Estimated || hr[1].Features == nil || hr[1].Features.APM != 40 {
		t.Errorf("estimated sample = %+v", hr[1])
	}

	c, err := r.Coefficients(ctx)
	if err != nil || c.Alpha != 0.11 || c.Updates != 3 {
		t.Errorf("Coefficients = %+v, %v", c, err)
	}
	offs, err := r.Offsets(ctx)
	if err != nil || offs["/spool/a.ndjson"] != 128 {
		t.Errorf("Offsets = %v, %v", offs, err)
	}
	p, err := r.Process(ctx)
	if err != nil || p.PID != 42 || p.Instance != "abc" {
		t.Errorf("Process = %+v, %v", p, err)
	}
}

func TestCommitTickRejectsNonMonotonic(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	commit(t, w, TickBatch{Snapshot: snapshotAt(day0, 50)})
	for _, ts := range []time.Time{day0, day0.Add(-time.Second)} {
		err := w.CommitTick(ctx, TickBatch{Snapshot: snapshotAt(ts, 60)})
		if !errors.Is(err, ErrNonMonotonic) {
			t.Errorf("CommitTick(%s): err = %v, want ErrNonMonotonic", ts, err)
		}
	}
	latest, _ := r.Latest(ctx)
	if latest.Effective != 50 {
		t.Errorf("rejected tick leaked: %+v", latest)
	}
}

func TestCommitTickIsAtomic(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	err := w.CommitTick(ctx, TickBatch{
		Snapshot:  snapshotAt(day0, 50),
		Activity:  []model.ActivitySample{{Start: day0.Add(-time.Minute), End: day0, State: model.StateIdle}},
		HeartRate: []model.HeartRateSample{{Timestamp: day0, BPM: 70, Provenance: "bogus"}},
	})
	if err == nil {
		t.Fatal("expected the CHECK constraint to fail the tick")
	}

	if _, err := r.Latest(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("Latest after failed tick: %v", err)
	}
	snaps, _ := r.Snapshots(ctx, day0.Add(-time.Hour), day0.Add(time.Hour), 0)
	act, _ := r.Activity(ctx, day0.Add(-time.Hour), day0.Add(time.Hour))
	if len(snaps) != 0 || len(act) != 0 {
		t.Fatalf("partial tick visible: %d snapshots, %d activity rows", len(snaps), len(act))
	}

	// The same tick succeeds once the bad sample is dropped.
	commit(t, w, TickBatch{Snapshot: snapshotAt(day0, 50)})
}

func TestHeartRateIsAppendOnly(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	s := model.HeartRateSample{Timestamp: day0, BPM: 70, Provenance: model.Estimated, Features: &model.Features{}}
	commit(t, w, TickBatch{Snapshot: snapshotAt(day0, 50), HeartRate: []model.HeartRateSample{s}})

	if _, err := w.db.Exec(`UPDATE rolling_heartrate SET provenance = 'measured'`); err == nil {
		t.Fatal("relabelling provenance must fail")
	}
	// A duplicate is ignored, not overwritten.
	dup := s
	dup.BPM = 99
	commit(t, w, TickBatch{Snapshot: snapshotAt(day0.Add(time.Second), 50), HeartRate: []model.HeartRateSample{dup}})

	hr, _ := r.HeartRate(ctx, day0, day0.Add(time.Minute), model.Estimated)
	if len(hr) != 1 || hr[0].BPM != 70 {
		t.Fatalf("HeartRate = %+v", hr)
	}
}

func TestCommitTickWriteTimeout(t *testing.T) {
	w, r := setupTestStore(t, Options{WriteTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	// Hold the only connection.
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = w.CommitTick(ctx, TickBatch{Snapshot: snapshotAt(day0, 50)})
	_ = tx.Rollback()

	if !errors.Is(err, ErrWriteTimeout) {
		t.Fatalf("err = %v, want ErrWriteTimeout", err)
	}
	if _, err := r.Latest(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("timed-out tick visible: %v", err)
	}
	commit(t, w, TickBatch{Snapshot: snapshotAt(day0, 50)})
}

func TestReaderIsolation(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()
	commit(t, w, TickBatch{Snapshot: snapshotAt(day0, 50)})

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.Exec(`UPDATE live_snapshot SET body = '{"effective": 99}'`); err != nil {
		t.Fatal(err)
	}
	latest, err := r.Latest(ctx)
	_ = tx.Rollback()

	if err != nil || latest.Effective != 50 {
		t.Fatalf("reader saw uncommitted write: %+v, %v", latest, err)
	}
}

func TestReaderCannotWrite(t *testing.T) {
	_, r := setupTestStore(t, Options{})
	if _, err := r.db.Exec(`DELETE FROM live_snapshot`); err == nil {
		t.Fatal("read-only handle accepted a write")
	}
}

// ---------------------------------------------------------------------------
// Baselines
// ---------------------------------------------------------------------------

func TestUpsertBaselineReplacesWholeRecord(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	a := model.DailyBaseline{
		Date: "2026-05-01", Readiness: 81, SleepScore: 77, HRVBalance: 64, RestingHR: 52,
		PrimarySleep: 7 * time.Hour, WakeTime: time.Unix(1777600000, 0), FetchedAt: time.Unix(1777610000, 0),
	}
	b := model.DailyBaseline{
		Date: "2026-05-01", Readiness: 58, SleepScore: 49, RestingHR: 57,
		FetchedAt: time.Unix(1777620000, 0),
	}

	if err := w.UpsertBaseline(ctx, a, "2026-05-01"); err != nil {
		t.Fatal(err)
	}
	if err := w.UpsertBaseline(ctx, b, "2026-05-01"); err != nil {
		t.Fatal(err)
	}
	got, err := r.Baseline(ctx, "2026-05-01")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, b) {
		t.Fatalf("stored baseline = %+v\nwant %+v", got, b)
	}
}

func TestUpsertBaselineSealsPastDays(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	past := model.DailyBaseline{Date: "2026-04-30", Readiness: 70, SleepScore: 70, RestingHR: 55}
	if err := w.UpsertBaseline(ctx, past, "2026-05-01"); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	past.Readiness = 10
	if err := w.UpsertBaseline(ctx, past, "2026-05-01"); !errors.Is(err, ErrBaselineSealed) {
		t.Fatalf("err = %v, want ErrBaselineSealed", err)
	}
	got, _ := r.LatestBaseline(ctx)
	if got.Readiness != 70 {
		t.Fatalf("sealed baseline changed: %+v", got)
	}
}

func TestCommitTickCarriesBaseline(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	b := model.DailyBaseline{Date: "2026-05-01", Readiness: 81, SleepScore: 77, RestingHR: 52, FetchedAt: day0}
	commit(t, w, TickBatch{Snapshot: snapshotAt(day0, 70), Baseline: &b, Today: "2026-05-01"})

	got, err := r.Baseline(ctx, "2026-05-01")
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}
	if got.Readiness != 81 {
		t.Fatalf("readiness = %d, want 81", got.Readiness)
	}

	// A sealed past day does not fail the tick.
	old := model.DailyBaseline{Date: "2026-04-30", Readiness: 60}
	if err := w.UpsertBaseline(ctx, old, "2026-05-01"); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	old.Readiness = 20
	commit(t, w, TickBatch{Snapshot: snapshotAt(day0.Add(time.Second), 70), Baseline: &old, Today: "2026-05-01"})

	kept, err := r.Baseline(ctx, "2026-04-30")
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}
	if kept.Readiness != 60 {
		t.Fatalf("sealed baseline changed to %d", kept.Readiness)
	}
	latest, err := r.Latest(ctx)
	if err != nil || !latest.Timestamp.Equal(day0.Add(time.Second)) {
		t.Fatalf("tick not committed: %+v, %v", latest, err)
	}
}

// ---------------------------------------------------------------------------
// Aggregation and purge
// ---------------------------------------------------------------------------

func TestAggregateSummaries(t *testing.T) {
	w, r := setupTestStore(t, Options{TickInterval: time.Minute})
	ctx := context.Background()

	for i, eff := range []float64{40, 60, 80, 20} {
		ts := day0.Add(time.Duration(i) * time.Minute)
		snap := snapshotAt(ts, eff)
		snap.Debt = float64(i)
		snap.CognitiveLoad = 50
		if i == 3 {
			snap.ActivityState = model.StateIdle
		}
		commit(t, w, TickBatch{
			Snapshot: snap,
			Activity: []model.ActivitySample{{End: ts, APM: 10 * float64(i+1), State: model.StateActive}},
			HeartRate: []model.HeartRateSample{
				{Timestamp: ts, BPM: 90, Provenance: model.Estimated, Features: &model.Features{}},
				{Timestamp: ts, BPM: 60, Provenance: model.Measured},
			},
		})
	}

	days, err := w.Aggregate(ctx, "2026-05-02")
	if err != nil {
		t.Fatal(err)
	}
	if len(days) != 1 || days[0] != "2026-05-01" {
		t.Fatalf("days = %v", days)
	}

	sums, err := r.DailySummaries(ctx, "2026-05-01", "2026-05-01")
	if err != nil || len(sums) != 1 {
		t.Fatalf("DailySummaries = %+v, %v", sums, err)
	}
	want := model.DailySummary{
		Date: "2026-05-01", Ticks: 4, MeanEffective: 50, MinEffective: 20, MaxEffective: 80,
		MeanLoad: 50, ActiveMinutes: 3, MeanAPM: 25, MeanHR: 60, MeasuredHR: 4, EstimatedHR: 4, FinalDebt: 3,
	}
	if sums[0] != want {
		t.Errorf("summary = %+v\nwant %+v", sums[0], want)
	}

	weeks, err := r.WeeklySummaries(ctx, 4)
	if err != nil || len(weeks) != 1 || weeks[0].Week != "2026-W18" || weeks[0].Days != 1 {
		t.Fatalf("WeeklySummaries = %+v, %v", weeks, err)
	}

	mark, _ := r.Watermark(ctx)
	if mark != "2026-05-01" {
		t.Errorf("watermark = %q", mark)
	}
	// Nothing new: a second run folds nothing.
	if days, _ := w.Aggregate(ctx, "2026-05-02"); len(days) != 0 {
		t.Errorf("second Aggregate folded %v", days)
	}
}

func TestPurgeNeverCrossesWatermark(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()
	rng := rand.New(rand.NewSource(3))

	const days, perDay = 10, 5
	for d := 0; d < days; d++ {
		for i := 0; i < perDay; i++ {
			ts := day0.AddDate(0, 0, d).Add(time.Duration(i) * time.Minute)
			commit(t, w, TickBatch{
				Snapshot: snapshotAt(ts, 50),
				Activity: []model.ActivitySample{{End: ts, State: model.StateIdle}},
			})
		}
	}

	dayName := func(d int) string { return day0.AddDate(0, 0, d).Format(model.DateLayout) }
	check := func(step int) {
		mark, err := r.Watermark(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for d := 0; d < days; d++ {
			name := dayName(d)
			if mark != "" && name <= mark {
				continue
			}
			var n int
			if err := r.db.QueryRow(`SELECT COUNT(*) FROM rolling_snapshots WHERE day = ?`, name).Scan(&n); err != nil {
				t.Fatal(err)
			}
			if n != perDay {
				t.Fatalf("step %d: day %s past watermark %q has %d rows, want %d", step, name, mark, n, perDay)
			}
		}
	}

	for step := 0; step < 60; step++ {
		if rng.Intn(2) == 0 {
			if _, err := w.Aggregate(ctx, dayName(rng.Intn(days+1))); err != nil {
				t.Fatal(err)
			}
		} else {
			cutoff := day0.AddDate(0, 0, rng.Intn(days+2))
			if _, err := w.Purge(ctx, cutoff); err != nil {
				t.Fatal(err)
			}
		}
		check(step)
	}

	// Every aggregated day has a summary even after its rows are gone.
	mark, _ := r.Watermark(ctx)
	sums, _ := r.DailySummaries(ctx, dayName(0), mark)
	for _, s := range sums {
		if s.Ticks != perDay {
			t.Errorf("summary %s has %d ticks, want %d", s.Date, s.Ticks, perDay)
		}
	}
}

func TestLateMeasurementReopensAggregatedDay(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	for d := 0; d < 3; d++ {
		ts := day0.AddDate(0, 0, d)
		commit(t, w, TickBatch{Snapshot: snapshotAt(ts, 50)})
	}
	if _, err := w.Aggregate(ctx, "2026-05-03"); err != nil {
		t.Fatal(err)
	}
	if mark, _ := r.Watermark(ctx); mark != "2026-05-02" {
		t.Fatalf("watermark = %q", mark)
	}

	late := model.HeartRateSample{Timestamp: day0.AddDate(0, 0, 1).Add(time.Hour), BPM: 61, Provenance: model.Measured}
	commit(t, w, TickBatch{Snapshot: snapshotAt(day0.AddDate(0, 0, 2).Add(time.Hour), 50), HeartRate: []model.HeartRateSample{late}})

	if mark, _ := r.Watermark(ctx); mark != "2026-05-01" {
		t.Fatalf("watermark after late sample = %q, want 2026-05-01", mark)
	}
	if _, err := w.Purge(ctx, day0.AddDate(0, 0, 30)); err != nil {
		t.Fatal(err)
	}
	hr, _ := r.HeartRate(ctx, day0, day0.AddDate(0, 0, 3), model.Measured)
	if len(hr) != 1 {
		t.Fatalf("late sample purged before aggregation: %+v", hr)
	}

	if _, err := w.Aggregate(ctx, "2026-05-03"); err != nil {
		t.Fatal(err)
	}
	sums, _ := r.DailySummaries(ctx, "2026-05-02", "2026-05-02")
	if len(sums) != 1 || sums[0].MeasuredHR != 1 || sums[0].MeanHR != 61 {
		t.Fatalf("refolded summary = %+v", sums)
	}
}

func TestReplayedActivityReopensAggregatedDay(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	commit(t, w, TickBatch{
		Snapshot: snapshotAt(day0, 50),
		Activity: []model.ActivitySample{{End: day0, APM: 10, State: model.StateActive}},
	})
	for d := 1; d < 3; d++ {
		commit(t, w, TickBatch{Snapshot: snapshotAt(day0.AddDate(0, 0, d), 50)})
	}
	if _, err := w.Aggregate(ctx, "2026-05-03"); err != nil {
		t.Fatal(err)
	}
	if mark, _ := r.Watermark(ctx); mark != "2026-05-02" {
		t.Fatalf("watermark = %q", mark)
	}

	// A sample from day one replayed in a later tick.
	late := model.ActivitySample{End: day0.Add(time.Minute), APM: 90, State: model.StateActive}
	commit(t, w, TickBatch{
		Snapshot: snapshotAt(day0.AddDate(0, 0, 2).Add(time.Hour), 50),
		Activity: []model.ActivitySample{late},
	})
	if mark, _ := r.Watermark(ctx); mark != "2026-04-30" {
		t.Fatalf("watermark after replayed sample = %q, want 2026-04-30", mark)
	}

	if _, err := w.Purge(ctx, day0.AddDate(0, 0, 30)); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM rolling_activity WHERE day = ?`, "2026-05-01").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("day one has %d activity rows after purge, want 2", n)
	}

	if _, err := w.Aggregate(ctx, "2026-05-03"); err != nil {
		t.Fatal(err)
	}
	sums, _ := r.DailySummaries(ctx, "2026-05-01", "2026-05-01")
	if len(sums) != 1 || sums[0].MeanAPM != 50 {
		t.Fatalf("refolded summary = %+v", sums)
	}
}

func TestNearestEstimated(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	var hr []model.HeartRateSample
	for i := 0; i < 5; i++ {
		hr = append(hr, model.HeartRateSample{
			Timestamp: day0.Add(time.Duration(i) * time.Minute), BPM: 70 + float64(i),
			Provenance: model.Estimated, Features: &model.Features{APM: float64(i)},
		})
	}
	commit(t, w, TickBatch{Snapshot: snapshotAt(day0.Add(10*time.Minute), 50), HeartRate: hr})

	got, err := r.NearestEstimated(ctx, day0.Add(2*time.Minute+20*time.Second), 2*time.Minute)
	if err != nil || got.BPM != 72 || got.Features.APM != 2 {
		t.Fatalf("NearestEstimated = %+v, %v", got, err)
	}
	if _, err := r.NearestEstimated(ctx, day0.Add(time.Hour), 2*time.Minute); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestHourlyAPMProfile(t *testing.T) {
	w, r := setupTestStore(t, Options{})
	ctx := context.Background()

	var act []model.ActivitySample
	for i := 0; i < 3; i++ {
		act = append(act, model.ActivitySample{End: day0.Add(time.Duration(i) * time.Minute), APM: 30 * float64(i+1), State: model.StateActive})
	}
	act = append(act, model.ActivitySample{End: day0.Add(4 * time.Minute), APM: 500, State: model.StateIdle})
	commit(t, w, TickBatch{Snapshot: snapshotAt(day0.Add(5*time.Minute), 50), Activity: act})

	prof, err := r.HourlyAPMProfile(ctx, day0.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	want := model.HourlyActivity{Hour: day0.Local().Hour(), MeanAPM: 60, Samples: 3}
	if len(prof) != 1 || prof[0] != want {
		t.Fatalf("profile = %+v, want %+v", prof, want)
	}
}
