package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/pkg/logger"
)

// TickBatch is everything one tick persists. It commits as a unit.
type TickBatch struct {
	Snapshot model.ResourceSnapshot
	Activity []model.ActivitySample
	// HeartRate may hold measured samples from the last fetch and the
	// periodic estimated sample. Duplicates of stored samples are ignored.
	HeartRate    []model.HeartRateSample
	Coefficients *model.Coefficients
	Offsets      map[string]int64
	Process      *model.ProcessInfo
	// Baseline, when set, is upserted under the same rules as
	// UpsertBaseline relative to Today. A sealed past day is skipped.
	Baseline *model.DailyBaseline
	Today    string
}

// CommitTick writes b in one immediate transaction bounded by the write
// timeout. Exceeding the timeout returns an error wrapping ErrWriteTimeout;
// a snapshot that does not advance the timestamp wraps ErrNonMonotonic.
// Either way nothing from b is visible to readers.
func (w *Writer) CommitTick(ctx context.Context, b TickBatch) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.WriteTimeout)
	defer cancel()

	err := w.commitTick(ctx, b)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrWriteTimeout, err)
	}
	return err
}

func (w *Writer) commitTick(ctx context.Context, b TickBatch) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tick: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := b.Snapshot
	ts := nanos(snap.Timestamp)

	var last int64
	err = tx.QueryRowContext(ctx, `SELECT ts FROM live_snapshot WHERE id = 1`).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read last snapshot: %w", err)
	}
	if ts <= last {
		return fmt.Errorf("%w: %s is not after %s", ErrNonMonotonic,
			snap.Timestamp.Format(time.RFC3339Nano), fromNanos(last).Format(time.RFC3339Nano))
	}

	if err := insertSnapshot(ctx, tx, snap, w.day(snap.Timestamp)); err != nil {
		return err
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO live_snapshot (id, ts, body) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET ts = excluded.ts, body = excluded.body`,
		ts, string(body),
	); err != nil {
		return fmt.Errorf("write live snapshot: %w", err)
	}

	earliest := ""
	for _, s := range b.Activity {
		day := w.day(s.End)
		if err := insertActivity(ctx, tx, s, day); err != nil {
			return err
		}
		if earliest == "" || day < earliest {
			earliest = day
		}
	}
	if err := w.reopen(ctx, tx, earliest, "activity"); err != nil {
		return err
	}

	if err := w.insertHeartRate(ctx, tx, b.HeartRate, snap.Timestamp); err != nil {
		return err
	}

	if c := b.Coefficients; c != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO live_coefficients (id, alpha, beta, gamma, last_error, updates, updated_at)
			 VALUES (1, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET alpha = excluded.alpha, beta = excluded.beta,
			   gamma = excluded.gamma, last_error = excluded.last_error,
			   updates = excluded.updates, updated_at = excluded.updated_at`,
			c.Alpha, c.Beta, c.Gamma, c.LastError, c.Updates, nanos(c.UpdatedAt),
		); err != nil {
			return fmt.Errorf("write coefficients: %w", err)
		}
	}

	for path, off := range b.Offsets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO live_offsets (path, byte_offset) VALUES (?, ?)
			 ON CONFLICT(path) DO UPDATE SET byte_offset = excluded.byte_offset`,
			path, off,
		); err != nil {
			return fmt.Errorf("write offset for %s: %w", path, err)
		}
	}

	if bl := b.Baseline; bl != nil {
		err := upsertBaseline(ctx, tx, *bl, b.Today)
		if errors.Is(err, ErrBaselineSealed) {
			w.log.Debug(ctx, "skipping sealed baseline", logger.String("date", bl.Date))
		} else if err != nil {
			return err
		}
	}

	if p := b.Process; p != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO live_process (id, pid, instance, started, heartbeat) VALUES (1, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET pid = excluded.pid, instance = excluded.instance,
			   started = excluded.started, heartbeat = excluded.heartbeat`,
			p.PID, p.Instance, nanos(p.Started), nanos(p.Heartbeat),
		); err != nil {
			return fmt.Errorf("write process info: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tick: %w", err)
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, s model.ResourceSnapshot, day string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO rolling_snapshots (ts, day, effective, base, boost, debt, efficiency,
		   cognitive_load, activity_state, status, tier, heart_rate, hr_estimated, degraded,
		   break_at, exhaustion_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nanos(s.Timestamp), day, s.Effective, s.Base, s.Boost, s.Debt, s.Efficiency,
		s.CognitiveLoad, string(s.ActivityState), s.Status, s.Tier, s.EstimatedHR,
		boolInt(s.HREstimated), int64(s.Degraded), nanos(s.BreakAt), nanos(s.ExhaustionAt),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func insertActivity(ctx context.Context, tx *sql.Tx, s model.ActivitySample, day string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO rolling_activity (start_ts, end_ts, day, apm, key_count, click_count,
		   scroll_steps, backspace_count, pointer_distance, pointer_rate, idle_ms, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nanos(s.Start), nanos(s.End), day, s.APM, s.KeyCount, s.ClickCount,
		s.ScrollSteps, s.BackspaceCount, s.PointerDistance, s.PointerRate,
		s.IdleFor.Milliseconds(), string(s.State),
	)
	if err != nil {
		return fmt.Errorf("insert activity sample: %w", err)
	}
	return nil
}

// insertHeartRate appends samples, skipping any older than the rolling
// retention.
func (w *Writer) insertHeartRate(ctx context.Context, tx *sql.Tx, samples []model.HeartRateSample, now time.Time) error {
	if len(samples) == 0 {
		return nil
	}
	horizon := now.Add(-w.opts.Retention)
	earliest := ""

	for _, s := range samples {
		if s.Timestamp.Before(horizon) {
			continue
		}
		day := w.day(s.Timestamp)
		var apm, ptr, hours sql.NullFloat64
		if f := s.Features; f != nil {
			apm = sql.NullFloat64{Float64: f.APM, Valid: true}
			ptr = sql.NullFloat64{Float64: f.PointerRate, Valid: true}
			hours = sql.NullFloat64{Float64: f.HoursAwake, Valid: true}
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO rolling_heartrate (ts, day, bpm, provenance, apm, pointer_rate, hours_awake)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(ts, provenance) DO NOTHING`,
			nanos(s.Timestamp), day, s.BPM, string(s.Provenance), apm, ptr, hours,
		)
		if err != nil {
			return fmt.Errorf("insert heart rate: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 && (earliest == "" || day < earliest) {
			earliest = day
		}
	}
	return w.reopen(ctx, tx, earliest, "heart-rate")
}

// reopen pulls the aggregation watermark back when a row of kind lands in
// day or earlier, so the day is folded again before purge may touch it.
func (w *Writer) reopen(ctx context.Context, tx *sql.Tx, day, kind string) error {
	if day == "" {
		return nil
	}
	mark, err := getState(ctx, tx, keyWatermark)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read watermark: %w", err)
	}
	if day > mark {
		return nil
	}
	back, err := shiftDay(day, -1)
	if err != nil {
		return err
	}
	w.log.Debug(ctx, "late sample reopens aggregated day", logger.String("kind", kind),
		logger.String("day", day), logger.String("watermark", back))
	return setState(ctx, tx, keyWatermark, back)
}

// UpsertBaseline stores b, replacing any existing baseline for the same
// date as a whole. Baselines of days before today can be backfilled but not
// replaced.
func (w *Writer) UpsertBaseline(ctx context.Context, b model.DailyBaseline, today string) error {
	ctx, cancel := context.WithTimeout(ctx, w.opts.WriteTimeout)
	defer cancel()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin baseline: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertBaseline(ctx, tx, b, today); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertBaseline(ctx context.Context, tx *sql.Tx, b model.DailyBaseline, today string) error {
	if b.Date < today {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM summary_baselines WHERE date = ?`, b.Date).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check baseline: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrBaselineSealed, b.Date)
		}
	}

	// REPLACE deletes the old row first, so no column survives from it.
	if _, err := tx.ExecContext(ctx,
		`REPLACE INTO summary_baselines (date, readiness, sleep_score, hrv_balance, resting_hr,
		   primary_sleep_s, wake_time, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Date, b.Readiness, b.SleepScore, b.HRVBalance, b.RestingHR,
		int64(b.PrimarySleep/time.Second), nanos(b.WakeTime), nanos(b.FetchedAt),
	); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	return nil
}

// Watermark returns the last effective date folded into the summaries, or
// "" if nothing has been aggregated yet.
func (w *Writer) Watermark(ctx context.Context) (string, error) {
	v, err := getState(ctx, w.db, keyWatermark)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (w *Writer) day(t time.Time) string {
	return model.EffectiveDate(t, w.opts.DayBoundaryHour)
}
