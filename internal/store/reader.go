package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropic/lifeos/internal/model"
)

type rowsQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Latest returns the most recent snapshot.
func (r *Reader) Latest(ctx context.Context) (model.ResourceSnapshot, error) {
	var snap model.ResourceSnapshot
	var body string
	err := r.db.QueryRowContext(ctx, `SELECT body FROM live_snapshot WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("read latest snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return snap, fmt.Errorf("decode latest snapshot: %w", err)
	}
	return snap, nil
}

// Snapshots returns snapshots in [from, to), oldest first, at most limit
// rows (0 means no limit).
func (r *Reader) Snapshots(ctx context.Context, from, to time.Time, limit int) ([]model.ResourceSnapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT ts, effective, base, boost, debt, efficiency, cognitive_load, activity_state,
		        status, tier, heart_rate, hr_estimated, degraded, break_at, exhaustion_at
		 FROM rolling_snapshots WHERE ts >= ? AND ts < ?
		 ORDER BY ts ASC LIMIT ?`,
		from.UnixNano(), to.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []model.ResourceSnapshot
	for rows.Next() {
		var s model.ResourceSnapshot
		var ts, breakAt, exhAt, degraded int64
		var state string
		var est int
		if err := rows.Scan(&ts, &s.Effective, &s.Base, &s.Boost, &s.Debt, &s.Efficiency,
			&s.CognitiveLoad, &state, &s.Status, &s.Tier, &s.EstimatedHR, &est, &degraded,
			&breakAt, &exhAt); err != nil {
			return nil, err
		}
		s.Timestamp = fromNanos(ts)
		s.ActivityState = model.ActivityState(state)
		s.HREstimated = est != 0
		s.Degraded = model.DegradedFlags(degraded)
		s.BreakAt = fromNanos(breakAt)
		s.ExhaustionAt = fromNanos(exhAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Activity returns activity samples whose window ended in [from, to),
// oldest first.
func (r *Reader) Activity(ctx context.Context, from, to time.Time) ([]model.ActivitySample, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT start_ts, end_ts, apm, key_count, click_count, scroll_steps, backspace_count,
		        pointer_distance, pointer_rate, idle_ms, state
		 FROM rolling_activity WHERE end_ts >= ? AND end_ts < ?
		 ORDER BY end_ts ASC`,
		from.UnixNano(), to.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()

	var out []model.ActivitySample
	for rows.Next() {
		var s model.ActivitySample
		var start, end, idle int64
		var state string
		if err := rows.Scan(&start, &end, &s.APM, &s.KeyCount, &s.ClickCount, &s.ScrollSteps,
			&s.BackspaceCount, &s.PointerDistance, &s.PointerRate, &idle, &state); err != nil {
			return nil, err
		}
		s.Start, s.End = fromNanos(start), fromNanos(end)
		s.IdleFor = time.Duration(idle) * time.Millisecond
		s.State = model.ActivityState(state)
		out = append(out, s)
	}
	return out, rows.Err()
}

// HeartRate returns heart-rate samples in [from, to), oldest first. An
// empty provenance returns both streams.
func (r *Reader) HeartRate(ctx context.Context, from, to time.Time, prov model.Provenance) ([]model.HeartRateSample, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT ts, bpm, provenance, apm, pointer_rate, hours_awake
		 FROM rolling_heartrate
		 WHERE ts >= ? AND ts < ? AND (? = '' OR provenance = ?)
		 ORDER BY ts ASC, provenance ASC`,
		from.UnixNano(), to.UnixNano(), string(prov), string(prov),
	)
	if err != nil {
		return nil, fmt.Errorf("query heart rate: %w", err)
	}
	defer rows.Close()
	return scanHeartRate(rows)
}

// NearestEstimated returns the estimated sample closest to at, if one lies
// within tolerance.
func (r *Reader) NearestEstimated(ctx context.Context, at time.Time, tolerance time.Duration) (model.HeartRateSample, error) {
	ts := at.UnixNano()
	rows, err := r.db.QueryContext(ctx,
		`SELECT ts, bpm, provenance, apm, pointer_rate, hours_awake
		 FROM rolling_heartrate
		 WHERE provenance = 'estimated' AND ts BETWEEN ? AND ?
		 ORDER BY ABS(ts - ?) ASC LIMIT 1`,
		ts-int64(tolerance), ts+int64(tolerance), ts,
	)
	if err != nil {
		return model.HeartRateSample{}, fmt.Errorf("query nearest estimate: %w", err)
	}
	defer rows.Close()

	out, err := scanHeartRate(rows)
	if err != nil {
		return model.HeartRateSample{}, err
	}
	if len(out) == 0 {
		return model.HeartRateSample{}, ErrNotFound
	}
	return out[0], nil
}

func scanHeartRate(rows *sql.Rows) ([]model.HeartRateSample, error) {
	var out []model.HeartRateSample
	for rows.Next() {
		var s model.HeartRateSample
		var ts int64
		var prov string
		var apm, ptr, hours sql.NullFloat64
		if err := rows.Scan(&ts, &s.BPM, &prov, &apm, &ptr, &hours); err != nil {
			return nil, err
		}
		s.Timestamp = fromNanos(ts)
		s.Provenance = model.Provenance(prov)
		if apm.Valid {
			s.Features = &model.Features{APM: apm.Float64, PointerRate: ptr.Float64, HoursAwake: hours.Float64}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Baseline returns the baseline stored for date.
func (r *Reader) Baseline(ctx context.Context, date string) (model.DailyBaseline, error) {
	return r.baseline(ctx, `WHERE date = ?`, date)
}

// LatestBaseline returns the baseline with the most recent date.
func (r *Reader) LatestBaseline(ctx context.Context) (model.DailyBaseline, error) {
	return r.baseline(ctx, `ORDER BY date DESC LIMIT 1`)
}

func (r *Reader) baseline(ctx context.Context, clause string, args ...any) (model.DailyBaseline, error) {
	var b model.DailyBaseline
	var sleepS, wake, fetched int64
	err := r.db.QueryRowContext(ctx,
		`SELECT date, readiness, sleep_score, hrv_balance, resting_hr, primary_sleep_s, wake_time, fetched_at
		 FROM summary_baselines `+clause, args...,
	).Scan(&b.Date, &b.Readiness, &b.SleepScore, &b.HRVBalance, &b.RestingHR, &sleepS, &wake, &fetched)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	if err != nil {
		return b, fmt.Errorf("read baseline: %w", err)
	}
	b.PrimarySleep = time.Duration(sleepS) * time.Second
	b.WakeTime = fromNanos(wake)
	b.FetchedAt = fromNanos(fetched)
	return b, nil
}

// Coefficients returns the persisted estimator coefficients.
func (r *Reader) Coefficients(ctx context.Context) (model.Coefficients, error) {
	var c model.Coefficients
	var updated int64
	err := r.db.QueryRowContext(ctx,
		`SELECT alpha, beta, gamma, last_error, updates, updated_at FROM live_coefficients WHERE id = 1`,
	).Scan(&c.Alpha, &c.Beta, &c.Gamma, &c.LastError, &c.Updates, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, fmt.Errorf("read coefficients: %w", err)
	}
	c.UpdatedAt = fromNanos(updated)
	return c, nil
}

// Process returns the process-lock metadata last committed by the daemon.
func (r *Reader) Process(ctx context.Context) (model.ProcessInfo, error) {
	var p model.ProcessInfo
	var started, hb int64
	err := r.db.QueryRowContext(ctx,
		`SELECT pid, instance, started, heartbeat FROM live_process WHERE id = 1`,
	).Scan(&p.PID, &p.Instance, &started, &hb)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("read process info: %w", err)
	}
	p.Started, p.Heartbeat = fromNanos(started), fromNanos(hb)
	return p, nil
}

// Offsets returns the committed spool offsets by path.
func (r *Reader) Offsets(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT path, byte_offset FROM live_offsets`)
	if err != nil {
		return nil, fmt.Errorf("query offsets: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var p string
		var off int64
		if err := rows.Scan(&p, &off); err != nil {
			return nil, err
		}
		out[p] = off
	}
	return out, rows.Err()
}

// DailySummaries returns summaries for dates in [from, to], oldest first.
func (r *Reader) DailySummaries(ctx context.Context, from, to string) ([]model.DailySummary, error) {
	return queryDaily(ctx, r.db, from, to)
}

func queryDaily(ctx context.Context, q rowsQueryer, from, to string) ([]model.DailySummary, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT date, ticks, mean_effective, min_effective, max_effective, mean_load,
		        active_minutes, mean_apm, mean_hr, measured_hr, estimated_hr, final_debt
		 FROM summary_daily WHERE date >= ? AND date <= ? ORDER BY date ASC`,
		from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("query daily summaries: %w", err)
	}
	defer rows.Close()

	var out []model.DailySummary
	for rows.Next() {
		var s model.DailySummary
		if err := rows.Scan(&s.Date, &s.Ticks, &s.MeanEffective, &s.MinEffective, &s.MaxEffective,
			&s.MeanLoad, &s.ActiveMinutes, &s.MeanAPM, &s.MeanHR, &s.MeasuredHR, &s.EstimatedHR,
			&s.FinalDebt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// WeeklySummaries returns the most recent n weekly summaries, oldest first.
func (r *Reader) WeeklySummaries(ctx context.Context, n int) ([]model.WeeklySummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT week, days, mean_effective, active_minutes, mean_hr FROM (
		   SELECT * FROM summary_weekly ORDER BY week DESC LIMIT ?
		 ) ORDER BY week ASC`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query weekly summaries: %w", err)
	}
	defer rows.Close()

	var out []model.WeeklySummary
	for rows.Next() {
		var s model.WeeklySummary
		if err := rows.Scan(&s.Week, &s.Days, &s.MeanEffective, &s.ActiveMinutes, &s.MeanHR); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// HourlyAPMProfile returns the mean APM of non-idle activity per local hour
// since the given time. Samples counts the distinct minutes observed.
func (r *Reader) HourlyAPMProfile(ctx context.Context, since time.Time) ([]model.HourlyActivity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT CAST(strftime('%H', end_ts / 1000000000, 'unixepoch', 'localtime') AS INTEGER) AS hour,
		        AVG(apm), COUNT(DISTINCT end_ts / 60000000000)
		 FROM rolling_activity
		 WHERE end_ts >= ? AND state != 'idle'
		 GROUP BY hour ORDER BY hour`,
		since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query hourly profile: %w", err)
	}
	defer rows.Close()

	var out []model.HourlyActivity
	for rows.Next() {
		var h model.HourlyActivity
		if err := rows.Scan(&h.Hour, &h.MeanAPM, &h.Samples); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Watermark returns the last effective date folded into the summaries, or
// "" if nothing has been aggregated yet.
func (r *Reader) Watermark(ctx context.Context) (string, error) {
	v, err := getState(ctx, r.db, keyWatermark)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
