package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/pkg/logger"
)

// purgeBatch bounds each purge statement so the tick never waits long for
// the connection.
const purgeBatch = 5000

// Aggregate folds every day after the watermark and before today into
// summary_daily, refreshes the affected ISO weeks in summary_weekly and
// advances the watermark. It returns the folded days.
func (w *Writer) Aggregate(ctx context.Context, today string) ([]string, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin aggregate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	mark, err := getState(ctx, tx, keyWatermark)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("read watermark: %w", err)
	}

	days, err := pendingDays(ctx, tx, mark, today)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, nil
	}

	weeks := make(map[string]bool)
	for _, day := range days {
		sum, err := w.summarizeDay(ctx, tx, day)
		if err != nil {
			return nil, err
		}
		if err := upsertDaily(ctx, tx, sum); err != nil {
			return nil, err
		}
		wk, err := isoWeek(day)
		if err != nil {
			return nil, err
		}
		weeks[wk] = true
	}

	if err := refreshWeeks(ctx, tx, days[0], days[len(days)-1], weeks); err != nil {
		return nil, err
	}

	last := days[len(days)-1]
	if last > mark {
		if err := setState(ctx, tx, keyWatermark, last); err != nil {
			return nil, fmt.Errorf("advance watermark: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit aggregate: %w", err)
	}

	w.log.Info(ctx, "aggregated rolling data",
		logger.Int("days", len(days)), logger.String("through", last))
	return days, nil
}

func pendingDays(ctx context.Context, tx *sql.Tx, after, before string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT day FROM rolling_snapshots WHERE day > ? AND day < ?
		 UNION SELECT day FROM rolling_activity WHERE day > ? AND day < ?
		 UNION SELECT day FROM rolling_heartrate WHERE day > ? AND day < ?
		 ORDER BY day`,
		after, before, after, before, after, before,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending days: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (w *Writer) summarizeDay(ctx context.Context, tx *sql.Tx, day string) (model.DailySummary, error) {
	s := model.DailySummary{Date: day}
	var activeTicks int64

	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(effective), 0), COALESCE(MIN(effective), 0),
		        COALESCE(MAX(effective), 0), COALESCE(AVG(cognitive_load), 0),
		        COALESCE(SUM(activity_state != 'idle'), 0)
		 FROM rolling_snapshots WHERE day = ?`, day,
	).Scan(&s.Ticks, &s.MeanEffective, &s.MinEffective, &s.MaxEffective, &s.MeanLoad, &activeTicks)
	if err != nil {
		return s, fmt.Errorf("summarize snapshots for %s: %w", day, err)
	}
	s.ActiveMinutes = float64(activeTicks) * w.opts.TickInterval.Minutes()

	err = tx.QueryRowContext(ctx,
		`SELECT debt FROM rolling_snapshots WHERE day = ? ORDER BY ts DESC LIMIT 1`, day,
	).Scan(&s.FinalDebt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("final debt for %s: %w", day, err)
	}

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(apm), 0) FROM rolling_activity WHERE day = ?`, day,
	).Scan(&s.MeanAPM)
	if err != nil {
		return s, fmt.Errorf("summarize activity for %s: %w", day, err)
	}

	// Prefer measured heart rate when the day has any.
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(CASE WHEN provenance = 'measured' THEN bpm END), AVG(bpm), 0),
		        COALESCE(SUM(provenance = 'measured'), 0),
		        COALESCE(SUM(provenance = 'estimated'), 0)
		 FROM rolling_heartrate WHERE day = ?`, day,
	).Scan(&s.MeanHR, &s.MeasuredHR, &s.EstimatedHR)
	if err != nil {
		return s, fmt.Errorf("summarize heart rate for %s: %w", day, err)
	}
	return s, nil
}

func upsertDaily(ctx context.Context, tx *sql.Tx, s model.DailySummary) error {
	_, err := tx.ExecContext(ctx,
		`REPLACE INTO summary_daily (date, ticks, mean_effective, min_effective, max_effective,
		   mean_load, active_minutes, mean_apm, mean_hr, measured_hr, estimated_hr, final_debt)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Date, s.Ticks, s.MeanEffective, s.MinEffective, s.MaxEffective,
		s.MeanLoad, s.ActiveMinutes, s.MeanAPM, s.MeanHR, s.MeasuredHR, s.EstimatedHR, s.FinalDebt,
	)
	if err != nil {
		return fmt.Errorf("write daily summary %s: %w", s.Date, err)
	}
	return nil
}

// refreshWeeks recomputes the listed weeks from summary_daily. Only days
// with ticks count toward the weekly means.
func refreshWeeks(ctx context.Context, tx *sql.Tx, first, last string, weeks map[string]bool) error {
	from, err := shiftDay(first, -7)
	if err != nil {
		return err
	}
	to, err := shiftDay(last, 7)
	if err != nil {
		return err
	}
	daily, err := queryDaily(ctx, tx, from, to)
	if err != nil {
		return err
	}

	type acc struct {
		days          int
		eff, hr, mins float64
		hrDays        int
	}
	byWeek := make(map[string]*acc)
	for _, d := range daily {
		wk, err := isoWeek(d.Date)
		if err != nil {
			return err
		}
		if !weeks[wk] || d.Ticks == 0 {
			continue
		}
		a := byWeek[wk]
		if a == nil {
			a = &acc{}
			byWeek[wk] = a
		}
		a.days++
		a.eff += d.MeanEffective
		a.mins += d.ActiveMinutes
		if d.MeasuredHR+d.EstimatedHR > 0 {
			a.hr += d.MeanHR
			a.hrDays++
		}
	}

	keys := make([]string, 0, len(byWeek))
	for wk := range byWeek {
		keys = append(keys, wk)
	}
	sort.Strings(keys)
	for _, wk := range keys {
		a := byWeek[wk]
		meanHR := 0.0
		if a.hrDays > 0 {
			meanHR = a.hr / float64(a.hrDays)
		}
		if _, err := tx.ExecContext(ctx,
			`REPLACE INTO summary_weekly (week, days, mean_effective, active_minutes, mean_hr)
			 VALUES (?, ?, ?, ?, ?)`,
			wk, a.days, a.eff/float64(a.days), a.mins, meanHR,
		); err != nil {
			return fmt.Errorf("write weekly summary %s: %w", wk, err)
		}
	}
	return nil
}

// Purge deletes rolling rows older than cutoff, but never rows of a day past
// the aggregation watermark. It returns the deleted row counts per table.
func (w *Writer) Purge(ctx context.Context, cutoff time.Time) (map[string]int64, error) {
	mark, err := w.Watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	purged := map[string]int64{}
	if mark == "" {
		return purged, nil
	}

	targets := []struct{ table, tsCol string }{
		{"rolling_snapshots", "ts"},
		{"rolling_activity", "end_ts"},
		{"rolling_heartrate", "ts"},
	}
	for _, t := range targets {
		stmt := fmt.Sprintf(
			`DELETE FROM %[1]s WHERE rowid IN (
			   SELECT rowid FROM %[1]s WHERE %[2]s < ? AND day <= ? LIMIT %[3]d)`,
			t.table, t.tsCol, purgeBatch,
		)
		for {
			// Re-read per batch: a late sample may have pulled it back.
			mark, err = w.Watermark(ctx)
			if err != nil {
				return purged, err
			}
			res, err := w.db.ExecContext(ctx, stmt, cutoff.UnixNano(), mark)
			if err != nil {
				return purged, fmt.Errorf("purge %s: %w", t.table, err)
			}
			n, _ := res.RowsAffected()
			purged[t.table] += n
			if n < purgeBatch {
				break
			}
		}
	}

	w.log.Debug(ctx, "purged rolling store",
		logger.Int64("snapshots", purged["rolling_snapshots"]),
		logger.Int64("activity", purged["rolling_activity"]),
		logger.Int64("heartrate", purged["rolling_heartrate"]))
	return purged, nil
}

func isoWeek(day string) (string, error) {
	t, err := time.Parse(model.DateLayout, day)
	if err != nil {
		return "", fmt.Errorf("parse day %q: %w", day, err)
	}
	y, wk := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", y, wk), nil
}

func shiftDay(day string, n int) (string, error) {
	t, err := time.Parse(model.DateLayout, day)
	if err != nil {
		return "", fmt.Errorf("parse day %q: %w", day, err)
	}
	return t.AddDate(0, 0, n).Format(model.DateLayout), nil
}
