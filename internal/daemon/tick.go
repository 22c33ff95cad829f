package daemon

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/anthropic/lifeos/internal/engine"
	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/internal/store"
	"github.com/anthropic/lifeos/pkg/logger"
	"github.com/anthropic/lifeos/pkg/metrics"
)

const (
	// historySpan is how much sample history feeds boost and load.
	historySpan = 5 * time.Minute
	// maxDebtStep caps the interval one debt update may cover, e.g. after
	// the machine slept.
	maxDebtStep = 12 * time.Hour
	// maxCalibQueue bounds measured samples waiting for calibration or for
	// a successful commit.
	maxCalibQueue = 4096
)

// tickStats is the tick outcome reported by status.
type tickStats struct {
	ticks    int64
	last     time.Time
	lastErr  error
	failures int
}

// run fires ticks until ctx ends. The next tick is armed only after the
// previous one returns, so ticks never overlap. On shutdown the daemon
// enters STOPPING and one final tick flushes whatever is still buffered.
func (d *Daemon) run(ctx context.Context) error {
	d.setState(Running)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.setState(Stopping)
			d.flush()
			return nil
		case <-timer.C:
		}
		// An in-flight tick completes even when shutdown starts mid-way.
		_ = d.tick(context.WithoutCancel(ctx))
		timer.Reset(d.cfg.Daemon.TickInterval)
	}
}

func (d *Daemon) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Daemon.ShutdownTimeout)
	defer cancel()
	if err := d.tick(ctx); err != nil {
		d.log.Error(ctx, "final flush failed; buffered samples lost",
			logger.Int("measured", len(d.measured)), logger.Error(err))
	}
}

// tick runs one iteration: sample, estimate, compute and commit. A failed
// commit moves the daemon to DEGRADED and keeps everything the tick would
// have written for the next attempt.
func (d *Daemon) tick(ctx context.Context) error {
	started := time.Now()
	now := d.now()
	if !now.After(d.lastTS) {
		// Wall clock stepped back; keep snapshot timestamps strictly increasing.
		now = d.lastTS.Add(time.Millisecond)
	}
	today := model.EffectiveDate(now, d.cfg.Daemon.DayBoundaryHour)

	pending := d.agg.TakePending()
	sample := d.agg.Sample(now)
	d.pushHistory(sample)

	baseline := d.poller.Latest()
	fresh := d.poller.TakeMeasured()
	d.measured = append(d.measured, fresh...)
	if over := len(d.measured) - maxCalibQueue; over > 0 {
		d.measured = append(d.measured[:0], d.measured[over:]...)
	}
	d.queueCalibration(fresh)
	d.calibrate(ctx)

	b := d.eng.BaselineOrDefault(baseline, today)
	wake := d.elapsedWake(b, today, now)
	estimate := d.est.Estimate(b.RestingHR, sample, wake.Hours(), now)

	hr := estimate
	if m, ok := d.poller.LatestMeasured(); ok && now.Sub(m.Timestamp) <= d.cfg.Biometric.StaleAfter {
		hr = m
	}

	elapsed := d.cfg.Daemon.TickInterval
	if !d.lastTS.IsZero() {
		elapsed = min(now.Sub(d.lastTS), maxDebtStep)
	}
	workStart := d.nextWorkStart(sample, now)
	fatigue := d.fatigue
	if d.fatigueDay != today {
		fatigue = 0
	}
	if !workStart.IsZero() {
		fatigue += d.eng.WorkFatigue(now.Sub(workStart), elapsed)
	}

	in := engine.Input{
		Now:         now,
		Today:       today,
		Baseline:    baseline,
		Activity:    slices.Clone(d.history),
		ElapsedWake: wake,
		WorkFatigue: fatigue,
		Debt:        d.debt,
		HeartRate:   hr,
	}
	snap := d.eng.Compute(in)
	nextDebt := d.eng.AdvanceDebt(engine.DebtStep{
		Debt:      snap.Debt,
		Boost:     snap.Boost,
		Sample:    sample,
		Elapsed:   elapsed,
		HeartRate: snap.EstimatedHR,
		RestingHR: b.RestingHR,
		Readiness: float64(b.Readiness),
		Sleep:     float64(b.SleepScore),
		RestAfter: d.cfg.Telemetry.RestAfter,
	})

	batch := store.TickBatch{
		Snapshot:  snap,
		Activity:  append(pending, sample),
		HeartRate: slices.Clone(d.measured),
		Offsets:   d.spool.Offsets(),
		Today:     today,
	}
	persistEstimate := now.Sub(d.lastEstimate) >= d.cfg.Shadow.PersistInterval
	if persistEstimate {
		batch.HeartRate = append(batch.HeartRate, estimate)
	}
	if d.coefDirty {
		c := d.est.Coefficients()
		batch.Coefficients = &c
	}
	if baseline != nil && baseline.FetchedAt.After(d.savedBaseline) {
		batch.Baseline = baseline
	}
	if d.lock != nil {
		info := d.lock.Info()
		batch.Process = &info
	}

	err := d.commit(ctx, batch)
	d.recordTick(ctx, snap, time.Since(started), err)
	if err != nil {
		if n := d.agg.Requeue(batch.Activity...); n > 0 {
			d.log.Warn(ctx, "replay buffer full; oldest activity samples dropped",
				logger.Int("dropped", n), logger.Int64("dropped_total", d.agg.DroppedSamples()))
		}
		return err
	}

	d.debt = nextDebt
	d.lastTS = now
	d.workStart = workStart
	d.fatigue = fatigue
	d.fatigueDay = today
	d.measured = nil
	d.coefDirty = false
	if persistEstimate {
		d.lastEstimate = now
	}
	if batch.Baseline != nil {
		d.savedBaseline = batch.Baseline.FetchedAt
	}

	d.mu.Lock()
	d.snapshot = &snap
	d.input = in
	d.mu.Unlock()

	metrics.UpdateScores(snap.Effective, snap.Base, snap.Debt)
	metrics.UpdateHeartRate(string(model.Estimated), estimate.BPM)
	metrics.RecordDegraded(snap.Degraded.Names())
	return nil
}

func (d *Daemon) recordTick(ctx context.Context, snap model.ResourceSnapshot, took time.Duration, err error) {
	d.mu.Lock()
	d.stats.ticks++
	d.stats.last = snap.Timestamp
	d.stats.lastErr = err
	if err != nil {
		d.stats.failures++
	} else {
		d.stats.failures = 0
	}
	failures := d.stats.failures
	d.mu.Unlock()

	metrics.RecordTick(took.Seconds(), err != nil)
	metrics.UpdateConsecutiveFailures(failures)

	if err != nil {
		d.log.Error(ctx, "tick commit failed",
			logger.Int("consecutive_failures", failures),
			logger.Bool("timeout", errors.Is(err, store.ErrWriteTimeout)),
			logger.Error(err))
		d.setState(Degraded)
		return
	}
	if d.State() == Degraded {
		d.log.Info(ctx, "tick commit recovered")
	}
	d.setState(Running)
}

func (d *Daemon) pushHistory(s model.ActivitySample) {
	d.history = append(d.history, s)
	if over := len(d.history) - d.historyLen; over > 0 {
		d.history = append(d.history[:0], d.history[over:]...)
	}
}

// queueCalibration holds newly arrived measured samples until calibrate can
// pair them with a persisted estimate.
func (d *Daemon) queueCalibration(fresh []model.HeartRateSample) {
	d.calibQueue = append(d.calibQueue, fresh...)
	if over := len(d.calibQueue) - maxCalibQueue; over > 0 {
		d.calibQueue = append(d.calibQueue[:0], d.calibQueue[over:]...)
	}
}

// calibrate applies at most CalibrationsPerTick updates, so the work per
// tick stays bounded however large a fetched batch is.
func (d *Daemon) calibrate(ctx context.Context) {
	n := min(len(d.calibQueue), d.cfg.Shadow.CalibrationsPerTick)
	if n == 0 {
		return
	}
	for _, m := range d.calibQueue[:n] {
		est, err := d.reader.NearestEstimated(ctx, m.Timestamp, d.cfg.Shadow.Tolerance)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				d.log.Warn(ctx, "calibration lookup failed", logger.Error(err))
			}
			continue
		}
		cal, err := d.est.Calibrate(est, m)
		if err != nil {
			continue
		}
		d.coefDirty = true
		metrics.RecordCalibration(cal.Error)
		d.log.Debug(ctx, "calibrated shadow estimator",
			logger.Float64("error_bpm", cal.Error),
			logger.Float64("alpha", cal.After.Alpha),
			logger.Float64("beta", cal.After.Beta),
			logger.Float64("gamma", cal.After.Gamma))
	}
	d.calibQueue = d.calibQueue[n:]
	if d.coefDirty {
		c := d.est.Coefficients()
		metrics.UpdateCoefficients(c.Alpha, c.Beta, c.Gamma)
	}
}

// elapsedWake is the time since wake-up. Without a wake time from today's
// baseline the configured default wake hour stands in.
func (d *Daemon) elapsedWake(b model.DailyBaseline, today string, now time.Time) time.Duration {
	wake := b.WakeTime
	if b.Date != today || wake.IsZero() || wake.After(now) {
		day, err := time.ParseInLocation(model.DateLayout, today, now.Location())
		if err != nil {
			return 0
		}
		wake = day.Add(time.Duration(d.cfg.Biometric.Default.WakeHour) * time.Hour)
	}
	if now.Before(wake) {
		return 0
	}
	return now.Sub(wake)
}

// nextWorkStart returns when the current stretch of continuous work began
// after sample, or the zero time once the user has rested.
func (d *Daemon) nextWorkStart(sample model.ActivitySample, now time.Time) time.Time {
	switch {
	case sample.State == model.StateActive || sample.State == model.StateIntense:
		if !d.workStart.IsZero() {
			return d.workStart
		}
		if sample.Start.IsZero() {
			return now
		}
		return sample.Start
	case d.eng.Resting(sample, d.cfg.Telemetry.RestAfter):
		return time.Time{}
	}
	return d.workStart
}
