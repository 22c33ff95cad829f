package daemon

import (
	"context"
	"errors"
	"os"
	"slices"
	"time"

	"github.com/anthropic/lifeos/internal/engine"
	"github.com/anthropic/lifeos/internal/ipc"
	"github.com/anthropic/lifeos/internal/telemetry"
)

var _ ipc.DaemonQuerier = (*Daemon)(nil)

// ErrNotReady is returned by queries that need a completed tick.
var ErrNotReady = errors.New("no tick has completed yet")

// Status assembles the status report.
func (d *Daemon) Status(ctx context.Context) ipc.StatusData {
	d.mu.Lock()
	st := ipc.StatusData{
		State:               string(d.state),
		Ticks:               d.stats.ticks,
		LastTick:            d.stats.last,
		LastTickOK:          d.stats.ticks > 0 && d.stats.lastErr == nil,
		ConsecutiveFailures: d.stats.failures,
		PID:                 os.Getpid(),
	}
	if d.stats.lastErr != nil {
		st.LastTickError = d.stats.lastErr.Error()
	}
	if d.snapshot != nil {
		snap := *d.snapshot
		st.Snapshot = &snap
	}
	if !d.startTime.IsZero() {
		st.Uptime = d.now().Sub(d.startTime).Truncate(time.Second).String()
	}
	d.mu.Unlock()

	if d.lock != nil {
		st.Instance = d.lock.Info().Instance
	}
	if d.est != nil {
		st.Coefficients = d.est.Coefficients()
	}
	if d.poller != nil {
		st.Baseline = d.poller.Latest()
		st.Biometric = d.poller.Status()
	}
	if st.Baseline != nil {
		st.DayMode = engine.DayMode(st.Baseline.Readiness)
	} else {
		st.DayMode = engine.DayMode(d.cfg.Biometric.Default.Readiness)
	}
	if d.agg != nil {
		st.DroppedEvents = d.agg.Dropped()
		st.DroppedSamples = d.agg.DroppedSamples()
	}
	if d.reader != nil {
		if v, err := d.reader.DBSizeBytes(ctx); err == nil {
			st.DBSizeBytes = v
		}
		if v, err := d.reader.Watermark(ctx); err == nil {
			st.Watermark = v
		}
	}
	return st
}

// Forecast projects the score from the inputs of the last committed tick.
func (d *Daemon) Forecast(sc engine.Scenario) ([]engine.Point, error) {
	d.mu.Lock()
	in := d.input
	in.Activity = slices.Clone(in.Activity)
	d.mu.Unlock()
	if in.Now.IsZero() || d.eng == nil {
		return nil, ErrNotReady
	}
	return d.eng.Forecast(in, sc), nil
}

// RecordEvent feeds one input event into the aggregator.
func (d *Daemon) RecordEvent(kind string, magnitude float64) error {
	if d.agg == nil {
		return ErrNotReady
	}
	k, err := telemetry.ParseKind(kind)
	if err != nil {
		return err
	}
	return d.agg.RecordEvent(k, magnitude)
}

// RefreshBiometrics asks the poller to fetch now, clearing a halt after a
// fatal provider error.
func (d *Daemon) RefreshBiometrics() {
	if d.poller != nil {
		d.poller.Refresh()
	}
}

// health backs /healthz: DEGRADED and anything outside the running states
// report unhealthy.
func (d *Daemon) health() (bool, string) {
	s := d.State()
	return s == Running, string(s)
}
