package daemon

import (
	"context"
	"time"

	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/pkg/logger"
	"github.com/anthropic/lifeos/pkg/metrics"
)

// chronotypeLookback is how much rolling activity the hourly profile is
// learned from.
const chronotypeLookback = 14 * 24 * time.Hour

// maintenanceLoop aggregates, purges and relearns the chronotype on its own
// schedule, starting right away.
func (d *Daemon) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Daemon.MaintenanceInterval)
	defer ticker.Stop()
	for {
		d.maintain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) maintain(ctx context.Context) {
	now := d.now()
	today := model.EffectiveDate(now, d.cfg.Daemon.DayBoundaryHour)

	days, err := d.writer.Aggregate(ctx, today)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn(ctx, "aggregation failed", logger.Error(err))
		}
		return
	}
	metrics.RecordDaysAggregated(len(days))

	purged, err := d.writer.Purge(ctx, now.Add(-d.cfg.Storage.RollingRetention))
	for table, n := range purged {
		metrics.RecordPurged(table, n)
	}
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn(ctx, "purge failed", logger.Error(err))
		}
		return
	}

	profile, err := d.reader.HourlyAPMProfile(ctx, now.Add(-chronotypeLookback))
	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn(ctx, "activity profile failed", logger.Error(err))
		}
		return
	}
	d.eng.Chronotype().Learn(profile)
}

// heartbeatLoop refreshes the lock heartbeat independently of the tick so a
// slow commit cannot make the lock look stale.
func (d *Daemon) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Daemon.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := d.lock.Heartbeat()
			if err != nil {
				d.log.Warn(ctx, "lock heartbeat failed", logger.Error(err))
				continue
			}
			metrics.UpdateLockHeartbeat(float64(info.Heartbeat.UnixNano()) / 1e9)
		}
	}
}
