// Package report builds long-horizon reports from the summary tier. It reads
// the SQLite database directly, so the daemon does not need to be running.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/internal/store"
)

// Trend directions.
const (
	Rising  = "rising"
	Falling = "falling"
	Flat    = "flat"
)

// flatBand is the change in mean effective score, in points, still reported
// as flat.
const flatBand = 2.0

// TrendReport summarises the daily summaries of a date range.
type TrendReport struct {
	From          string                  `json:"from"`
	To            string                  `json:"to"`
	Days          []model.DailySummary    `json:"days"`
	Weeks         []model.WeeklySummary   `json:"weeks,omitempty"`
	MeanEffective float64                 `json:"mean_effective"`
	ActiveMinutes float64                 `json:"active_minutes"`
	BestDay       string                  `json:"best_day,omitempty"`
	WorstDay      string                  `json:"worst_day,omitempty"`
	Direction     string                  `json:"direction"`
	Change        float64                 `json:"change"`
	Latest        *model.ResourceSnapshot `json:"latest,omitempty"`
	Watermark     string                  `json:"watermark,omitempty"`
}

// GenerateTrend opens the database at dbPath read-only and reports on the
// last days effective days before today.
func GenerateTrend(ctx context.Context, dbPath string, days, boundaryHour int, now time.Time) (*TrendReport, error) {
	r, err := store.OpenReader(dbPath, 0)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer r.Close()

	return TrendFromReader(ctx, r, days, boundaryHour, now)
}

// TrendFromReader produces a trend report from an open reader.
func TrendFromReader(ctx context.Context, r *store.Reader, days, boundaryHour int, now time.Time) (*TrendReport, error) {
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	today, err := time.ParseInLocation(model.DateLayout, model.EffectiveDate(now, boundaryHour), now.Location())
	if err != nil {
		return nil, err
	}
	rep := &TrendReport{
		From:      today.AddDate(0, 0, -days).Format(model.DateLayout),
		To:        today.AddDate(0, 0, -1).Format(model.DateLayout),
		Direction: Flat,
	}

	rep.Days, err = r.DailySummaries(ctx, rep.From, rep.To)
	if err != nil {
		return nil, fmt.Errorf("query daily summaries: %w", err)
	}
	rep.Weeks, err = r.WeeklySummaries(ctx, (days+6)/7)
	if err != nil {
		return nil, fmt.Errorf("query weekly summaries: %w", err)
	}
	if snap, err := r.Latest(ctx); err == nil {
		rep.Latest = &snap
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	if rep.Watermark, err = r.Watermark(ctx); err != nil {
		return nil, fmt.Errorf("query watermark: %w", err)
	}

	summarise(rep)
	return rep, nil
}

// summarise fills the derived fields. Days without ticks are ignored.
func summarise(rep *TrendReport) {
	var active []model.DailySummary
	for _, d := range rep.Days {
		rep.ActiveMinutes += d.ActiveMinutes
		if d.Ticks > 0 {
			active = append(active, d)
		}
	}
	if len(active) == 0 {
		return
	}

	sum := 0.0
	for _, d := range active {
		sum += d.MeanEffective
	}
	rep.MeanEffective = sum / float64(len(active))

	ranked := append([]model.DailySummary(nil), active...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].MeanEffective > ranked[j].MeanEffective
	})
	rep.BestDay = ranked[0].Date
	rep.WorstDay = ranked[len(ranked)-1].Date

	// Compare the older half with the newer half.
	if len(active) < 2 {
		return
	}
	half := len(active) / 2
	rep.Change = mean(active[len(active)-half:]) - mean(active[:half])
	switch {
	case rep.Change > flatBand:
		rep.Direction = Rising
	case rep.Change < -flatBand:
		rep.Direction = Falling
	}
}

func mean(days []model.DailySummary) float64 {
	if len(days) == 0 {
		return 0
	}
	s := 0.0
	for _, d := range days {
		s += d.MeanEffective
	}
	return s / float64(len(days))
}
