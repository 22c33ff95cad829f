package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/internal/store"
)

// peakHours is how many hours RhythmReport.Peaks lists.
const peakHours = 3

// RhythmReport is the hour-of-day activity profile over a lookback window.
type RhythmReport struct {
	Since time.Time              `json:"since"`
	Hours []model.HourlyActivity `json:"hours"`
	// Peaks are the busiest hours with at least MinSamples samples,
	// busiest first.
	Peaks      []int `json:"peaks"`
	MinSamples int   `json:"min_samples"`
}

// GenerateRhythm opens the database at dbPath read-only and profiles the
// activity since now minus lookback.
func GenerateRhythm(ctx context.Context, dbPath string, lookback time.Duration, minSamples int, now time.Time) (*RhythmReport, error) {
	r, err := store.OpenReader(dbPath, 0)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer r.Close()

	return RhythmFromReader(ctx, r, lookback, minSamples, now)
}

// RhythmFromReader produces a rhythm report from an open reader.
func RhythmFromReader(ctx context.Context, r *store.Reader, lookback time.Duration, minSamples int, now time.Time) (*RhythmReport, error) {
	since := now.Add(-lookback)
	hours, err := r.HourlyAPMProfile(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("query hourly profile: %w", err)
	}
	rep := &RhythmReport{Since: since, Hours: hours, MinSamples: minSamples}
	rep.Peaks = peaks(hours, minSamples)
	return rep, nil
}

func peaks(hours []model.HourlyActivity, minSamples int) []int {
	var eligible []model.HourlyActivity
	for _, h := range hours {
		if h.Samples >= minSamples && h.MeanAPM > 0 {
			eligible = append(eligible, h)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].MeanAPM != eligible[j].MeanAPM {
			return eligible[i].MeanAPM > eligible[j].MeanAPM
		}
		return eligible[i].Hour < eligible[j].Hour
	})

	out := []int{}
	for i := 0; i < len(eligible) && i < peakHours; i++ {
		out = append(out, eligible[i].Hour)
	}
	return out
}
