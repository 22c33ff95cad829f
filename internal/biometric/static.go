package biometric

import (
	"context"
	"time"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/model"
)

// StaticClient serves the configured default baseline every day and no
// heart-rate data. It lets the daemon run without a wearable.
type StaticClient struct {
	baseline config.BaselineConfig
	now      func() time.Time
}

func NewStaticClient(b config.BaselineConfig) *StaticClient {
	return &StaticClient{baseline: b, now: time.Now}
}

func (c *StaticClient) FetchDaily(_ context.Context, date string) (model.DailyBaseline, error) {
	day, err := time.ParseInLocation(model.DateLayout, date, time.Local)
	if err != nil {
		return model.DailyBaseline{}, &FatalError{Op: "static daily", Err: err}
	}
	return model.DailyBaseline{
		Date:       date,
		Readiness:  c.baseline.Readiness,
		SleepScore: c.baseline.SleepScore,
		HRVBalance: c.baseline.HRVBalance,
		RestingHR:  c.baseline.RestingHR,
		WakeTime:   day.Add(time.Duration(c.baseline.WakeHour) * time.Hour),
		FetchedAt:  c.now(),
	}, nil
}

func (c *StaticClient) FetchRecentHeartRate(context.Context, time.Time, time.Time) ([]model.HeartRateSample, error) {
	return nil, nil
}
