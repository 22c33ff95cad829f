package biometric

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Azure/iot-operations-sdks/go/mqtt/retry"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/model"
	"github.com/anthropic/lifeos/pkg/logger"
	"github.com/anthropic/lifeos/pkg/metrics"
)

const (
	// dailyRefresh is how often today's baseline is re-read; the provider
	// revises readiness during the morning.
	dailyRefresh = time.Hour
	// maxPending caps measured samples waiting for the tick.
	maxPending = 4096
)

// Status describes the poller for status reports.
type Status struct {
	LastAttempt  time.Time `json:"last_attempt"`
	LastSuccess  time.Time `json:"last_success"`
	LastError    string    `json:"last_error,omitempty"`
	Halted       bool      `json:"halted"`
	LastMeasured time.Time `json:"last_measured"`
}

// Poller fetches from a Client on its own schedule so the tick never waits
// on the network. The tick reads the cache through Latest, LatestMeasured
// and TakeMeasured.
type Poller struct {
	client   Client
	policy   retry.Policy
	cfg      config.BiometricConfig
	boundary int
	log      logger.Logger
	now      func() time.Time
	refresh  chan struct{}

	mu       sync.Mutex
	baseline *model.DailyBaseline
	pending  []model.HeartRateSample
	latestHR model.HeartRateSample
	status   Status
	backoff  time.Duration
}

// NewPoller creates a poller. boundaryHour is the local hour a new day
// starts at.
func NewPoller(client Client, cfg config.BiometricConfig, boundaryHour int, log logger.Logger, opts ...PollerOption) *Poller {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("biometric")
	p := &Poller{
		client:   client,
		cfg:      cfg,
		boundary: boundaryHour,
		log:      log,
		now:      time.Now,
		refresh:  make(chan struct{}, 1),
		policy: &retry.ExponentialBackoff{
			MaxAttempts: cfg.RetryAttempts,
			MinInterval: cfg.RetryMin,
			MaxInterval: cfg.RetryMax,
			Logger:      logger.ToSlog(log),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PollerOption customises a Poller.
type PollerOption func(*Poller)

// WithClock replaces time.Now for the daily schedule and fetch windows.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) { p.now = now }
}

// Seed primes the cache with state restored from the store so a restart
// does not start from nothing.
func (p *Poller) Seed(b *model.DailyBaseline, lastMeasured model.HeartRateSample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b != nil {
		cp := *b
		p.baseline = &cp
	}
	if lastMeasured.Provenance == model.Measured {
		p.latestHR = lastMeasured
		p.status.LastMeasured = lastMeasured.Timestamp
	}
}

// Run polls immediately and then every PollInterval until ctx ends. After
// a fatal error, such as rejected credentials, it stops polling until
// Refresh is called.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if !p.halted() {
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				p.log.Warn(ctx, "biometric poll failed", logger.Error(err))
			}
		}

		timer := time.NewTimer(p.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		case <-p.refresh:
			timer.Stop()
			p.mu.Lock()
			p.status.Halted = false
			p.mu.Unlock()
		}
	}
}

// Refresh requests an immediate poll and clears a halt.
func (p *Poller) Refresh() {
	select {
	case p.refresh <- struct{}{}:
	default:
	}
}

// Poll runs one fetch cycle: today's baseline when due, then the measured
// heart-rate stream since the last sample seen.
func (p *Poller) Poll(ctx context.Context) error {
	now := p.now()
	p.mu.Lock()
	p.status.LastAttempt = now
	p.mu.Unlock()

	err := errors.Join(p.pollDaily(ctx, now), p.pollHeartRate(ctx, now))

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case err == nil:
		p.status.LastSuccess = now
		p.status.LastError = ""
	case IsFatal(err):
		p.status.Halted = true
		p.status.LastError = err.Error()
		p.log.Error(ctx, "biometric provider rejected request, polling halted", logger.Error(err))
	default:
		p.status.LastError = err.Error()
	}
	return err
}

func (p *Poller) pollDaily(ctx context.Context, now time.Time) error {
	today := model.EffectiveDate(now, p.boundary)

	p.mu.Lock()
	due := p.baseline == nil || p.baseline.Date != today || now.Sub(p.baseline.FetchedAt) >= dailyRefresh
	p.mu.Unlock()
	if !due {
		return nil
	}

	var b model.DailyBaseline
	err := p.policy.Start(ctx, "fetch_daily", func(ctx context.Context) (bool, error) {
		var err error
		b, err = p.client.FetchDaily(ctx, today)
		return IsRetryable(err), err
	})
	p.record(ctx, "daily", err)
	if errors.Is(err, ErrNoData) {
		p.log.Debug(ctx, "no baseline yet", logger.String("date", today))
		return nil
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.baseline = &b
	p.mu.Unlock()
	p.log.Info(ctx, "baseline fetched",
		logger.String("date", b.Date),
		logger.Int("readiness", b.Readiness),
		logger.Int("sleep_score", b.SleepScore),
		logger.Float64("resting_hr", b.RestingHR))
	return nil
}

func (p *Poller) pollHeartRate(ctx context.Context, now time.Time) error {
	from := now.Add(-p.cfg.HeartRateWindow)
	p.mu.Lock()
	if last := p.latestHR.Timestamp; last.After(from) {
		from = last.Add(time.Nanosecond)
	}
	p.mu.Unlock()
	if !from.Before(now) {
		return nil
	}

	var samples []model.HeartRateSample
	err := p.policy.Start(ctx, "fetch_heartrate", func(ctx context.Context) (bool, error) {
		var err error
		samples, err = p.client.FetchRecentHeartRate(ctx, from, now)
		return IsRetryable(err), err
	})
	p.record(ctx, "heartrate", err)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range samples {
		if !s.Timestamp.After(p.latestHR.Timestamp) {
			continue
		}
		s.Provenance = model.Measured
		p.pending = append(p.pending, s)
		p.latestHR = s
	}
	if n := len(p.pending); n > maxPending {
		p.pending = append([]model.HeartRateSample(nil), p.pending[n-maxPending:]...)
	}
	p.status.LastMeasured = p.latestHR.Timestamp
	if len(samples) > 0 {
		metrics.UpdateHeartRate(string(model.Measured), p.latestHR.BPM)
	}
	return nil
}

func (p *Poller) record(ctx context.Context, op string, err error) {
	result := "ok"
	var re *RetryableError
	switch {
	case err == nil:
	case errors.Is(err, ErrNoData):
		result = "no_data"
	case IsFatal(err):
		result = "fatal"
	case errors.As(err, &re):
		result = "retryable"
		if isTimeout(re.Err) {
			result = "timeout"
		}
		p.mu.Lock()
		p.backoff = max(p.backoff, re.RetryAfter)
		p.mu.Unlock()
	default:
		result = "error"
	}
	metrics.RecordFetch(op, result)
	if err != nil && ctx.Err() == nil {
		p.log.Debug(ctx, "biometric fetch", logger.String("op", op), logger.String("result", result))
	}
}

func (p *Poller) nextWait() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	wait := max(p.cfg.PollInterval, p.backoff)
	p.backoff = 0
	if wait <= 0 {
		wait = 5 * time.Minute
	}
	return wait
}

func (p *Poller) halted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.Halted
}

// Latest returns a copy of the cached baseline, or nil before the first
// successful fetch. It never blocks on the network.
func (p *Poller) Latest() *model.DailyBaseline {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.baseline == nil {
		return nil
	}
	cp := *p.baseline
	return &cp
}

// LatestMeasured returns the newest measured sample seen.
func (p *Poller) LatestMeasured() (model.HeartRateSample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latestHR, !p.latestHR.Timestamp.IsZero()
}

// TakeMeasured drains the measured samples fetched since the last call,
// oldest first.
func (p *Poller) TakeMeasured() []model.HeartRateSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out
}

// Status returns the poller state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
