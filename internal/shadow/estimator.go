// Package shadow predicts heart rate from activity while measured data is
// still in flight, and calibrates its coefficients once measurements land.
package shadow

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/model"
)

var (
	ErrProvenance = errors.New("calibration needs one estimated and one measured sample")
	ErrNoMatch    = errors.New("samples are further apart than the match tolerance")
	ErrNoFeatures = errors.New("estimated sample carries no features")
)

// Estimator holds the regression coefficients. Estimate only reads them;
// Calibrate is the single mutator.
type Estimator struct {
	cfg config.ShadowConfig

	mu   sync.RWMutex
	coef model.Coefficients
}

// Calibration describes one applied update.
type Calibration struct {
	Error  float64 // measured - estimated, bpm
	Before model.Coefficients
	After  model.Coefficients
}

// New creates an estimator at the configured initial coefficients.
func New(cfg config.ShadowConfig) *Estimator {
	return &Estimator{
		cfg: cfg,
		coef: model.Coefficients{
			Alpha: cfg.Alpha,
			Beta:  cfg.Beta,
			Gamma: cfg.Gamma,
		},
	}
}

// Restore replaces the coefficients with persisted values, clamping any that
// fall outside the configured bounds. A zero value keeps the defaults.
func (e *Estimator) Restore(c model.Coefficients) {
	if c.Alpha == 0 && c.Beta == 0 && c.Gamma == 0 {
		return
	}
	c.Alpha = e.cfg.AlphaBounds.Clamp(c.Alpha)
	c.Beta = e.cfg.BetaBounds.Clamp(c.Beta)
	c.Gamma = e.cfg.GammaBounds.Clamp(c.Gamma)
	e.mu.Lock()
	e.coef = c
	e.mu.Unlock()
}

// Coefficients returns a copy of the current coefficients.
func (e *Estimator) Coefficients() model.Coefficients {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.coef
}

// Estimate predicts the heart rate at "at":
//
//	hr = rhr + awake_offset + α·apm + β·pointer_rate + γ·hours_awake
//
// clamped to the configured physiological range. Non-finite or negative
// inputs are treated as zero.
func (e *Estimator) Estimate(restingHR float64, s model.ActivitySample, hoursAwake float64, at time.Time) model.HeartRateSample {
	f := model.Features{
		APM:         nonNegative(s.APM),
		PointerRate: nonNegative(s.PointerRate),
		HoursAwake:  nonNegative(hoursAwake),
	}
	c := e.Coefficients()

	hr := nonNegative(restingHR) + e.cfg.AwakeOffset +
		c.Alpha*f.APM + c.Beta*f.PointerRate + c.Gamma*f.HoursAwake

	return model.HeartRateSample{
		Timestamp:  at,
		BPM:        e.cfg.HRBounds.Clamp(hr),
		Provenance: model.Estimated,
		Features:   &f,
	}
}

// Calibrate nudges each coefficient toward the measured value. The signed
// error is split across coefficients in proportion to each one's
// contribution to the estimate, scaled by the learning rate, and every
// coefficient is clamped back into its bounds afterwards. Samples must be
// within the match tolerance of each other.
func (e *Estimator) Calibrate(estimated, measured model.HeartRateSample) (Calibration, error) {
	if estimated.Provenance != model.Estimated || measured.Provenance != model.Measured {
		return Calibration{}, ErrProvenance
	}
	if estimated.Features == nil {
		return Calibration{}, ErrNoFeatures
	}
	if d := measured.Timestamp.Sub(estimated.Timestamp); d > e.cfg.Tolerance || d < -e.cfg.Tolerance {
		return Calibration{}, ErrNoMatch
	}
	if !finite(measured.BPM) || !finite(estimated.BPM) {
		return Calibration{}, ErrNoMatch
	}

	f := estimated.Features
	errBPM := measured.BPM - estimated.BPM

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.coef
	ca := before.Alpha * f.APM
	cb := before.Beta * f.PointerRate
	cg := before.Gamma * f.HoursAwake
	total := ca + cb + cg

	next := before
	if total > 0 {
		step := e.cfg.LearningRate * errBPM / total
		next.Alpha = e.cfg.AlphaBounds.Clamp(before.Alpha + step*ca)
		next.Beta = e.cfg.BetaBounds.Clamp(before.Beta + step*cb)
		next.Gamma = e.cfg.GammaBounds.Clamp(before.Gamma + step*cg)
	}
	next.LastError = errBPM
	next.Updates++
	next.UpdatedAt = measured.Timestamp
	e.coef = next

	return Calibration{Error: errBPM, Before: before, After: next}, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func nonNegative(v float64) float64 {
	if !finite(v) || v < 0 {
		return 0
	}
	return v
}
