package engine

import (
	"math"
	"time"

	"github.com/anthropic/lifeos/internal/model"
)

const (
	// apmSaturation and pointerSaturation (px/min) are the rates at which
	// each input channel alone would saturate intensity.
	apmSaturation     = 100.0
	pointerSaturation = 5000.0

	// loadGain maps intensity onto cognitive load so sustained typing at
	// two thirds of saturation reads as full load.
	loadGain = 1.5
)

// Intensity is the normalized interaction intensity of a sample in [0,1].
func Intensity(s model.ActivitySample) float64 {
	apm := s.APM
	ptr := s.PointerRate * 60
	if !finite(apm) || apm < 0 {
		apm = 0
	}
	if !finite(ptr) || ptr < 0 {
		ptr = 0
	}
	return math.Min(1, (apm/apmSaturation+ptr/pointerSaturation)/2)
}

func (e *Engine) stateWeight(st model.ActivityState) float64 {
	switch st {
	case model.StateIntense:
		return e.cfg.BoostIntenseMul
	case model.StateActive:
		return 1
	default:
		return 0
	}
}

// capacity is how much of the day's boost the body can afford; it reaches
// zero at readiness 40.
func capacity(readiness float64) float64 {
	return math.Max(0, (readiness-40)/60)
}

// correction discounts work that is mostly being undone.
func correction(s model.ActivitySample) float64 {
	return clamp(1-2*s.CorrectionRate(), 0.5, 1)
}

// Boost is the activity-driven bonus over the recent history. Idle history
// yields zero.
func (e *Engine) Boost(history []model.ActivitySample, readiness float64) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, s := range history {
		sum += Intensity(s) * e.stateWeight(s.State)
	}
	mean := sum / float64(len(history))
	current := history[len(history)-1]
	return mean * capacity(readiness) * e.cfg.BoostScale * correction(current)
}

// Load is the smoothed cognitive load in [0,100]. Only active windows
// contribute.
func (e *Engine) Load(history []model.ActivitySample) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, s := range history {
		if s.State == model.StateIdle || s.State == "" {
			continue
		}
		sum += math.Min(1, Intensity(s)*loadGain)
	}
	return 100 * sum / float64(len(history))
}

// Efficiency combines the chronotype factor for the local hour with a
// penalty for heart rate elevated beyond normal awake levels.
func (e *Engine) Efficiency(now time.Time, hr, restingHR float64) float64 {
	f := e.chrono.Factor(now.Hour())
	if restingHR > 0 && finite(hr) {
		dev := math.Max(0, hr/restingHR-e.cfg.HRNormalRatio)
		f *= 1 - e.cfg.HRDeviationGain*dev
	}
	if !finite(f) {
		f = 1
	}
	return clamp(f, e.cfg.EfficiencyMin, e.cfg.EfficiencyMax)
}
