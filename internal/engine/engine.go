// Package engine computes the effective cognitive-resource score.
//
// The score is built in four steps: an initial score from the day's
// readiness and sleep, exponential decay over hours awake at a
// readiness-tiered rate, an activity boost scaled by an efficiency factor
// minus accumulated debt, and finally a clamp and a status band. Compute
// never fails: missing or out-of-range inputs fall back to configured
// defaults and are reported through model.DegradedFlags.
package engine

import (
	"math"
	"time"

	"github.com/anthropic/lifeos/internal/config"
	"github.com/anthropic/lifeos/internal/model"
)

// Input is everything one Compute call depends on.
type Input struct {
	Now time.Time
	// Today is the effective date of Now; a baseline for an earlier date is stale.
	Today    string
	Baseline *model.DailyBaseline
	// Activity is the recent sample history, oldest first. The last element
	// is the current window.
	Activity    []model.ActivitySample
	ElapsedWake time.Duration
	// WorkFatigue is extra decay time accrued today from long stretches of
	// continuous work. It is added to ElapsedWake for the decay step.
	WorkFatigue time.Duration
	Debt        float64
	HeartRate   model.HeartRateSample
}

// Engine is safe for concurrent use; its only mutable state is the learned
// chronotype, which carries its own lock.
type Engine struct {
	cfg      config.EngineConfig
	fallback config.BaselineConfig
	chrono   *Chronotype
}

// New creates an engine. fallback is used whenever no baseline is available.
func New(cfg config.EngineConfig, fallback config.BaselineConfig) *Engine {
	return &Engine{
		cfg:      cfg,
		fallback: fallback,
		chrono:   NewChronotype(cfg.Chronotype, cfg.ChronotypeMinObs),
	}
}

// Chronotype exposes the hourly efficiency table so the daemon can feed it
// learned activity profiles.
func (e *Engine) Chronotype() *Chronotype { return e.chrono }

// BaselineOrDefault returns b, or the configured fallback baseline for date
// when b is nil.
func (e *Engine) BaselineOrDefault(b *model.DailyBaseline, date string) model.DailyBaseline {
	if b != nil {
		return *b
	}
	return model.DailyBaseline{
		Date:       date,
		Readiness:  e.fallback.Readiness,
		SleepScore: e.fallback.SleepScore,
		HRVBalance: e.fallback.HRVBalance,
		RestingHR:  e.fallback.RestingHR,
	}
}

// resolved holds sanitised inputs.
type resolved struct {
	readiness float64
	sleep     float64
	restingHR float64
	hours     float64
	debt      float64
	hr        float64
	flags     model.DegradedFlags
}

func (e *Engine) resolve(in Input) resolved {
	var r resolved

	b := in.Baseline
	if b == nil {
		r.flags |= model.BaselineMissing
		r.readiness = float64(e.fallback.Readiness)
		r.sleep = float64(e.fallback.SleepScore)
		r.restingHR = e.fallback.RestingHR
	} else {
		if in.Today != "" && b.Date < in.Today {
			r.flags |= model.BaselineStale
		}
		r.readiness = float64(b.Readiness)
		r.sleep = float64(b.SleepScore)
		r.restingHR = b.RestingHR
	}

	var clamped bool
	r.readiness, clamped = clampFlag(r.readiness, 0, 100)
	r.flags |= flagIf(clamped)
	r.sleep, clamped = clampFlag(r.sleep, 0, 100)
	r.flags |= flagIf(clamped)
	if !finite(r.restingHR) || r.restingHR <= 0 {
		r.restingHR = e.fallback.RestingHR
		r.flags |= model.InputClamped
	}

	r.hours = in.ElapsedWake.Hours()
	if r.hours < 0 {
		r.hours = 0
		r.flags |= model.InputClamped
	}
	if in.WorkFatigue > 0 {
		r.hours += in.WorkFatigue.Hours()
	}
	r.debt, clamped = clampFlag(in.Debt, 0, e.cfg.DebtMax)
	r.flags |= flagIf(clamped)

	r.hr = in.HeartRate.BPM
	if !finite(r.hr) || r.hr <= 0 {
		r.hr = r.restingHR
	}
	if in.HeartRate.Provenance == model.Estimated {
		r.flags |= model.HeartRateEstimated
	}
	if len(in.Activity) == 0 {
		r.flags |= model.TelemetryGap
	}
	return r
}

// Compute returns the snapshot for one tick.
func (e *Engine) Compute(in Input) model.ResourceSnapshot {
	r := e.resolve(in)

	tier := e.Tier(r.readiness)
	base := e.BaseScore(r.readiness, r.sleep, r.hours)

	var current model.ActivitySample
	if n := len(in.Activity); n > 0 {
		current = in.Activity[n-1]
	}
	boost := e.Boost(in.Activity, r.readiness)
	eff := e.Efficiency(in.Now, r.hr, r.restingHR)
	effective := e.combine(base, boost, eff, r.debt)

	snap := model.ResourceSnapshot{
		Timestamp:     in.Now,
		Effective:     effective,
		Base:          base,
		Boost:         boost,
		Debt:          r.debt,
		Efficiency:    eff,
		CognitiveLoad: e.Load(in.Activity),
		ActivityState: current.State,
		Status:        e.Classify(effective),
		Tier:          tier.Name,
		EstimatedHR:   r.hr,
		HREstimated:   in.HeartRate.Provenance != model.Measured,
		Degraded:      r.flags,
	}
	if snap.ActivityState == "" {
		snap.ActivityState = model.StateIdle
	}

	traj := e.project(r, boost, eff, current, in.Now)
	snap.BreakAt = traj.BreakAt
	snap.ExhaustionAt = traj.ExhaustionAt
	return snap
}

// combine applies boost and debt to the base score and clamps the result.
func (e *Engine) combine(base, boost, efficiency, debt float64) float64 {
	v := base + boost*efficiency - debt*e.cfg.DebtPenalty
	if !finite(v) {
		return e.cfg.Floor
	}
	return clamp(v, e.cfg.Floor, e.cfg.Ceiling)
}

// Classify maps an effective score onto the configured status bands.
func (e *Engine) Classify(score float64) string {
	for _, b := range e.cfg.Bands {
		if score >= b.MinScore {
			return b.Name
		}
	}
	return e.cfg.Bands[len(e.cfg.Bands)-1].Name
}

// DayMode is the coarse readiness class the audio collaborator uses to pick
// its break cadence.
func DayMode(readiness int) string {
	switch {
	case readiness >= 85:
		return "high"
	case readiness >= 60:
		return "mid"
	case readiness >= 31:
		return "low"
	default:
		return "critical"
	}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// clampFlag clamps v and reports whether it had to. NaN maps to lo.
func clampFlag(v, lo, hi float64) (float64, bool) {
	if math.IsNaN(v) {
		return lo, true
	}
	c := clamp(v, lo, hi)
	return c, c != v
}

func flagIf(clamped bool) model.DegradedFlags {
	if clamped {
		return model.InputClamped
	}
	return 0
}
