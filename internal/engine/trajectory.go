package engine

import (
	"time"

	"github.com/anthropic/lifeos/internal/model"
)

// Scenario selects what a forecast assumes about the user's behaviour.
type Scenario string

const (
	// Continue keeps the current activity going.
	Continue Scenario = "continue"
	// Rest assumes the user stops working now.
	Rest Scenario = "rest"
)

// Point is one step of a forecast.
type Point struct {
	At        time.Time `json:"at"`
	Effective float64   `json:"effective"`
	Debt      float64   `json:"debt"`
	Status    string    `json:"status"`
}

// Trajectory holds the threshold crossings of the continue scenario. Zero
// times mean the threshold is not reached within the horizon.
type Trajectory struct {
	BreakAt      time.Time
	ExhaustionAt time.Time
}

// Forecast steps the score forward over the projection horizon.
func (e *Engine) Forecast(in Input, sc Scenario) []Point {
	r := e.resolve(in)
	var current model.ActivitySample
	if n := len(in.Activity); n > 0 {
		current = in.Activity[n-1]
	}
	boost := e.Boost(in.Activity, r.readiness)
	eff := e.Efficiency(in.Now, r.hr, r.restingHR)
	if sc == Rest {
		boost = 0
		current = model.ActivitySample{State: model.StateIdle}
	}

	var out []Point
	e.walk(r, boost, eff, current, func(t time.Duration, score, debt float64) bool {
		out = append(out, Point{
			At:        in.Now.Add(t),
			Effective: score,
			Debt:      debt,
			Status:    e.Classify(score),
		})
		return true
	})
	return out
}

func (e *Engine) project(r resolved, boost, eff float64, current model.ActivitySample, now time.Time) Trajectory {
	var tr Trajectory
	e.walk(r, boost, eff, current, func(t time.Duration, score, _ float64) bool {
		if tr.BreakAt.IsZero() && score <= e.cfg.BreakThreshold {
			tr.BreakAt = now.Add(t)
		}
		if score <= e.cfg.ExhaustionThreshold {
			tr.ExhaustionAt = now.Add(t)
			return false
		}
		return true
	})
	return tr
}

// walk calls fn for t = 0, step, 2·step ... horizon until fn returns false.
func (e *Engine) walk(r resolved, boost, eff float64, current model.ActivitySample, fn func(t time.Duration, score, debt float64) bool) {
	step := e.cfg.ProjectionStep
	if step <= 0 {
		return
	}
	debt := r.debt
	for t := time.Duration(0); t <= e.cfg.ProjectionHorizon; t += step {
		if t > 0 {
			debt = e.AdvanceDebt(DebtStep{
				Debt:      debt,
				Boost:     boost,
				Sample:    current,
				Elapsed:   step,
				HeartRate: r.hr,
				RestingHR: r.restingHR,
				Readiness: r.readiness,
				Sleep:     r.sleep,
			})
		}
		base := e.BaseScore(r.readiness, r.sleep, r.hours+t.Hours())
		if !fn(t, e.combine(base, boost, eff, debt), debt) {
			return
		}
	}
}
