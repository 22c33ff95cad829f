package engine

import (
	"math"
	"time"

	"github.com/anthropic/lifeos/internal/model"
)

// DebtStep is what one debt update depends on.
type DebtStep struct {
	Debt      float64
	Boost     float64
	Sample    model.ActivitySample
	Elapsed   time.Duration
	HeartRate float64
	RestingHR float64
	Readiness float64
	Sleep     float64
	// RestAfter is how long input must have stopped before an idle window
	// counts as rest. Shorter pauses neither accrue nor repay debt.
	RestAfter time.Duration
}

// hrStrain scales accrual up and recovery down when heart rate runs above
// resting.
func hrStrain(hr, rhr float64) float64 {
	if rhr <= 0 || !finite(hr) || hr <= 0 {
		return 1
	}
	return clamp(1+(hr/rhr-1)*2, 1, 3)
}

// Resting reports whether a sample counts as rest for debt repayment.
func (e *Engine) Resting(s model.ActivitySample, restAfter time.Duration) bool {
	idle := s.State == model.StateIdle || s.State == ""
	return idle && s.IdleFor >= restAfter
}

// AdvanceDebt returns the debt after one interval. Debt only grows while the
// boost exceeds the configured floor and only shrinks while resting, so it
// is non-decreasing outside rest. The result is clamped to [0, DebtMax].
func (e *Engine) AdvanceDebt(st DebtStep) float64 {
	debt := st.Debt
	if !finite(debt) {
		debt = 0
	}
	dt := st.Elapsed.Seconds()
	if dt <= 0 || !finite(dt) {
		return clamp(debt, 0, e.cfg.DebtMax)
	}
	strain := hrStrain(st.HeartRate, st.RestingHR)

	switch {
	case e.Resting(st.Sample, st.RestAfter):
		recovery := clamp(st.Readiness/80, 0, 1.25) * clamp(st.Sleep/75, 0, 1.33)
		debt -= e.cfg.DebtRepayRate * recovery * dt / strain
	case st.Boost > e.cfg.DebtBoostFloor:
		debt += st.Boost * e.cfg.DebtAccrualRate * dt * strain / 60
	}
	return clamp(math.Max(0, debt), 0, e.cfg.DebtMax)
}
