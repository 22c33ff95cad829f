package engine

import (
	"math"
	"time"

	"github.com/anthropic/lifeos/internal/config"
)

// Tier picks the decay tier for a readiness score. Tiers are ordered by
// descending threshold and the last one catches everything below.
func (e *Engine) Tier(readiness float64) config.DecayTier {
	for _, t := range e.cfg.DecayTiers {
		if readiness >= t.MinReadiness {
			return t
		}
	}
	return e.cfg.DecayTiers[len(e.cfg.DecayTiers)-1]
}

// DecayRate is the hourly rate for the tier, adjusted for last night's sleep.
func (e *Engine) DecayRate(readiness, sleep float64) float64 {
	rate := e.Tier(readiness).Rate
	switch {
	case sleep < e.cfg.PoorSleepBelow:
		rate *= e.cfg.PoorSleepMult
	case sleep > e.cfg.GoodSleepAbove:
		rate *= e.cfg.GoodSleepMult
	}
	return rate
}

// InitialScore is the weighted readiness/sleep combination at wake.
func (e *Engine) InitialScore(readiness, sleep float64) float64 {
	return e.cfg.ReadinessWeight*readiness + e.cfg.SleepWeight*sleep
}

// BaseScore decays the initial score over hours awake.
func (e *Engine) BaseScore(readiness, sleep, hoursAwake float64) float64 {
	if hoursAwake < 0 || !finite(hoursAwake) {
		hoursAwake = 0
	}
	return e.InitialScore(readiness, sleep) * math.Exp(-e.DecayRate(readiness, sleep)*hoursAwake)
}

// WorkDecayMult is the decay multiplier after work has run continuously for
// work: the multiplier of the last step reached, or 1.
func (e *Engine) WorkDecayMult(work time.Duration) float64 {
	mult := 1.0
	for _, step := range e.cfg.WorkDecay {
		if work < step.After {
			break
		}
		mult = step.Mult
	}
	return mult
}

// WorkFatigue is the extra decay time one interval of continuous work adds
// on top of the hours awake.
func (e *Engine) WorkFatigue(work, elapsed time.Duration) time.Duration {
	if elapsed <= 0 {
		return 0
	}
	return time.Duration(float64(elapsed) * (e.WorkDecayMult(work) - 1))
}
