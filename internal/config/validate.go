package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Validate range-checks every tunable. All violations are reported together
// in one error wrapping ErrInvalidConfig.
func (c *Config) Validate() error {
	v := &validator{}

	v.require(c.DataDir != "", "data_dir must not be empty")
	v.require(c.DBPath != "", "db_path must not be empty")
	v.require(c.SocketPath != "", "socket_path must not be empty")
	v.require(c.LockPath != "", "lock_path must not be empty")

	d := c.Daemon
	v.positive("daemon.tick_interval", d.TickInterval)
	v.positive("daemon.write_timeout", d.WriteTimeout)
	v.require(d.WriteTimeout < d.TickInterval || d.TickInterval == 0,
		"daemon.write_timeout (%s) must be shorter than daemon.tick_interval (%s)", d.WriteTimeout, d.TickInterval)
	v.positive("daemon.heartbeat_interval", d.HeartbeatInterval)
	v.require(d.StaleAfterIntervals >= 2, "daemon.stale_after_intervals must be >= 2, got %d", d.StaleAfterIntervals)
	v.positive("daemon.maintenance_interval", d.MaintenanceInterval)
	v.positive("daemon.shutdown_timeout", d.ShutdownTimeout)
	v.require(d.DayBoundaryHour >= 0 && d.DayBoundaryHour < 24, "daemon.day_boundary_hour must be in [0,23], got %d", d.DayBoundaryHour)

	t := c.Telemetry
	v.require(t.Window >= time.Second, "telemetry.window must be at least 1s, got %s", t.Window)
	v.require(t.Window%time.Second == 0, "telemetry.window must be a whole number of seconds, got %s", t.Window)
	v.require(t.QueueSize > 0, "telemetry.queue_size must be positive, got %d", t.QueueSize)
	v.require(t.IdleThreshold >= 0, "telemetry.idle_threshold must be >= 0")
	v.require(t.IntenseThreshold > t.IdleThreshold,
		"telemetry.intense_threshold (%g) must exceed telemetry.idle_threshold (%g)", t.IntenseThreshold, t.IdleThreshold)
	v.require(t.PointerActiveDistance >= 0, "telemetry.pointer_active_distance must be >= 0")
	v.require(t.ScrollActiveSteps >= 0, "telemetry.scroll_active_steps must be >= 0")
	v.positive("telemetry.rest_after", t.RestAfter)
	v.positive("telemetry.poll_interval", t.PollInterval)

	b := c.Biometric
	v.require(b.Provider == "oura" || b.Provider == "static", "biometric.provider must be oura or static, got %q", b.Provider)
	if b.Provider == "oura" {
		v.require(b.BaseURL != "", "biometric.base_url must not be empty")
		v.require(b.Token != "", "biometric.token must be set for the oura provider")
	}
	v.positive("biometric.request_timeout", b.RequestTimeout)
	v.positive("biometric.poll_interval", b.PollInterval)
	v.positive("biometric.heartrate_window", b.HeartRateWindow)
	v.positive("biometric.retry_min", b.RetryMin)
	v.require(b.RetryMax >= b.RetryMin, "biometric.retry_max must be >= biometric.retry_min")
	v.positive("biometric.stale_after", b.StaleAfter)
	v.score("biometric.default.readiness", float64(b.Default.Readiness))
	v.score("biometric.default.sleep_score", float64(b.Default.SleepScore))
	v.require(b.Default.RestingHR >= 30 && b.Default.RestingHR <= 120,
		"biometric.default.resting_hr must be in [30,120], got %g", b.Default.RestingHR)
	v.require(b.Default.WakeHour >= 0 && b.Default.WakeHour < 24, "biometric.default.wake_hour must be in [0,23]")

	s := c.Shadow
	v.require(s.AwakeOffset >= 0, "shadow.awake_offset must be >= 0")
	v.bounds("shadow.alpha_bounds", s.AlphaBounds, true)
	v.bounds("shadow.beta_bounds", s.BetaBounds, true)
	v.bounds("shadow.gamma_bounds", s.GammaBounds, true)
	v.require(s.AlphaBounds.Contains(s.Alpha), "shadow.alpha %g outside alpha_bounds", s.Alpha)
	v.require(s.BetaBounds.Contains(s.Beta), "shadow.beta %g outside beta_bounds", s.Beta)
	v.require(s.GammaBounds.Contains(s.Gamma), "shadow.gamma %g outside gamma_bounds", s.Gamma)
	v.require(s.LearningRate > 0 && s.LearningRate < 1, "shadow.learning_rate must be in (0,1), got %g", s.LearningRate)
	v.positive("shadow.tolerance", s.Tolerance)
	v.bounds("shadow.hr_bounds", s.HRBounds, true)
	v.positive("shadow.persist_interval", s.PersistInterval)
	v.require(s.PersistInterval < 2*s.Tolerance,
		"shadow.persist_interval (%s) must be shorter than twice shadow.tolerance (%s)", s.PersistInterval, s.Tolerance)
	v.require(s.CalibrationsPerTick > 0, "shadow.calibrations_per_tick must be positive")

	e := c.Engine
	v.require(e.ReadinessWeight >= 0 && e.SleepWeight >= 0, "engine weights must be >= 0")
	v.require(math.Abs(e.ReadinessWeight+e.SleepWeight-1) < 1e-9,
		"engine.readiness_weight + engine.sleep_weight must equal 1, got %g", e.ReadinessWeight+e.SleepWeight)
	v.require(len(e.DecayTiers) > 0, "engine.decay_tiers must not be empty")
	for i, tier := range e.DecayTiers {
		v.require(tier.Name != "", "engine.decay_tiers[%d].name must not be empty", i)
		v.require(tier.Rate >= 0, "engine.decay_tiers[%d].rate must be >= 0", i)
		v.score(fmt.Sprintf("engine.decay_tiers[%d].min_readiness", i), tier.MinReadiness)
		if i > 0 {
			v.require(tier.MinReadiness < e.DecayTiers[i-1].MinReadiness,
				"engine.decay_tiers must be ordered by descending min_readiness")
		}
	}
	v.require(e.PoorSleepMult > 0 && e.GoodSleepMult > 0, "engine sleep multipliers must be positive")
	for i, step := range e.WorkDecay {
		v.positive(fmt.Sprintf("engine.work_decay[%d].after", i), step.After)
		v.require(step.Mult >= 1, "engine.work_decay[%d].mult must be >= 1, got %g", i, step.Mult)
		if i > 0 {
			v.require(step.After > e.WorkDecay[i-1].After,
				"engine.work_decay must be ordered by ascending after")
		}
	}
	v.require(e.BoostScale >= 0, "engine.boost_scale must be >= 0")
	v.require(e.BoostIntenseMul >= 1, "engine.boost_intense_mul must be >= 1")
	v.require(e.HRDeviationGain >= 0, "engine.hr_deviation_gain must be >= 0")
	v.require(e.HRNormalRatio >= 1 && e.HRNormalRatio <= 2,
		"engine.hr_normal_ratio must be in [1,2], got %g", e.HRNormalRatio)
	v.require(e.EfficiencyMin > 0 && e.EfficiencyMin <= e.EfficiencyMax,
		"engine efficiency bounds invalid: [%g,%g]", e.EfficiencyMin, e.EfficiencyMax)
	v.require(e.EfficiencyMin >= 0.5 && e.EfficiencyMax <= 1.5,
		"engine efficiency bounds must lie within [0.5,1.5], got [%g,%g]", e.EfficiencyMin, e.EfficiencyMax)
	v.require(len(e.Chronotype) == 24, "engine.chronotype must have 24 entries, got %d", len(e.Chronotype))
	v.require(e.ChronotypeMinObs > 0, "engine.chronotype_min_obs must be positive")
	v.require(e.DebtPenalty >= 0, "engine.debt_penalty must be >= 0")
	v.require(e.DebtMax > 0, "engine.debt_max must be positive")
	v.require(e.DebtAccrualRate >= 0 && e.DebtRepayRate >= 0, "engine debt rates must be >= 0")
	v.require(e.Floor >= 0 && e.Floor < e.Ceiling && e.Ceiling <= 100,
		"engine clamp must satisfy 0 <= floor < ceiling <= 100, got [%g,%g]", e.Floor, e.Ceiling)
	v.require(len(e.Bands) > 0, "engine.bands must not be empty")
	for i, band := range e.Bands {
		v.require(band.Name != "", "engine.bands[%d].name must not be empty", i)
		if i > 0 {
			v.require(band.MinScore < e.Bands[i-1].MinScore, "engine.bands must be ordered by descending min_score")
		}
	}
	v.require(e.ExhaustionThreshold <= e.BreakThreshold, "engine.exhaustion_threshold must not exceed break_threshold")
	v.positive("engine.projection_step", e.ProjectionStep)
	v.require(e.ProjectionHorizon >= e.ProjectionStep, "engine.projection_horizon must be >= projection_step")

	v.require(c.Storage.RollingRetention >= 24*time.Hour, "storage.rolling_retention must be at least 24h, got %s", c.Storage.RollingRetention)
	v.positive("storage.busy_timeout", c.Storage.BusyTimeout)

	return v.err()
}

type validator struct {
	problems []string
}

func (v *validator) require(ok bool, format string, args ...interface{}) {
	if !ok {
		v.problems = append(v.problems, fmt.Sprintf(format, args...))
	}
}

func (v *validator) positive(name string, d time.Duration) {
	v.require(d > 0, "%s must be positive, got %s", name, d)
}

func (v *validator) score(name string, x float64) {
	v.require(x >= 0 && x <= 100, "%s must be in [0,100], got %g", name, x)
}

func (v *validator) bounds(name string, b Bounds, positive bool) {
	v.require(b.Min <= b.Max, "%s: min %g exceeds max %g", name, b.Min, b.Max)
	if positive {
		v.require(b.Min > 0, "%s: min must be positive, got %g", name, b.Min)
	}
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(v.problems, "; "))
}

// IsInvalid reports whether err is a configuration validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
