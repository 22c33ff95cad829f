package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all daemon configuration. Every tunable the daemon uses is
// enumerated here and range-checked by Validate before the first tick.
type Config struct {
	DataDir     string `koanf:"data_dir"`
	SocketPath  string `koanf:"socket_path"`
	DBPath      string `koanf:"db_path"`
	LockPath    string `koanf:"lock_path"`
	MetricsAddr string `koanf:"metrics_addr"`

	Log       LogConfig       `koanf:"log"`
	Daemon    DaemonConfig    `koanf:"daemon"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Biometric BiometricConfig `koanf:"biometric"`
	Shadow    ShadowConfig    `koanf:"shadow"`
	Engine    EngineConfig    `koanf:"engine"`
	Storage   StorageConfig   `koanf:"storage"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DaemonConfig controls the tick scheduler and process lock.
type DaemonConfig struct {
	TickInterval        time.Duration `koanf:"tick_interval"`
	WriteTimeout        time.Duration `koanf:"write_timeout"`
	HeartbeatInterval   time.Duration `koanf:"heartbeat_interval"`
	StaleAfterIntervals int           `koanf:"stale_after_intervals"`
	MaintenanceInterval time.Duration `koanf:"maintenance_interval"`
	ShutdownTimeout     time.Duration `koanf:"shutdown_timeout"`
	// DayBoundaryHour is the local hour at which a new "day" starts for
	// baselines and summaries (sleep past midnight still counts as yesterday).
	DayBoundaryHour int `koanf:"day_boundary_hour"`
}

// TelemetryConfig controls the activity aggregator and its input feeds.
type TelemetryConfig struct {
	Window    time.Duration `koanf:"window"`
	QueueSize int           `koanf:"queue_size"`
	// IdleThreshold (T1) and IntenseThreshold (T2) are in actions per minute.
	IdleThreshold    float64 `koanf:"idle_threshold"`
	IntenseThreshold float64 `koanf:"intense_threshold"`
	// PointerActiveDistance lifts an idle window to active when the pointer
	// travelled at least this many pixels per minute.
	PointerActiveDistance float64       `koanf:"pointer_active_distance"`
	ScrollActiveSteps     int           `koanf:"scroll_active_steps"`
	RestAfter             time.Duration `koanf:"rest_after"`
	SpoolDir              string        `koanf:"spool_dir"`
	SpoolPattern          string        `koanf:"spool_pattern"`
	PollInterval          time.Duration `koanf:"poll_interval"`
}

// BiometricConfig controls the upstream provider and its poller.
type BiometricConfig struct {
	Provider        string        `koanf:"provider"` // oura or static
	BaseURL         string        `koanf:"base_url"`
	Token           string        `koanf:"token"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	PollInterval    time.Duration `koanf:"poll_interval"`
	HeartRateWindow time.Duration `koanf:"heartrate_window"`
	RetryMin        time.Duration `koanf:"retry_min"`
	RetryMax        time.Duration `koanf:"retry_max"`
	RetryAttempts   uint64        `koanf:"retry_attempts"`
	// StaleAfter is how long a measured heart-rate sample is preferred over
	// the shadow estimate.
	StaleAfter time.Duration `koanf:"stale_after"`
	Default    BaselineConfig `koanf:"default"`
}

// BaselineConfig is the fallback baseline used when no fetch has succeeded.
type BaselineConfig struct {
	Readiness  int     `koanf:"readiness"`
	SleepScore int     `koanf:"sleep_score"`
	RestingHR  float64 `koanf:"resting_hr"`
	HRVBalance float64 `koanf:"hrv_balance"`
	WakeHour   int     `koanf:"wake_hour"`
}

// Bounds is an inclusive [Min, Max] range for a single coefficient.
type Bounds struct {
	Min float64 `koanf:"min"`
	Max float64 `koanf:"max"`
}

// Clamp limits v to the bounds.
func (b Bounds) Clamp(v float64) float64 {
	if v < b.Min {
		return b.Min
	}
	if v > b.Max {
		return b.Max
	}
	return v
}

// Contains reports whether v lies inside the bounds.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// ShadowConfig parameterises the heart-rate estimator.
type ShadowConfig struct {
	AwakeOffset  float64       `koanf:"awake_offset"`
	Alpha        float64       `koanf:"alpha"`
	Beta         float64       `koanf:"beta"`
	Gamma        float64       `koanf:"gamma"`
	AlphaBounds  Bounds        `koanf:"alpha_bounds"`
	BetaBounds   Bounds        `koanf:"beta_bounds"`
	GammaBounds  Bounds        `koanf:"gamma_bounds"`
	LearningRate float64       `koanf:"learning_rate"`
	Tolerance    time.Duration `koanf:"tolerance"`
	HRBounds     Bounds        `koanf:"hr_bounds"`
	// PersistInterval is how often an estimate is written to the heart-rate
	// stream; it must stay below twice Tolerance so every measured sample
	// can find a partner.
	PersistInterval     time.Duration `koanf:"persist_interval"`
	CalibrationsPerTick int           `koanf:"calibrations_per_tick"`
}

// DecayTier maps a readiness threshold to an hourly decay rate.
type DecayTier struct {
	Name         string  `koanf:"name"`
	MinReadiness float64 `koanf:"min_readiness"`
	Rate         float64 `koanf:"rate"`
}

// WorkDecayStep speeds decay once continuous work has lasted After.
type WorkDecayStep struct {
	After time.Duration `koanf:"after"`
	Mult  float64       `koanf:"mult"`
}

// Band maps a minimum effective score to a status label.
type Band struct {
	Name     string  `koanf:"name"`
	MinScore float64 `koanf:"min_score"`
}

// EngineConfig parameterises the resource engine.
type EngineConfig struct {
	ReadinessWeight float64 `koanf:"readiness_weight"`
	SleepWeight     float64 `koanf:"sleep_weight"`

	// DecayTiers are ordered from the highest readiness threshold down; the
	// last tier is the catch-all.
	DecayTiers     []DecayTier `koanf:"decay_tiers"`
	PoorSleepBelow float64     `koanf:"poor_sleep_below"`
	PoorSleepMult  float64     `koanf:"poor_sleep_mult"`
	GoodSleepAbove float64     `koanf:"good_sleep_above"`
	GoodSleepMult  float64     `koanf:"good_sleep_mult"`

	// WorkDecay is ordered by ascending After. Empty leaves the decay rate
	// unchanged however long work runs.
	WorkDecay []WorkDecayStep `koanf:"work_decay"`

	BoostScale      float64 `koanf:"boost_scale"`
	BoostIntenseMul float64 `koanf:"boost_intense_mul"`
	HRDeviationGain float64 `koanf:"hr_deviation_gain"`
	EfficiencyMin   float64 `koanf:"efficiency_min"`
	EfficiencyMax   float64 `koanf:"efficiency_max"`

	// HRNormalRatio is the heart rate to resting ratio still considered
	// normal while awake; only the excess costs efficiency.
	HRNormalRatio float64 `koanf:"hr_normal_ratio"`

	// Chronotype is a 24-entry table of hourly efficiency factors.
	Chronotype       []float64 `koanf:"chronotype"`
	ChronotypeMinObs int       `koanf:"chronotype_min_obs"`

	DebtPenalty     float64 `koanf:"debt_penalty"`
	DebtMax         float64 `koanf:"debt_max"`
	DebtBoostFloor  float64 `koanf:"debt_boost_floor"`
	DebtAccrualRate float64 `koanf:"debt_accrual_rate"`
	DebtRepayRate   float64 `koanf:"debt_repay_rate"`

	Floor   float64 `koanf:"floor"`
	Ceiling float64 `koanf:"ceiling"`
	// Bands are ordered from best to worst; the last band is the catch-all.
	Bands []Band `koanf:"bands"`

	BreakThreshold      float64       `koanf:"break_threshold"`
	ExhaustionThreshold float64       `koanf:"exhaustion_threshold"`
	ProjectionHorizon   time.Duration `koanf:"projection_horizon"`
	ProjectionStep      time.Duration `koanf:"projection_step"`
}

// StorageConfig controls retention of the tiered store.
type StorageConfig struct {
	RollingRetention time.Duration `koanf:"rolling_retention"`
	BusyTimeout      time.Duration `koanf:"busy_timeout"`
}

// DefaultDataDir returns the default data directory (~/.lifeos).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".lifeos")
}

// DefaultChronotype is the built-in circadian efficiency table, indexed by
// local hour.
func DefaultChronotype() []float64 {
	return []float64{
		0.6, 0.5, 0.4, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.1, 1.2, 1.3,
		1.1, 0.9, 0.8, 0.85, 0.95, 1.1, 1.2, 1.15, 1.0, 0.9, 0.8, 0.7,
	}
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		DataDir:    dataDir,
		SocketPath: filepath.Join(dataDir, "lifeosd.sock"),
		DBPath:     filepath.Join(dataDir, "lifeos.db"),
		LockPath:   filepath.Join(dataDir, "lifeosd.lock"),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Daemon: DaemonConfig{
			TickInterval:        time.Second,
			WriteTimeout:        500 * time.Millisecond,
			HeartbeatInterval:   time.Second,
			StaleAfterIntervals: 10,
			MaintenanceInterval: 10 * time.Minute,
			ShutdownTimeout:     5 * time.Second,
			DayBoundaryHour:     4,
		},
		Telemetry: TelemetryConfig{
			Window:                60 * time.Second,
			QueueSize:             4096,
			IdleThreshold:         5,
			IntenseThreshold:      60,
			PointerActiveDistance: 100,
			ScrollActiveSteps:     3,
			RestAfter:             5 * time.Minute,
			SpoolDir:              filepath.Join(dataDir, "spool"),
			SpoolPattern:          "*.ndjson",
			PollInterval:          500 * time.Millisecond,
		},
		Biometric: BiometricConfig{
			Provider:        "static",
			BaseURL:         "https://api.ouraring.com/v2/usercollection",
			RequestTimeout:  15 * time.Second,
			PollInterval:    time.Hour,
			HeartRateWindow: 24 * time.Hour,
			RetryMin:        2 * time.Second,
			RetryMax:        2 * time.Minute,
			RetryAttempts:   5,
			StaleAfter:      5 * time.Minute,
			Default: BaselineConfig{
				Readiness:  70,
				SleepScore: 70,
				RestingHR:  60,
				WakeHour:   7,
			},
		},
		Shadow: ShadowConfig{
			AwakeOffset:  15,
			Alpha:        0.10,
			Beta:         0.02,
			Gamma:        0.05,
			AlphaBounds:  Bounds{Min: 0.01, Max: 0.5},
			BetaBounds:   Bounds{Min: 0.001, Max: 0.1},
			GammaBounds:  Bounds{Min: 0.01, Max: 0.2},
			LearningRate: 0.001,
			Tolerance:    2 * time.Minute,
			HRBounds:     Bounds{Min: 45, Max: 180},

			PersistInterval:     time.Minute,
			CalibrationsPerTick: 4,
		},
		Engine: EngineConfig{
			ReadinessWeight: 0.7,
			SleepWeight:     0.3,
			DecayTiers: []DecayTier{
				{Name: "optimal", MinReadiness: 85, Rate: 0.04},
				{Name: "good", MinReadiness: 60, Rate: 0.07},
				{Name: "low", MinReadiness: 40, Rate: 0.12},
				{Name: "critical", MinReadiness: 0, Rate: 0.18},
			},
			PoorSleepBelow:   70,
			PoorSleepMult:    1.2,
			GoodSleepAbove:   85,
			GoodSleepMult:    0.9,
			BoostScale:       50,
			BoostIntenseMul:  1.2,
			HRDeviationGain:  1.0,
			HRNormalRatio:    1.25,
			EfficiencyMin:    0.5,
			EfficiencyMax:    1.5,
			Chronotype:       DefaultChronotype(),
			ChronotypeMinObs: 48,
			DebtPenalty:      3.0,
			DebtMax:          10,
			DebtBoostFloor:   5,
			DebtAccrualRate:  0.001,
			DebtRepayRate:    0.002,
			Floor:            10,
			Ceiling:          100,
			Bands: []Band{
				{Name: "optimal", MinScore: 80},
				{Name: "good", MinScore: 60},
				{Name: "moderate", MinScore: 40},
				{Name: "low", MinScore: 25},
				{Name: "critical", MinScore: 0},
			},
			BreakThreshold:      20,
			ExhaustionThreshold: 10,
			ProjectionHorizon:   4 * time.Hour,
			ProjectionStep:      5 * time.Minute,
		},
		Storage: StorageConfig{
			RollingRetention: 7 * 24 * time.Hour,
			BusyTimeout:      5 * time.Second,
		},
	}
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// ConfigPath returns the config file path: $LIFEOS_CONFIG when set,
// otherwise config.yaml in the default data directory.
func ConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(DefaultDataDir(), "config.yaml")
}
