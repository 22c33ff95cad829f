// Package model holds the value types shared by the engine, the estimator and
// the store.
package model

import (
	"strings"
	"time"
)

// DateLayout is the calendar-date format used as the baseline key.
const DateLayout = "2006-01-02"

// ActivityState is the coarse classification of an activity window.
type ActivityState string

const (
	StateIdle    ActivityState = "idle"
	StateActive  ActivityState = "active"
	StateIntense ActivityState = "intense"
)

// Provenance distinguishes measured heart-rate samples from shadow estimates.
type Provenance string

const (
	Measured  Provenance = "measured"
	Estimated Provenance = "estimated"
)

// DailyBaseline is the once-per-day biometric record. A second fetch for the
// same Date replaces the first whole.
type DailyBaseline struct {
	Date         string        `json:"date"`
	Readiness    int           `json:"readiness"`
	SleepScore   int           `json:"sleep_score"`
	HRVBalance   float64       `json:"hrv_balance"`
	RestingHR    float64       `json:"resting_hr"`
	PrimarySleep time.Duration `json:"primary_sleep"`
	WakeTime     time.Time     `json:"wake_time"`
	FetchedAt    time.Time     `json:"fetched_at"`
}

// ActivitySample is one windowed summary of input activity.
type ActivitySample struct {
	Start           time.Time     `json:"start"`
	End             time.Time     `json:"end"`
	APM             float64       `json:"apm"`
	KeyCount        int           `json:"key_count"`
	ClickCount      int           `json:"click_count"`
	ScrollSteps     int           `json:"scroll_steps"`
	BackspaceCount  int           `json:"backspace_count"`
	PointerDistance float64       `json:"pointer_distance"`
	PointerRate     float64       `json:"pointer_rate"` // px/s
	IdleFor         time.Duration `json:"idle_for"`
	State           ActivityState `json:"state"`
}

// CorrectionRate is the share of keystrokes that were backspaces.
func (s ActivitySample) CorrectionRate() float64 {
	if s.KeyCount == 0 {
		return 0
	}
	return float64(s.BackspaceCount) / float64(s.KeyCount)
}

// Features are the estimator inputs a shadow sample was produced from.
type Features struct {
	APM         float64 `json:"apm"`
	PointerRate float64 `json:"pointer_rate"`
	HoursAwake  float64 `json:"hours_awake"`
}

// HeartRateSample is one point of the heart-rate stream. Provenance is fixed
// at creation.
type HeartRateSample struct {
	Timestamp  time.Time  `json:"timestamp"`
	BPM        float64    `json:"bpm"`
	Provenance Provenance `json:"provenance"`
	Features   *Features  `json:"features,omitempty"`
}

// Coefficients is the singleton state of the shadow estimator.
type Coefficients struct {
	Alpha     float64   `json:"alpha"`
	Beta      float64   `json:"beta"`
	Gamma     float64   `json:"gamma"`
	LastError float64   `json:"last_error"`
	Updates   int64     `json:"updates"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DegradedFlags marks which inputs of a snapshot were substituted or clamped.
type DegradedFlags uint32

const (
	BaselineMissing DegradedFlags = 1 << iota
	BaselineStale
	HeartRateEstimated
	InputClamped
	TelemetryGap
)

var flagNames = []struct {
	flag DegradedFlags
	name string
}{
	{BaselineMissing, "baseline_missing"},
	{BaselineStale, "baseline_stale"},
	{HeartRateEstimated, "heartrate_estimated"},
	{InputClamped, "input_clamped"},
	{TelemetryGap, "telemetry_gap"},
}

// Has reports whether f includes flag.
func (f DegradedFlags) Has(flag DegradedFlags) bool { return f&flag != 0 }

// Names lists the set flags.
func (f DegradedFlags) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			out = append(out, fn.name)
		}
	}
	return out
}

func (f DegradedFlags) String() string {
	if f == 0 {
		return "none"
	}
	return strings.Join(f.Names(), ",")
}

// ResourceSnapshot is the per-tick SSOT row.
type ResourceSnapshot struct {
	Timestamp     time.Time     `json:"timestamp"`
	Effective     float64       `json:"effective"`
	Base          float64       `json:"base"`
	Boost         float64       `json:"boost"`
	Debt          float64       `json:"debt"`
	Efficiency    float64       `json:"efficiency"`
	CognitiveLoad float64       `json:"cognitive_load"`
	ActivityState ActivityState `json:"activity_state"`
	Status        string        `json:"status"`
	Tier          string        `json:"tier"`
	EstimatedHR   float64       `json:"estimated_hr"`
	HREstimated   bool          `json:"hr_estimated"`
	Degraded      DegradedFlags `json:"degraded"`
	BreakAt       time.Time     `json:"break_at,omitempty"`
	ExhaustionAt  time.Time     `json:"exhaustion_at,omitempty"`
}

// DailySummary is the long-horizon aggregate of one day of rolling data.
type DailySummary struct {
	Date          string  `json:"date"`
	Ticks         int64   `json:"ticks"`
	MeanEffective float64 `json:"mean_effective"`
	MinEffective  float64 `json:"min_effective"`
	MaxEffective  float64 `json:"max_effective"`
	MeanLoad      float64 `json:"mean_load"`
	ActiveMinutes float64 `json:"active_minutes"`
	MeanAPM       float64 `json:"mean_apm"`
	MeanHR        float64 `json:"mean_hr"`
	MeasuredHR    int64   `json:"measured_hr"`
	EstimatedHR   int64   `json:"estimated_hr"`
	FinalDebt     float64 `json:"final_debt"`
}

// WeeklySummary rolls daily summaries up to ISO weeks.
type WeeklySummary struct {
	Week          string  `json:"week"` // 2006-W01
	Days          int     `json:"days"`
	MeanEffective float64 `json:"mean_effective"`
	ActiveMinutes float64 `json:"active_minutes"`
	MeanHR        float64 `json:"mean_hr"`
}

// EffectiveDate returns the calendar day t belongs to when days roll over at
// boundaryHour local time instead of midnight.
func EffectiveDate(t time.Time, boundaryHour int) string {
	return t.Add(-time.Duration(boundaryHour) * time.Hour).Format(DateLayout)
}

// HourlyActivity is the observed mean APM for one local hour of the day.
type HourlyActivity struct {
	Hour    int     `json:"hour"`
	MeanAPM float64 `json:"mean_apm"`
	Samples int     `json:"samples"`
}

// ProcessInfo identifies the daemon instance holding the process lock.
type ProcessInfo struct {
	PID       int       `json:"pid"`
	Instance  string    `json:"instance"`
	Started   time.Time `json:"started"`
	Heartbeat time.Time `json:"heartbeat"`
}
