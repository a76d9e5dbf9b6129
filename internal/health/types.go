// Package health defines the canonical data model shared by every component
// of the aggregation engine. All vendor records are normalized into these
// types before they cross a package boundary.
package health

import "time"

// Platform identifies the provenance of a sample.
type Platform string

const (
	PlatformAppleHealthKit Platform = "apple_healthkit"
	PlatformGoogleFit      Platform = "google_fit"
	PlatformHealthConnect  Platform = "health_connect"
	PlatformSamsungHealth  Platform = "samsung_health"
	PlatformGarmin         Platform = "garmin"
	PlatformHuawei         Platform = "huawei"
	PlatformUnknown        Platform = "unknown"
)

// Metric is a requestable capability. Permission requests are scoped to the
// metrics a feature actually needs, never "everything the vendor offers".
type Metric string

const (
	MetricHeartRate            Metric = "heart_rate"
	MetricRestingHeartRate     Metric = "resting_heart_rate"
	MetricHeartRateVariability Metric = "heart_rate_variability"
	MetricSleepAnalysis        Metric = "sleep_analysis"
	MetricSleepStages          Metric = "sleep_stages"
	MetricStressLevel          Metric = "stress_level"
	MetricSteps                Metric = "steps"
	MetricActiveEnergy         Metric = "active_energy"
	MetricActivityLevel        Metric = "activity_level"
)

// AllMetrics returns every requestable metric, in a stable order.
func AllMetrics() []Metric {
	return []Metric{
		MetricHeartRate,
		MetricRestingHeartRate,
		MetricHeartRateVariability,
		MetricSleepAnalysis,
		MetricSleepStages,
		MetricStressLevel,
		MetricSteps,
		MetricActiveEnergy,
		MetricActivityLevel,
	}
}

// SleepStage is the canonical 5-value stage taxonomy. Vendor-specific stage
// codes collapse into this set; anything unrecognized becomes StageUnknown.
type SleepStage string

const (
	StageAwake   SleepStage = "awake"
	StageLight   SleepStage = "light"
	StageDeep    SleepStage = "deep"
	StageREM     SleepStage = "rem"
	StageUnknown SleepStage = "unknown"
)

// HeartRateSample is a single heart-rate reading in beats per minute.
type HeartRateSample struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Source    Platform  `json:"source"`
}

// SleepStageSegment is one contiguous stage interval inside a session.
// End must be after Start; segments violating that are dropped during
// normalization rather than surfaced.
type SleepStageSegment struct {
	Start time.Time  `json:"start"`
	End   time.Time  `json:"end"`
	Stage SleepStage `json:"stage"`
}

// Duration returns the segment length.
func (s SleepStageSegment) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// SleepMetadata carries aggregates derived during normalization. Vendors
// rarely report these directly; the normalizer computes them when the
// underlying samples exist and leaves them nil otherwise.
type SleepMetadata struct {
	AvgHeartRate    *float64       `json:"avg_heart_rate,omitempty"`
	MinHeartRate    *float64       `json:"min_heart_rate,omitempty"`
	MaxHeartRate    *float64       `json:"max_heart_rate,omitempty"`
	BodyTemperature *float64       `json:"body_temperature,omitempty"`
	StageMinutes    map[string]int `json:"stage_minutes,omitempty"`
}

// SleepSession is one normalized sleep record.
//
// DurationMinutes always equals round((EndTime-StartTime)/1min); use
// NewSleepSession so the invariant holds. Efficiency is only set when the
// vendor supplied stage data to derive it from; it is never guessed.
type SleepSession struct {
	StartTime       time.Time           `json:"start_time"`
	EndTime         time.Time           `json:"end_time"`
	DurationMinutes int                 `json:"duration_minutes"`
	Efficiency      *float64            `json:"efficiency,omitempty"`
	Stages          []SleepStageSegment `json:"stages,omitempty"`
	Source          Platform            `json:"source"`
	Metadata        *SleepMetadata      `json:"metadata,omitempty"`
}

// NewSleepSession builds a session with the duration derived from the range.
func NewSleepSession(start, end time.Time, source Platform) SleepSession {
	minutes := int(end.Sub(start).Round(time.Minute) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	return SleepSession{
		StartTime:       start,
		EndTime:         end,
		DurationMinutes: minutes,
		Source:          source,
	}
}

// StressLevel is a 0-100 stress estimate. Source is a provenance tag, not
// necessarily a platform: inferred values carry strings like
// "inferred_from_hrv" so consumers can treat them as lower confidence.
type StressLevel struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Stress provenance tags for values the engine derives itself.
const (
	StressSourceHRV      = "inferred_from_hrv"
	StressSourceHRDeltas = "inferred_from_hr_deltas"
)

// ActivitySample is a (typically day-bucketed) activity aggregate.
type ActivitySample struct {
	Steps              *int      `json:"steps,omitempty"`
	ActiveEnergyBurned *float64  `json:"active_energy_burned,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
	Source             Platform  `json:"source"`
}

// StoredConnection is the persisted per-integration connection status.
// "Disconnected" is a state, not removal: records are never deleted.
type StoredConnection struct {
	Connected       bool       `json:"connected"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}
