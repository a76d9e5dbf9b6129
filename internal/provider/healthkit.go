package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

// HealthKit quantity/category type identifiers the provider reads.
const (
	hkTypeHeartRate        = "HKQuantityTypeIdentifierHeartRate"
	hkTypeRestingHeartRate = "HKQuantityTypeIdentifierRestingHeartRate"
	hkTypeHRVSDNN          = "HKQuantityTypeIdentifierHeartRateVariabilitySDNN"
	hkTypeStepCount        = "HKQuantityTypeIdentifierStepCount"
	hkTypeActiveEnergy     = "HKQuantityTypeIdentifierActiveEnergyBurned"
	hkTypeSleepAnalysis    = "HKCategoryTypeIdentifierSleepAnalysis"
)

// HealthKit sleep-analysis category values.
const (
	hkSleepInBed = iota
	hkSleepAsleepUnspecified
	hkSleepAwake
	hkSleepAsleepCore
	hkSleepAsleepDeep
	hkSleepAsleepREM
)

// hkSessionGap is the largest gap between consecutive sleep segments that
// still counts as the same session. HealthKit returns loose segments, not
// session records.
const hkSessionGap = 30 * time.Minute

// HKQuantitySample is one quantity reading from the native binding.
type HKQuantitySample struct {
	Type      string    `json:"type"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// HKCategorySample is one category reading (sleep analysis) from the
// native binding.
type HKCategorySample struct {
	Type      string    `json:"type"`
	Value     int       `json:"value"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// HealthKitBridge is the native HealthKit binding. Out of scope here: its
// calls are assumed correct and consumed as-is.
type HealthKitBridge interface {
	IsHealthDataAvailable(ctx context.Context) (bool, error)
	RequestAuthorization(ctx context.Context, readTypes []string) (bool, error)
	AuthorizedTypes(ctx context.Context, readTypes []string) ([]string, error)
	QuantitySamples(ctx context.Context, sampleType string, start, end time.Time) ([]HKQuantitySample, error)
	CategorySamples(ctx context.Context, sampleType string, start, end time.Time) ([]HKCategorySample, error)
}

// HealthKitProvider adapts the HealthKit binding to the capability contract.
type HealthKitProvider struct {
	bridge   HealthKitBridge
	logger   *zap.Logger
	inFlight inflightGuard
}

func NewHealthKitProvider(bridge HealthKitBridge, logger *zap.Logger) *HealthKitProvider {
	return &HealthKitProvider{bridge: bridge, logger: logger}
}

var _ HealthDataProvider = (*HealthKitProvider)(nil)

func (p *HealthKitProvider) Platform() health.Platform { return health.PlatformAppleHealthKit }

// IsAvailable checks the platform flag and probes the binding with a cheap
// authorization query. Any failure is an unavailable, never an error.
func (p *HealthKitProvider) IsAvailable(ctx context.Context) bool {
	available, err := p.bridge.IsHealthDataAvailable(ctx)
	if err != nil || !available {
		return false
	}
	if _, err := p.bridge.AuthorizedTypes(ctx, []string{hkTypeHeartRate}); err != nil {
		p.logger.Debug("HealthKit probe failed", zap.Error(err))
		return false
	}
	return true
}

func (p *HealthKitProvider) RequestPermissions(ctx context.Context, metrics []health.Metric) bool {
	if !p.inFlight.tryAcquire() {
		p.logger.Warn("HealthKit permission request already in flight")
		return false
	}
	defer p.inFlight.release()

	readTypes := hkReadTypes(metrics)
	granted, err := p.bridge.RequestAuthorization(ctx, readTypes)
	if err != nil {
		p.logger.Error("HealthKit authorization request failed", zap.Error(err))
		return false
	}
	if granted {
		return true
	}
	// HealthKit reports false both for "denied" and "nothing new to ask";
	// re-query the granted set before treating this as a refusal.
	return p.hasTypes(ctx, readTypes)
}

func (p *HealthKitProvider) HasPermissions(ctx context.Context, metrics []health.Metric) bool {
	return p.hasTypes(ctx, hkReadTypes(metrics))
}

func (p *HealthKitProvider) hasTypes(ctx context.Context, readTypes []string) bool {
	authorized, err := p.bridge.AuthorizedTypes(ctx, readTypes)
	if err != nil {
		p.logger.Warn("HealthKit authorization query failed", zap.Error(err))
		return false
	}
	have := make(map[string]bool, len(authorized))
	for _, t := range authorized {
		have[t] = true
	}
	for _, t := range readTypes {
		if !have[t] {
			return false
		}
	}
	return true
}

func (p *HealthKitProvider) GetHeartRate(ctx context.Context, start, end time.Time) []health.HeartRateSample {
	res := p.readHeartRate(ctx, start, end)
	p.logTransient("heart_rate", res.status, res.reason)
	return res.items
}

func (p *HealthKitProvider) readHeartRate(ctx context.Context, start, end time.Time) readResult[health.HeartRateSample] {
	raw, err := p.bridge.QuantitySamples(ctx, hkTypeHeartRate, start, end)
	if err != nil {
		return transientResult[health.HeartRateSample](err.Error())
	}
	var samples []health.HeartRateSample
	for _, q := range raw {
		if q.Value <= 0 {
			continue
		}
		samples = append(samples, health.HeartRateSample{
			Value:     q.Value,
			Timestamp: q.EndDate,
			Source:    health.PlatformAppleHealthKit,
		})
	}
	return okResult(samples)
}

func (p *HealthKitProvider) GetSleepSessions(ctx context.Context, start, end time.Time) []health.SleepSession {
	res := p.readSleepSessions(ctx, start, end)
	p.logTransient("sleep_sessions", res.status, res.reason)
	return res.items
}

func (p *HealthKitProvider) readSleepSessions(ctx context.Context, start, end time.Time) readResult[health.SleepSession] {
	raw, err := p.bridge.CategorySamples(ctx, hkTypeSleepAnalysis, start, end)
	if err != nil {
		return transientResult[health.SleepSession](err.Error())
	}

	var segments []health.SleepStageSegment
	for _, c := range raw {
		if c.Value == hkSleepInBed {
			// In-bed intervals overlap the asleep intervals and would
			// double-count; sessions are built from sleep stages only.
			continue
		}
		segments = append(segments, health.SleepStageSegment{
			Start: c.StartDate,
			End:   c.EndDate,
			Stage: hkStage(c.Value),
		})
	}
	segments = sanitizeStages(segments)

	hrRes := p.readHeartRate(ctx, start, end)

	var sessions []health.SleepSession
	for _, group := range groupSegments(segments, hkSessionGap) {
		sessions = append(sessions, buildSession(group, health.PlatformAppleHealthKit, hrRes.items))
	}
	return okResult(sessions)
}

func (p *HealthKitProvider) GetActivity(ctx context.Context, start, end time.Time) []health.ActivitySample {
	res := p.readActivity(ctx, start, end)
	p.logTransient("activity", res.status, res.reason)
	return res.items
}

func (p *HealthKitProvider) readActivity(ctx context.Context, start, end time.Time) readResult[health.ActivitySample] {
	stepsRaw, err := p.bridge.QuantitySamples(ctx, hkTypeStepCount, start, end)
	if err != nil {
		return transientResult[health.ActivitySample](err.Error())
	}
	energyRaw, err := p.bridge.QuantitySamples(ctx, hkTypeActiveEnergy, start, end)
	if err != nil {
		return transientResult[health.ActivitySample](err.Error())
	}

	// Day-bucket both series so one sample per local day comes out.
	type dayTotals struct {
		steps  int
		energy float64
	}
	days := make(map[string]*dayTotals)
	dayOf := func(ts time.Time) string { return ts.Local().Format("2006-01-02") }
	for _, q := range stepsRaw {
		d := dayOf(q.EndDate)
		if days[d] == nil {
			days[d] = &dayTotals{}
		}
		days[d].steps += int(q.Value)
	}
	for _, q := range energyRaw {
		d := dayOf(q.EndDate)
		if days[d] == nil {
			days[d] = &dayTotals{}
		}
		days[d].energy += q.Value
	}

	var samples []health.ActivitySample
	for day, totals := range days {
		ts, err := time.ParseInLocation("2006-01-02", day, time.Local)
		if err != nil {
			continue
		}
		steps := totals.steps
		energy := totals.energy
		samples = append(samples, health.ActivitySample{
			Steps:              &steps,
			ActiveEnergyBurned: &energy,
			Timestamp:          ts,
			Source:             health.PlatformAppleHealthKit,
		})
	}
	sortActivity(samples)
	return okResult(samples)
}

func (p *HealthKitProvider) GetStressLevel(ctx context.Context, start, end time.Time) []health.StressLevel {
	res := p.readStressLevel(ctx, start, end)
	p.logTransient("stress_level", res.status, res.reason)
	return res.items
}

// readStressLevel infers stress from HRV SDNN readings; HealthKit reports
// no stress value of its own. Falls back to heart-rate deltas when no HRV
// samples exist in the range.
func (p *HealthKitProvider) readStressLevel(ctx context.Context, start, end time.Time) readResult[health.StressLevel] {
	hrvRaw, err := p.bridge.QuantitySamples(ctx, hkTypeHRVSDNN, start, end)
	if err != nil {
		return transientResult[health.StressLevel](err.Error())
	}

	var levels []health.StressLevel
	for _, q := range hrvRaw {
		if q.Value <= 0 {
			continue
		}
		levels = append(levels, health.StressLevel{
			Value:     stressFromHRV(q.Value),
			Timestamp: q.EndDate,
			Source:    health.StressSourceHRV,
		})
	}
	if len(levels) > 0 {
		return okResult(levels)
	}

	hrRes := p.readHeartRate(ctx, start, end)
	if hrRes.status == readTransient {
		return transientResult[health.StressLevel](hrRes.reason)
	}
	if stress := stressFromHRDeltas(hrRes.items); stress != nil {
		levels = append(levels, health.StressLevel{
			Value:     *stress,
			Timestamp: end,
			Source:    health.StressSourceHRDeltas,
		})
	}
	return okResult(levels)
}

// GetRestingHeartRate prefers HealthKit's dedicated resting-rate type and
// falls back to the low-bpm estimate over plain samples when none exist.
func (p *HealthKitProvider) GetRestingHeartRate(ctx context.Context, start, end time.Time) []health.HeartRateSample {
	raw, err := p.bridge.QuantitySamples(ctx, hkTypeRestingHeartRate, start, end)
	if err != nil {
		p.logTransient("resting_heart_rate", readTransient, err.Error())
		return nil
	}
	var samples []health.HeartRateSample
	for _, q := range raw {
		if q.Value <= 0 {
			continue
		}
		samples = append(samples, health.HeartRateSample{
			Value:     q.Value,
			Timestamp: q.EndDate,
			Source:    health.PlatformAppleHealthKit,
		})
	}
	if len(samples) > 0 {
		return samples
	}
	hr := p.readHeartRate(ctx, start, end)
	if est := EstimateRestingHeartRate(hr.items); est != nil {
		samples = append(samples, health.HeartRateSample{
			Value:     *est,
			Timestamp: end,
			Source:    health.PlatformAppleHealthKit,
		})
	}
	return samples
}

// SubscribeToHeartRate is a no-op: the binding exposes no push stream and
// the monitoring engine's polling covers the need.
func (p *HealthKitProvider) SubscribeToHeartRate(func(health.HeartRateSample)) func() {
	return noopUnsubscribe()
}

func (p *HealthKitProvider) SubscribeToStressLevel(func(health.StressLevel)) func() {
	return noopUnsubscribe()
}

func (p *HealthKitProvider) logTransient(metric string, status readStatus, reason string) {
	if status == readTransient {
		p.logger.Warn("HealthKit read failed, treating as no data",
			zap.String("metric", metric),
			zap.String("reason", reason),
		)
	}
}

// hkReadTypes maps requested metrics to HealthKit type identifiers.
func hkReadTypes(metrics []health.Metric) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, m := range metrics {
		switch m {
		case health.MetricHeartRate:
			add(hkTypeHeartRate)
		case health.MetricRestingHeartRate:
			add(hkTypeRestingHeartRate)
		case health.MetricHeartRateVariability, health.MetricStressLevel:
			add(hkTypeHRVSDNN)
		case health.MetricSleepAnalysis, health.MetricSleepStages:
			add(hkTypeSleepAnalysis)
		case health.MetricSteps, health.MetricActivityLevel:
			add(hkTypeStepCount)
		case health.MetricActiveEnergy:
			add(hkTypeActiveEnergy)
		}
	}
	return out
}

// hkStage collapses HealthKit sleep-analysis values onto the canonical set.
func hkStage(value int) health.SleepStage {
	switch value {
	case hkSleepAwake:
		return health.StageAwake
	case hkSleepAsleepCore, hkSleepAsleepUnspecified:
		return health.StageLight
	case hkSleepAsleepDeep:
		return health.StageDeep
	case hkSleepAsleepREM:
		return health.StageREM
	default:
		return health.StageUnknown
	}
}
