package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

// Google Fit data type names the provider reads.
const (
	fitTypeHeartRate = "com.google.heart_rate.bpm"
	fitTypeSteps     = "com.google.step_count.delta"
	fitTypeCalories  = "com.google.calories.expended"
)

// Google Fit OAuth scopes backing the metric set.
const (
	fitScopeHeartRate = "https://www.googleapis.com/auth/fitness.heart_rate.read"
	fitScopeSleep     = "https://www.googleapis.com/auth/fitness.sleep.read"
	fitScopeActivity  = "https://www.googleapis.com/auth/fitness.activity.read"
)

// Google Fit sleep stage codes.
const (
	fitStageAwake    = 1
	fitStageSleep    = 2
	fitStageOutOfBed = 3
	fitStageLight    = 4
	fitStageDeep     = 5
	fitStageREM      = 6
)

// FitDataPoint is one point from the fitness history binding.
type FitDataPoint struct {
	DataType string    `json:"data_type"`
	Value    float64   `json:"value"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// FitSleepSegment is one stage interval inside a Fit sleep session.
type FitSleepSegment struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	StageCode int       `json:"stage_code"`
}

// FitSleepSession is a session record from the binding, segments included
// when the watch recorded staging.
type FitSleepSession struct {
	Start    time.Time         `json:"start"`
	End      time.Time         `json:"end"`
	Segments []FitSleepSegment `json:"segments,omitempty"`
}

// GoogleFitBridge is the native Google Fit binding.
type GoogleFitBridge interface {
	HasPlayServices(ctx context.Context) (bool, error)
	RequestScopes(ctx context.Context, scopes []string) (bool, error)
	GrantedScopes(ctx context.Context) ([]string, error)
	ReadDataPoints(ctx context.Context, dataType string, start, end time.Time) ([]FitDataPoint, error)
	ReadDailyBuckets(ctx context.Context, dataType string, start, end time.Time) ([]FitDataPoint, error)
	ReadSleepSessions(ctx context.Context, start, end time.Time) ([]FitSleepSession, error)
}

// GoogleFitProvider adapts the Google Fit binding to the capability
// contract. Activity comes from daily aggregate buckets; stress is inferred
// from successive heart-rate deltas since Fit reports neither stress nor
// a usable HRV series.
type GoogleFitProvider struct {
	bridge   GoogleFitBridge
	logger   *zap.Logger
	inFlight inflightGuard
}

func NewGoogleFitProvider(bridge GoogleFitBridge, logger *zap.Logger) *GoogleFitProvider {
	return &GoogleFitProvider{bridge: bridge, logger: logger}
}

var _ HealthDataProvider = (*GoogleFitProvider)(nil)

func (p *GoogleFitProvider) Platform() health.Platform { return health.PlatformGoogleFit }

func (p *GoogleFitProvider) IsAvailable(ctx context.Context) bool {
	ok, err := p.bridge.HasPlayServices(ctx)
	if err != nil || !ok {
		return false
	}
	if _, err := p.bridge.GrantedScopes(ctx); err != nil {
		p.logger.Debug("Google Fit probe failed", zap.Error(err))
		return false
	}
	return true
}

func (p *GoogleFitProvider) RequestPermissions(ctx context.Context, metrics []health.Metric) bool {
	if !p.inFlight.tryAcquire() {
		p.logger.Warn("Google Fit permission request already in flight")
		return false
	}
	defer p.inFlight.release()

	scopes := fitScopes(metrics)
	granted, err := p.bridge.RequestScopes(ctx, scopes)
	if err != nil {
		p.logger.Error("Google Fit scope request failed", zap.Error(err))
		return false
	}
	if granted {
		return true
	}
	// The consent flow returns false when the account had already granted
	// everything; verify against the granted set before giving up.
	return p.hasScopes(ctx, scopes)
}

func (p *GoogleFitProvider) HasPermissions(ctx context.Context, metrics []health.Metric) bool {
	return p.hasScopes(ctx, fitScopes(metrics))
}

func (p *GoogleFitProvider) hasScopes(ctx context.Context, scopes []string) bool {
	granted, err := p.bridge.GrantedScopes(ctx)
	if err != nil {
		p.logger.Warn("Google Fit scope query failed", zap.Error(err))
		return false
	}
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	for _, s := range scopes {
		if !have[s] {
			return false
		}
	}
	return true
}

func (p *GoogleFitProvider) GetHeartRate(ctx context.Context, start, end time.Time) []health.HeartRateSample {
	res := p.readHeartRate(ctx, start, end)
	p.logTransient("heart_rate", res.status, res.reason)
	return res.items
}

func (p *GoogleFitProvider) readHeartRate(ctx context.Context, start, end time.Time) readResult[health.HeartRateSample] {
	points, err := p.bridge.ReadDataPoints(ctx, fitTypeHeartRate, start, end)
	if err != nil {
		return transientResult[health.HeartRateSample](err.Error())
	}
	var samples []health.HeartRateSample
	for _, pt := range points {
		if pt.Value <= 0 {
			continue
		}
		samples = append(samples, health.HeartRateSample{
			Value:     pt.Value,
			Timestamp: pt.End,
			Source:    health.PlatformGoogleFit,
		})
	}
	return okResult(samples)
}

func (p *GoogleFitProvider) GetSleepSessions(ctx context.Context, start, end time.Time) []health.SleepSession {
	res := p.readSleepSessions(ctx, start, end)
	p.logTransient("sleep_sessions", res.status, res.reason)
	return res.items
}

func (p *GoogleFitProvider) readSleepSessions(ctx context.Context, start, end time.Time) readResult[health.SleepSession] {
	raw, err := p.bridge.ReadSleepSessions(ctx, start, end)
	if err != nil {
		return transientResult[health.SleepSession](err.Error())
	}
	hrRes := p.readHeartRate(ctx, start, end)

	var sessions []health.SleepSession
	for _, fs := range raw {
		if !fs.End.After(fs.Start) {
			continue
		}
		var segments []health.SleepStageSegment
		for _, seg := range fs.Segments {
			if seg.StageCode == fitStageOutOfBed {
				continue
			}
			segments = append(segments, health.SleepStageSegment{
				Start: seg.Start,
				End:   seg.End,
				Stage: fitStage(seg.StageCode),
			})
		}
		segments = sanitizeStages(segments)

		session := health.NewSleepSession(fs.Start, fs.End, health.PlatformGoogleFit)
		session.Stages = segments
		session.Efficiency = sleepEfficiency(segments)
		meta := &health.SleepMetadata{StageMinutes: stageMinutes(segments)}
		meta.AvgHeartRate, meta.MinHeartRate, meta.MaxHeartRate = heartRateAggregates(hrRes.items, fs.Start, fs.End)
		if meta.StageMinutes != nil || meta.AvgHeartRate != nil {
			session.Metadata = meta
		}
		sessions = append(sessions, session)
	}
	return okResult(sessions)
}

func (p *GoogleFitProvider) GetActivity(ctx context.Context, start, end time.Time) []health.ActivitySample {
	res := p.readActivity(ctx, start, end)
	p.logTransient("activity", res.status, res.reason)
	return res.items
}

func (p *GoogleFitProvider) readActivity(ctx context.Context, start, end time.Time) readResult[health.ActivitySample] {
	stepBuckets, err := p.bridge.ReadDailyBuckets(ctx, fitTypeSteps, start, end)
	if err != nil {
		return transientResult[health.ActivitySample](err.Error())
	}
	calorieBuckets, err := p.bridge.ReadDailyBuckets(ctx, fitTypeCalories, start, end)
	if err != nil {
		return transientResult[health.ActivitySample](err.Error())
	}

	calorieByDay := make(map[string]float64, len(calorieBuckets))
	for _, b := range calorieBuckets {
		calorieByDay[b.Start.Local().Format("2006-01-02")] += b.Value
	}

	seen := make(map[string]bool)
	var samples []health.ActivitySample
	for _, b := range stepBuckets {
		day := b.Start.Local().Format("2006-01-02")
		if seen[day] {
			continue
		}
		seen[day] = true
		steps := int(b.Value)
		sample := health.ActivitySample{
			Steps:     &steps,
			Timestamp: b.Start,
			Source:    health.PlatformGoogleFit,
		}
		if kcal, ok := calorieByDay[day]; ok {
			sample.ActiveEnergyBurned = &kcal
		}
		samples = append(samples, sample)
	}
	sortActivity(samples)
	return okResult(samples)
}

func (p *GoogleFitProvider) GetStressLevel(ctx context.Context, start, end time.Time) []health.StressLevel {
	res := p.readStressLevel(ctx, start, end)
	p.logTransient("stress_level", res.status, res.reason)
	return res.items
}

func (p *GoogleFitProvider) readStressLevel(ctx context.Context, start, end time.Time) readResult[health.StressLevel] {
	hrRes := p.readHeartRate(ctx, start, end)
	if hrRes.status == readTransient {
		return transientResult[health.StressLevel](hrRes.reason)
	}
	var levels []health.StressLevel
	if stress := stressFromHRDeltas(hrRes.items); stress != nil {
		levels = append(levels, health.StressLevel{
			Value:     *stress,
			Timestamp: end,
			Source:    health.StressSourceHRDeltas,
		})
	}
	return okResult(levels)
}

func (p *GoogleFitProvider) SubscribeToHeartRate(func(health.HeartRateSample)) func() {
	return noopUnsubscribe()
}

func (p *GoogleFitProvider) SubscribeToStressLevel(func(health.StressLevel)) func() {
	return noopUnsubscribe()
}

func (p *GoogleFitProvider) logTransient(metric string, status readStatus, reason string) {
	if status == readTransient {
		p.logger.Warn("Google Fit read failed, treating as no data",
			zap.String("metric", metric),
			zap.String("reason", reason),
		)
	}
}

func fitScopes(metrics []health.Metric) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, m := range metrics {
		switch m {
		case health.MetricHeartRate, health.MetricRestingHeartRate,
			health.MetricHeartRateVariability, health.MetricStressLevel:
			add(fitScopeHeartRate)
		case health.MetricSleepAnalysis, health.MetricSleepStages:
			add(fitScopeSleep)
		case health.MetricSteps, health.MetricActiveEnergy, health.MetricActivityLevel:
			add(fitScopeActivity)
		}
	}
	return out
}

func fitStage(code int) health.SleepStage {
	switch code {
	case fitStageAwake:
		return health.StageAwake
	case fitStageLight, fitStageSleep:
		return health.StageLight
	case fitStageDeep:
		return health.StageDeep
	case fitStageREM:
		return health.StageREM
	default:
		return health.StageUnknown
	}
}
