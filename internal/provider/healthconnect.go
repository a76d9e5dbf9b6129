package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

// Health Connect permission strings.
const (
	hcPermHeartRate = "android.permission.health.READ_HEART_RATE"
	hcPermHRV       = "android.permission.health.READ_HEART_RATE_VARIABILITY"
	hcPermSleep     = "android.permission.health.READ_SLEEP"
	hcPermSteps     = "android.permission.health.READ_STEPS"
	hcPermCalories  = "android.permission.health.READ_ACTIVE_CALORIES_BURNED"
)

// Health Connect sleep stage constants.
const (
	hcStageUnknown = iota
	hcStageAwake
	hcStageSleeping
	hcStageOutOfBed
	hcStageLight
	hcStageDeep
	hcStageREM
	hcStageAwakeInBed
)

// HCHeartRateSample is one sample inside a heart-rate record.
type HCHeartRateSample struct {
	Time time.Time `json:"time"`
	BPM  float64   `json:"bpm"`
}

// HCHeartRateRecord is one heart-rate record with its data origin.
type HCHeartRateRecord struct {
	OriginPackage string              `json:"origin_package"`
	Samples       []HCHeartRateSample `json:"samples"`
}

// HCSleepStage is one stage interval inside a sleep record.
type HCSleepStage struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	StageType int       `json:"stage_type"`
}

// HCSleepRecord is one sleep session record.
type HCSleepRecord struct {
	OriginPackage string         `json:"origin_package"`
	Start         time.Time      `json:"start"`
	End           time.Time      `json:"end"`
	Stages        []HCSleepStage `json:"stages,omitempty"`
}

// HCValueRecord is a numeric interval record (steps, calories).
type HCValueRecord struct {
	OriginPackage string    `json:"origin_package"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Value         float64   `json:"value"`
}

// HealthConnectBridge is the native Health Connect binding. Records carry
// their data-origin package so filtered views (Samsung Health) can narrow
// reads without a second physical source.
type HealthConnectBridge interface {
	SDKStatusAvailable(ctx context.Context) (bool, error)
	RequestPermissions(ctx context.Context, permissions []string) ([]string, error)
	GrantedPermissions(ctx context.Context) ([]string, error)
	ReadHeartRateRecords(ctx context.Context, start, end time.Time) ([]HCHeartRateRecord, error)
	ReadSleepRecords(ctx context.Context, start, end time.Time) ([]HCSleepRecord, error)
	ReadStepsRecords(ctx context.Context, start, end time.Time) ([]HCValueRecord, error)
	ReadCaloriesRecords(ctx context.Context, start, end time.Time) ([]HCValueRecord, error)
}

// HealthConnectProvider adapts the Health Connect binding. An optional
// origin filter narrows every read to records written by one package; the
// Samsung Health provider is exactly that filter with its own platform tag.
type HealthConnectProvider struct {
	bridge       HealthConnectBridge
	logger       *zap.Logger
	inFlight     inflightGuard
	platform     health.Platform
	originFilter string
}

func NewHealthConnectProvider(bridge HealthConnectBridge, logger *zap.Logger) *HealthConnectProvider {
	return &HealthConnectProvider{
		bridge:   bridge,
		logger:   logger,
		platform: health.PlatformHealthConnect,
	}
}

var _ HealthDataProvider = (*HealthConnectProvider)(nil)

func (p *HealthConnectProvider) Platform() health.Platform { return p.platform }

func (p *HealthConnectProvider) IsAvailable(ctx context.Context) bool {
	ok, err := p.bridge.SDKStatusAvailable(ctx)
	if err != nil || !ok {
		return false
	}
	if _, err := p.bridge.GrantedPermissions(ctx); err != nil {
		p.logger.Debug("Health Connect probe failed", zap.Error(err))
		return false
	}
	return true
}

func (p *HealthConnectProvider) RequestPermissions(ctx context.Context, metrics []health.Metric) bool {
	if !p.inFlight.tryAcquire() {
		p.logger.Warn("Health Connect permission request already in flight")
		return false
	}
	defer p.inFlight.release()

	wanted := hcPermissions(metrics)
	granted, err := p.bridge.RequestPermissions(ctx, wanted)
	if err != nil {
		p.logger.Error("Health Connect permission request failed", zap.Error(err))
		return false
	}
	if containsAll(granted, wanted) {
		return true
	}
	// The dialog result can be a partial echo; the granted-permission query
	// is authoritative.
	return p.hasPerms(ctx, wanted)
}

func (p *HealthConnectProvider) HasPermissions(ctx context.Context, metrics []health.Metric) bool {
	return p.hasPerms(ctx, hcPermissions(metrics))
}

func (p *HealthConnectProvider) hasPerms(ctx context.Context, wanted []string) bool {
	granted, err := p.bridge.GrantedPermissions(ctx)
	if err != nil {
		p.logger.Warn("Health Connect permission query failed", zap.Error(err))
		return false
	}
	return containsAll(granted, wanted)
}

func (p *HealthConnectProvider) GetHeartRate(ctx context.Context, start, end time.Time) []health.HeartRateSample {
	res := p.readHeartRate(ctx, start, end)
	p.logTransient("heart_rate", res.status, res.reason)
	return res.items
}

func (p *HealthConnectProvider) readHeartRate(ctx context.Context, start, end time.Time) readResult[health.HeartRateSample] {
	records, err := p.bridge.ReadHeartRateRecords(ctx, start, end)
	if err != nil {
		return transientResult[health.HeartRateSample](err.Error())
	}
	var samples []health.HeartRateSample
	for _, rec := range records {
		if p.skipOrigin(rec.OriginPackage) {
			continue
		}
		for _, s := range rec.Samples {
			if s.BPM <= 0 {
				continue
			}
			samples = append(samples, health.HeartRateSample{
				Value:     s.BPM,
				Timestamp: s.Time,
				Source:    p.platform,
			})
		}
	}
	return okResult(samples)
}

func (p *HealthConnectProvider) GetSleepSessions(ctx context.Context, start, end time.Time) []health.SleepSession {
	res := p.readSleepSessions(ctx, start, end)
	p.logTransient("sleep_sessions", res.status, res.reason)
	return res.items
}

func (p *HealthConnectProvider) readSleepSessions(ctx context.Context, start, end time.Time) readResult[health.SleepSession] {
	records, err := p.bridge.ReadSleepRecords(ctx, start, end)
	if err != nil {
		return transientResult[health.SleepSession](err.Error())
	}
	hrRes := p.readHeartRate(ctx, start, end)

	var sessions []health.SleepSession
	for _, rec := range records {
		if p.skipOrigin(rec.OriginPackage) {
			continue
		}
		if !rec.End.After(rec.Start) {
			continue
		}
		var segments []health.SleepStageSegment
		for _, st := range rec.Stages {
			if st.StageType == hcStageOutOfBed {
				continue
			}
			segments = append(segments, health.SleepStageSegment{
				Start: st.Start,
				End:   st.End,
				Stage: hcStage(st.StageType),
			})
		}
		segments = sanitizeStages(segments)

		session := health.NewSleepSession(rec.Start, rec.End, p.platform)
		session.Stages = segments
		session.Efficiency = sleepEfficiency(segments)
		meta := &health.SleepMetadata{StageMinutes: stageMinutes(segments)}
		meta.AvgHeartRate, meta.MinHeartRate, meta.MaxHeartRate = heartRateAggregates(hrRes.items, rec.Start, rec.End)
		if meta.StageMinutes != nil || meta.AvgHeartRate != nil {
			session.Metadata = meta
		}
		sessions = append(sessions, session)
	}
	return okResult(sessions)
}

func (p *HealthConnectProvider) GetActivity(ctx context.Context, start, end time.Time) []health.ActivitySample {
	res := p.readActivity(ctx, start, end)
	p.logTransient("activity", res.status, res.reason)
	return res.items
}

func (p *HealthConnectProvider) readActivity(ctx context.Context, start, end time.Time) readResult[health.ActivitySample] {
	stepRecords, err := p.bridge.ReadStepsRecords(ctx, start, end)
	if err != nil {
		return transientResult[health.ActivitySample](err.Error())
	}
	calorieRecords, err := p.bridge.ReadCaloriesRecords(ctx, start, end)
	if err != nil {
		return transientResult[health.ActivitySample](err.Error())
	}

	type dayTotals struct {
		steps  int
		energy float64
		hasKcal bool
	}
	days := make(map[string]*dayTotals)
	bucket := func(ts time.Time) *dayTotals {
		day := ts.Local().Format("2006-01-02")
		if days[day] == nil {
			days[day] = &dayTotals{}
		}
		return days[day]
	}
	for _, rec := range stepRecords {
		if p.skipOrigin(rec.OriginPackage) {
			continue
		}
		bucket(rec.Start).steps += int(rec.Value)
	}
	for _, rec := range calorieRecords {
		if p.skipOrigin(rec.OriginPackage) {
			continue
		}
		b := bucket(rec.Start)
		b.energy += rec.Value
		b.hasKcal = true
	}

	var samples []health.ActivitySample
	for day, totals := range days {
		ts, err := time.ParseInLocation("2006-01-02", day, time.Local)
		if err != nil {
			continue
		}
		steps := totals.steps
		sample := health.ActivitySample{
			Steps:     &steps,
			Timestamp: ts,
			Source:    p.platform,
		}
		if totals.hasKcal {
			energy := totals.energy
			sample.ActiveEnergyBurned = &energy
		}
		samples = append(samples, sample)
	}
	sortActivity(samples)
	return okResult(samples)
}

func (p *HealthConnectProvider) GetStressLevel(ctx context.Context, start, end time.Time) []health.StressLevel {
	res := p.readStressLevel(ctx, start, end)
	p.logTransient("stress_level", res.status, res.reason)
	return res.items
}

// readStressLevel infers stress from heart-rate deltas: the binding exposes
// no portable stress or HRV read across Health Connect apps.
func (p *HealthConnectProvider) readStressLevel(ctx context.Context, start, end time.Time) readResult[health.StressLevel] {
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

func (p *HealthConnectProvider) SubscribeToHeartRate(func(health.HeartRateSample)) func() {
	return noopUnsubscribe()
}

func (p *HealthConnectProvider) SubscribeToStressLevel(func(health.StressLevel)) func() {
	return noopUnsubscribe()
}

func (p *HealthConnectProvider) skipOrigin(origin string) bool {
	return p.originFilter != "" && origin != p.originFilter
}

func (p *HealthConnectProvider) logTransient(metric string, status readStatus, reason string) {
	if status == readTransient {
		p.logger.Warn("Health Connect read failed, treating as no data",
			zap.String("metric", metric),
			zap.String("platform", string(p.platform)),
			zap.String("reason", reason),
		)
	}
}

func hcPermissions(metrics []health.Metric) []string {
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
		case health.MetricHeartRate, health.MetricRestingHeartRate, health.MetricStressLevel:
			add(hcPermHeartRate)
		case health.MetricHeartRateVariability:
			add(hcPermHRV)
		case health.MetricSleepAnalysis, health.MetricSleepStages:
			add(hcPermSleep)
		case health.MetricSteps, health.MetricActivityLevel:
			add(hcPermSteps)
		case health.MetricActiveEnergy:
			add(hcPermCalories)
		}
	}
	return out
}

func hcStage(stageType int) health.SleepStage {
	switch stageType {
	case hcStageAwake, hcStageAwakeInBed:
		return health.StageAwake
	case hcStageLight, hcStageSleeping:
		return health.StageLight
	case hcStageDeep:
		return health.StageDeep
	case hcStageREM:
		return health.StageREM
	default:
		return health.StageUnknown
	}
}

func containsAll(have, wanted []string) bool {
	set := make(map[string]bool, len(have))
	for _, s := range have {
		set[s] = true
	}
	for _, s := range wanted {
		if !set[s] {
			return false
		}
	}
	return true
}
