package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

// Garmin stress readings below zero are placeholders: -1 means not enough
// data, -2 means the wearer was moving too much to measure.
const garminStressInvalidFloor = 0

// garminResponse is the companion bridge's response envelope.
type garminResponse struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// GarminHeartRate is one heart-rate reading from the bridge.
type GarminHeartRate struct {
	Timestamp int64   `json:"timestamp"`
	BPM       float64 `json:"bpm"`
}

// GarminSleepLevel is one sleep level interval.
type GarminSleepLevel struct {
	StartTimeInSeconds int64  `json:"startTimeInSeconds"`
	EndTimeInSeconds   int64  `json:"endTimeInSeconds"`
	Level              string `json:"level"`
}

// GarminSleep is one sleep summary from the bridge.
type GarminSleep struct {
	StartTimeInSeconds int64              `json:"startTimeInSeconds"`
	DurationInSeconds  int64              `json:"durationInSeconds"`
	Levels             []GarminSleepLevel `json:"levels,omitempty"`
}

// GarminDaily is one daily activity summary.
type GarminDaily struct {
	CalendarDate        string  `json:"calendarDate"`
	Steps               int     `json:"steps"`
	ActiveKilocalories  float64 `json:"activeKilocalories"`
	RestingHeartRateBPM float64 `json:"restingHeartRateInBeatsPerMinute"`
}

// GarminStress is one stress reading; Garmin reports stress natively on the
// 0-100 scale.
type GarminStress struct {
	Timestamp   int64   `json:"timestamp"`
	StressLevel float64 `json:"stressLevel"`
}

// GarminBridgeClient talks to the local companion-bridge service that wraps
// the Garmin SDK. The bridge is the "native binding" for this platform; the
// wire format here is the bridge's, not Garmin's upstream API.
type GarminBridgeClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewGarminBridgeClient(baseURL, apiKey string, logger *zap.Logger) *GarminBridgeClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		client.SetHeader("X-Api-Key", apiKey)
	}
	return &GarminBridgeClient{httpClient: client, logger: logger}
}

func (c *GarminBridgeClient) get(ctx context.Context, path string, query map[string]string, out any) error {
	var envelope garminResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(&envelope).
		Get(path)
	if err != nil {
		return fmt.Errorf("failed to call garmin bridge: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("garmin bridge returned HTTP %d", resp.StatusCode())
	}
	if envelope.Status != 0 {
		return fmt.Errorf("garmin bridge error: %s (status: %d)", envelope.Msg, envelope.Status)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal garmin bridge data: %w", err)
		}
	}
	return nil
}

func (c *GarminBridgeClient) post(ctx context.Context, path string, body any, out any) error {
	var envelope garminResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&envelope).
		Post(path)
	if err != nil {
		return fmt.Errorf("failed to call garmin bridge: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("garmin bridge returned HTTP %d", resp.StatusCode())
	}
	if envelope.Status != 0 {
		return fmt.Errorf("garmin bridge error: %s (status: %d)", envelope.Msg, envelope.Status)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal garmin bridge data: %w", err)
		}
	}
	return nil
}

// GarminProvider adapts the Garmin companion bridge to the capability
// contract. Garmin is the one source here that reports stress natively.
type GarminProvider struct {
	client   *GarminBridgeClient
	logger   *zap.Logger
	inFlight inflightGuard
}

func NewGarminProvider(client *GarminBridgeClient, logger *zap.Logger) *GarminProvider {
	return &GarminProvider{client: client, logger: logger}
}

var _ HealthDataProvider = (*GarminProvider)(nil)
var _ RestingHeartRateReader = (*GarminProvider)(nil)

func (p *GarminProvider) Platform() health.Platform { return health.PlatformGarmin }

// IsAvailable probes the companion bridge; an unreachable bridge means the
// companion app is not installed or not running, which is a normal negative
// result, not an error.
func (p *GarminProvider) IsAvailable(ctx context.Context) bool {
	if err := p.client.get(ctx, "/api/v1/status", nil, nil); err != nil {
		p.logger.Debug("Garmin bridge unavailable", zap.Error(err))
		return false
	}
	return true
}

func (p *GarminProvider) RequestPermissions(ctx context.Context, metrics []health.Metric) bool {
	if !p.inFlight.tryAcquire() {
		p.logger.Warn("Garmin permission request already in flight")
		return false
	}
	defer p.inFlight.release()

	body := map[string]any{"metrics": metricStrings(metrics)}
	var result struct {
		Granted bool `json:"granted"`
	}
	if err := p.client.post(ctx, "/api/v1/permissions/request", body, &result); err != nil {
		p.logger.Error("Garmin permission request failed", zap.Error(err))
		return false
	}
	if result.Granted {
		return true
	}
	return p.HasPermissions(ctx, metrics)
}

func (p *GarminProvider) HasPermissions(ctx context.Context, metrics []health.Metric) bool {
	var result struct {
		Granted []string `json:"granted"`
	}
	if err := p.client.get(ctx, "/api/v1/permissions", nil, &result); err != nil {
		p.logger.Warn("Garmin permission query failed", zap.Error(err))
		return false
	}
	return containsAll(result.Granted, metricStrings(metrics))
}

func (p *GarminProvider) GetHeartRate(ctx context.Context, start, end time.Time) []health.HeartRateSample {
	res := p.readHeartRate(ctx, start, end)
	p.logTransient("heart_rate", res.status, res.reason)
	return res.items
}

func (p *GarminProvider) readHeartRate(ctx context.Context, start, end time.Time) readResult[health.HeartRateSample] {
	var readings []GarminHeartRate
	if err := p.client.get(ctx, "/api/v1/heartrate", rangeQuery(start, end), &readings); err != nil {
		return transientResult[health.HeartRateSample](err.Error())
	}
	var samples []health.HeartRateSample
	for _, r := range readings {
		if r.BPM <= 0 {
			continue
		}
		samples = append(samples, health.HeartRateSample{
			Value:     r.BPM,
			Timestamp: time.Unix(r.Timestamp, 0),
			Source:    health.PlatformGarmin,
		})
	}
	return okResult(samples)
}

func (p *GarminProvider) GetSleepSessions(ctx context.Context, start, end time.Time) []health.SleepSession {
	res := p.readSleepSessions(ctx, start, end)
	p.logTransient("sleep_sessions", res.status, res.reason)
	return res.items
}

func (p *GarminProvider) readSleepSessions(ctx context.Context, start, end time.Time) readResult[health.SleepSession] {
	var sleeps []GarminSleep
	if err := p.client.get(ctx, "/api/v1/sleep", rangeQuery(start, end), &sleeps); err != nil {
		return transientResult[health.SleepSession](err.Error())
	}
	hrRes := p.readHeartRate(ctx, start, end)

	var sessions []health.SleepSession
	for _, gs := range sleeps {
		if gs.DurationInSeconds <= 0 {
			continue
		}
		sStart := time.Unix(gs.StartTimeInSeconds, 0)
		sEnd := sStart.Add(time.Duration(gs.DurationInSeconds) * time.Second)

		var segments []health.SleepStageSegment
		for _, lvl := range gs.Levels {
			segments = append(segments, health.SleepStageSegment{
				Start: time.Unix(lvl.StartTimeInSeconds, 0),
				End:   time.Unix(lvl.EndTimeInSeconds, 0),
				Stage: garminStage(lvl.Level),
			})
		}
		segments = sanitizeStages(segments)

		session := health.NewSleepSession(sStart, sEnd, health.PlatformGarmin)
		session.Stages = segments
		session.Efficiency = sleepEfficiency(segments)
		meta := &health.SleepMetadata{StageMinutes: stageMinutes(segments)}
		meta.AvgHeartRate, meta.MinHeartRate, meta.MaxHeartRate = heartRateAggregates(hrRes.items, sStart, sEnd)
		if meta.StageMinutes != nil || meta.AvgHeartRate != nil {
			session.Metadata = meta
		}
		sessions = append(sessions, session)
	}
	return okResult(sessions)
}

func (p *GarminProvider) GetActivity(ctx context.Context, start, end time.Time) []health.ActivitySample {
	res := p.readActivity(ctx, start, end)
	p.logTransient("activity", res.status, res.reason)
	return res.items
}

func (p *GarminProvider) readActivity(ctx context.Context, start, end time.Time) readResult[health.ActivitySample] {
	dailies, err := p.readDailies(ctx, start, end)
	if err != nil {
		return transientResult[health.ActivitySample](err.Error())
	}
	var samples []health.ActivitySample
	for _, d := range dailies {
		ts, err := time.ParseInLocation("2006-01-02", d.CalendarDate, time.Local)
		if err != nil {
			continue
		}
		steps := d.Steps
		kcal := d.ActiveKilocalories
		samples = append(samples, health.ActivitySample{
			Steps:              &steps,
			ActiveEnergyBurned: &kcal,
			Timestamp:          ts,
			Source:             health.PlatformGarmin,
		})
	}
	sortActivity(samples)
	return okResult(samples)
}

func (p *GarminProvider) readDailies(ctx context.Context, start, end time.Time) ([]GarminDaily, error) {
	var dailies []GarminDaily
	if err := p.client.get(ctx, "/api/v1/dailies", rangeQuery(start, end), &dailies); err != nil {
		return nil, err
	}
	return dailies, nil
}

func (p *GarminProvider) GetStressLevel(ctx context.Context, start, end time.Time) []health.StressLevel {
	res := p.readStressLevel(ctx, start, end)
	p.logTransient("stress_level", res.status, res.reason)
	return res.items
}

func (p *GarminProvider) readStressLevel(ctx context.Context, start, end time.Time) readResult[health.StressLevel] {
	var readings []GarminStress
	if err := p.client.get(ctx, "/api/v1/stress", rangeQuery(start, end), &readings); err != nil {
		return transientResult[health.StressLevel](err.Error())
	}
	var levels []health.StressLevel
	for _, r := range readings {
		if r.StressLevel < garminStressInvalidFloor {
			continue
		}
		levels = append(levels, health.StressLevel{
			Value:     clamp(r.StressLevel, 0, 100),
			Timestamp: time.Unix(r.Timestamp, 0),
			Source:    string(health.PlatformGarmin),
		})
	}
	return okResult(levels)
}

// GetRestingHeartRate uses the daily summary's resting field.
func (p *GarminProvider) GetRestingHeartRate(ctx context.Context, start, end time.Time) []health.HeartRateSample {
	dailies, err := p.readDailies(ctx, start, end)
	if err != nil {
		p.logTransient("resting_heart_rate", readTransient, err.Error())
		return nil
	}
	var samples []health.HeartRateSample
	for _, d := range dailies {
		if d.RestingHeartRateBPM <= 0 {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02", d.CalendarDate, time.Local)
		if err != nil {
			continue
		}
		samples = append(samples, health.HeartRateSample{
			Value:     d.RestingHeartRateBPM,
			Timestamp: ts,
			Source:    health.PlatformGarmin,
		})
	}
	return samples
}

func (p *GarminProvider) SubscribeToHeartRate(func(health.HeartRateSample)) func() {
	return noopUnsubscribe()
}

func (p *GarminProvider) SubscribeToStressLevel(func(health.StressLevel)) func() {
	return noopUnsubscribe()
}

func (p *GarminProvider) logTransient(metric string, status readStatus, reason string) {
	if status == readTransient {
		p.logger.Warn("Garmin bridge read failed, treating as no data",
			zap.String("metric", metric),
			zap.String("reason", reason),
		)
	}
}

func rangeQuery(start, end time.Time) map[string]string {
	return map[string]string{
		"start": fmt.Sprintf("%d", start.Unix()),
		"end":   fmt.Sprintf("%d", end.Unix()),
	}
}

func metricStrings(metrics []health.Metric) []string {
	out := make([]string, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, string(m))
	}
	return out
}

func garminStage(level string) health.SleepStage {
	switch level {
	case "awake":
		return health.StageAwake
	case "light":
		return health.StageLight
	case "deep":
		return health.StageDeep
	case "rem":
		return health.StageREM
	default:
		return health.StageUnknown
	}
}
