package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

type fakeGoogleFitBridge struct {
	hasPlayServices bool
	granted         []string
	requestResult   bool
	requestErr      error
	requestedScopes []string

	dataPoints   map[string][]FitDataPoint
	dailyBuckets map[string][]FitDataPoint
	sleep        []FitSleepSession
	readErr      error
}

func (f *fakeGoogleFitBridge) HasPlayServices(context.Context) (bool, error) {
	return f.hasPlayServices, nil
}

func (f *fakeGoogleFitBridge) RequestScopes(_ context.Context, scopes []string) (bool, error) {
	f.requestedScopes = scopes
	return f.requestResult, f.requestErr
}

func (f *fakeGoogleFitBridge) GrantedScopes(context.Context) ([]string, error) {
	return f.granted, nil
}

func (f *fakeGoogleFitBridge) ReadDataPoints(_ context.Context, dataType string, _, _ time.Time) ([]FitDataPoint, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.dataPoints[dataType], nil
}

func (f *fakeGoogleFitBridge) ReadDailyBuckets(_ context.Context, dataType string, _, _ time.Time) ([]FitDataPoint, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.dailyBuckets[dataType], nil
}

func (f *fakeGoogleFitBridge) ReadSleepSessions(context.Context, time.Time, time.Time) ([]FitSleepSession, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.sleep, nil
}

func TestGoogleFitScopeMappingDeduplicates(t *testing.T) {
	scopes := fitScopes([]health.Metric{
		health.MetricHeartRate,
		health.MetricStressLevel,
		health.MetricSleepAnalysis,
		health.MetricSteps,
		health.MetricActiveEnergy,
	})

	assert.Equal(t, []string{fitScopeHeartRate, fitScopeSleep, fitScopeActivity}, scopes)
}

func TestGoogleFitRequestVerifiesGrantedSetOnFalse(t *testing.T) {
	bridge := &fakeGoogleFitBridge{
		hasPlayServices: true,
		requestResult:   false,
		granted:         []string{fitScopeHeartRate},
	}
	p := NewGoogleFitProvider(bridge, zap.NewNop())

	// Consent flow said false, but the scope was already granted.
	assert.True(t, p.RequestPermissions(context.Background(), []health.Metric{health.MetricHeartRate}))

	// A scope genuinely missing from the granted set stays denied.
	assert.False(t, p.RequestPermissions(context.Background(), []health.Metric{health.MetricSleepAnalysis}))
}

func TestGoogleFitHeartRateDropsNonPositiveValues(t *testing.T) {
	now := time.Now()
	bridge := &fakeGoogleFitBridge{
		hasPlayServices: true,
		dataPoints: map[string][]FitDataPoint{
			fitTypeHeartRate: {
				{DataType: fitTypeHeartRate, Value: 0, Start: now, End: now},
				{DataType: fitTypeHeartRate, Value: 71, Start: now, End: now.Add(time.Second)},
			},
		},
	}
	p := NewGoogleFitProvider(bridge, zap.NewNop())

	samples := p.GetHeartRate(context.Background(), now.Add(-time.Minute), now.Add(time.Minute))
	require.Len(t, samples, 1)
	assert.Equal(t, 71.0, samples[0].Value)
	assert.Equal(t, health.PlatformGoogleFit, samples[0].Source)
}

func TestGoogleFitSleepSkipsOutOfBedSegments(t *testing.T) {
	start := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	end := start.Add(7 * time.Hour)
	bridge := &fakeGoogleFitBridge{
		hasPlayServices: true,
		sleep: []FitSleepSession{{
			Start: start,
			End:   end,
			Segments: []FitSleepSegment{
				{Start: start, End: start.Add(3 * time.Hour), StageCode: fitStageLight},
				{Start: start.Add(3 * time.Hour), End: start.Add(4 * time.Hour), StageCode: fitStageOutOfBed},
				{Start: start.Add(4 * time.Hour), End: start.Add(6 * time.Hour), StageCode: fitStageDeep},
				{Start: start.Add(6 * time.Hour), End: end, StageCode: fitStageAwake},
			},
		}},
	}
	p := NewGoogleFitProvider(bridge, zap.NewNop())

	sessions := p.GetSleepSessions(context.Background(), start.Add(-time.Hour), end.Add(time.Hour))
	require.Len(t, sessions, 1)

	s := sessions[0]
	assert.Equal(t, 420, s.DurationMinutes)
	require.Len(t, s.Stages, 3, "out-of-bed segments are not sleep stages")
	require.NotNil(t, s.Efficiency)
	// 6h staged, 1h awake: (360-60)/360.
	assert.InDelta(t, 300.0/360.0, *s.Efficiency, 0.001)
	require.NotNil(t, s.Metadata)
	assert.Equal(t, 180, s.Metadata.StageMinutes["light"])
	assert.Equal(t, 120, s.Metadata.StageMinutes["deep"])
}

func TestGoogleFitActivityJoinsDailyBuckets(t *testing.T) {
	day1 := time.Date(2026, 3, 9, 0, 0, 0, 0, time.Local)
	day2 := day1.AddDate(0, 0, 1)
	bridge := &fakeGoogleFitBridge{
		hasPlayServices: true,
		dailyBuckets: map[string][]FitDataPoint{
			fitTypeSteps: {
				{Value: 8200, Start: day1, End: day2},
				{Value: 3100, Start: day2, End: day2.AddDate(0, 0, 1)},
			},
			fitTypeCalories: {
				{Value: 420.5, Start: day1, End: day2},
			},
		},
	}
	p := NewGoogleFitProvider(bridge, zap.NewNop())

	samples := p.GetActivity(context.Background(), day1, day2.AddDate(0, 0, 1))
	require.Len(t, samples, 2)

	require.NotNil(t, samples[0].Steps)
	assert.Equal(t, 8200, *samples[0].Steps)
	require.NotNil(t, samples[0].ActiveEnergyBurned)
	assert.Equal(t, 420.5, *samples[0].ActiveEnergyBurned)

	assert.Equal(t, 3100, *samples[1].Steps)
	assert.Nil(t, samples[1].ActiveEnergyBurned, "no calorie bucket for the second day")
}

func TestGoogleFitStressInferredFromHeartRateDeltas(t *testing.T) {
	now := time.Now()
	points := []FitDataPoint{
		{Value: 70, Start: now.Add(-4 * time.Minute), End: now.Add(-4 * time.Minute)},
		{Value: 85, Start: now.Add(-3 * time.Minute), End: now.Add(-3 * time.Minute)},
		{Value: 68, Start: now.Add(-2 * time.Minute), End: now.Add(-2 * time.Minute)},
		{Value: 88, Start: now.Add(-time.Minute), End: now.Add(-time.Minute)},
	}
	bridge := &fakeGoogleFitBridge{
		hasPlayServices: true,
		dataPoints:      map[string][]FitDataPoint{fitTypeHeartRate: points},
	}
	p := NewGoogleFitProvider(bridge, zap.NewNop())

	levels := p.GetStressLevel(context.Background(), now.Add(-5*time.Minute), now)
	require.Len(t, levels, 1)
	assert.Equal(t, health.StressSourceHRDeltas, levels[0].Source)
	assert.Greater(t, levels[0].Value, 0.0)
	assert.LessOrEqual(t, levels[0].Value, 100.0)
}

func TestGoogleFitTransientReadDegradesToEmpty(t *testing.T) {
	bridge := &fakeGoogleFitBridge{
		hasPlayServices: true,
		readErr:         errors.New("fitness history unavailable"),
	}
	p := NewGoogleFitProvider(bridge, zap.NewNop())

	now := time.Now()
	assert.Empty(t, p.GetHeartRate(context.Background(), now.Add(-time.Hour), now))
	assert.Empty(t, p.GetSleepSessions(context.Background(), now.Add(-time.Hour), now))
	assert.Empty(t, p.GetActivity(context.Background(), now.Add(-time.Hour), now))
	assert.Empty(t, p.GetStressLevel(context.Background(), now.Add(-time.Hour), now))
}
