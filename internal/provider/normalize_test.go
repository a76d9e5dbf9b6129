package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

func seg(start time.Time, minutes int, stage health.SleepStage) health.SleepStageSegment {
	return health.SleepStageSegment{
		Start: start,
		End:   start.Add(time.Duration(minutes) * time.Minute),
		Stage: stage,
	}
}

func TestSleepEfficiency_FromStages(t *testing.T) {
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	stages := []health.SleepStageSegment{
		seg(base, 60, health.StageLight),
		seg(base.Add(60*time.Minute), 30, health.StageAwake),
		seg(base.Add(90*time.Minute), 30, health.StageDeep),
	}

	eff := sleepEfficiency(stages)
	require.NotNil(t, eff)
	assert.InDelta(t, 0.75, *eff, 1e-9)
}

func TestSleepEfficiency_NoStagesStaysUnset(t *testing.T) {
	assert.Nil(t, sleepEfficiency(nil))
	assert.Nil(t, sleepEfficiency([]health.SleepStageSegment{}))
}

func TestSanitizeStages_DropsInvertedAndSorts(t *testing.T) {
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	stages := []health.SleepStageSegment{
		seg(base.Add(time.Hour), 30, health.StageDeep),
		{Start: base.Add(2 * time.Hour), End: base.Add(2 * time.Hour), Stage: health.StageLight}, // zero length
		seg(base, 60, health.StageLight),
	}

	out := sanitizeStages(stages)
	require.Len(t, out, 2)
	assert.True(t, out[0].Start.Equal(base))
	assert.Equal(t, health.StageDeep, out[1].Stage)
}

func TestStageMinutes(t *testing.T) {
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	stages := []health.SleepStageSegment{
		seg(base, 90, health.StageLight),
		seg(base.Add(90*time.Minute), 45, health.StageDeep),
		seg(base.Add(135*time.Minute), 45, health.StageLight),
	}

	minutes := stageMinutes(stages)
	assert.Equal(t, 135, minutes["light"])
	assert.Equal(t, 45, minutes["deep"])
}

func hrSamples(base time.Time, values ...float64) []health.HeartRateSample {
	var out []health.HeartRateSample
	for i, v := range values {
		out = append(out, health.HeartRateSample{
			Value:     v,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Source:    health.PlatformGoogleFit,
		})
	}
	return out
}

func TestEstimateRestingHeartRate_LowSampleMean(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	est := EstimateRestingHeartRate(hrSamples(base, 58, 62, 90, 120))
	require.NotNil(t, est)
	assert.InDelta(t, 60, *est, 1e-9)
}

func TestEstimateRestingHeartRate_FallbackToPlainMean(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	est := EstimateRestingHeartRate(hrSamples(base, 80, 90, 100))
	require.NotNil(t, est)
	assert.InDelta(t, 90, *est, 1e-9)

	assert.Nil(t, EstimateRestingHeartRate(nil))
}

func TestStressFromHRV_InvertsAndClamps(t *testing.T) {
	assert.InDelta(t, 80, stressFromHRV(20), 1e-9)
	assert.InDelta(t, 0, stressFromHRV(150), 1e-9)
	assert.InDelta(t, 100, stressFromHRV(-5), 1e-9)
}

func TestStressFromHRDeltas(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	// Steady rate reads as no stress.
	calm := stressFromHRDeltas(hrSamples(base, 70, 70, 70, 70))
	require.NotNil(t, calm)
	assert.InDelta(t, 0, *calm, 1e-9)

	// Large swings saturate the scale.
	tense := stressFromHRDeltas(hrSamples(base, 70, 95, 68, 99))
	require.NotNil(t, tense)
	assert.InDelta(t, 100, *tense, 1e-9)

	assert.Nil(t, stressFromHRDeltas(hrSamples(base, 70)))
}

func TestGroupSegments_SplitsOnGap(t *testing.T) {
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	segments := []health.SleepStageSegment{
		seg(base, 60, health.StageLight),
		seg(base.Add(60*time.Minute), 60, health.StageDeep),
		// 8 hours later: a separate nap.
		seg(base.Add(10*time.Hour), 30, health.StageLight),
	}

	groups := groupSegments(segments, 30*time.Minute)
	require.Len(t, groups, 2)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 1)
}

func TestBuildSession_NoStageDataLeavesEfficiencyUnset(t *testing.T) {
	start := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	session := health.NewSleepSession(start, start.Add(8*time.Hour), health.PlatformGarmin)

	assert.Equal(t, 480, session.DurationMinutes)
	assert.Nil(t, session.Efficiency)
}

func TestBuildSession_DerivesAggregates(t *testing.T) {
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	segments := []health.SleepStageSegment{
		seg(base, 240, health.StageLight),
		seg(base.Add(240*time.Minute), 240, health.StageDeep),
	}
	samples := hrSamples(base.Add(time.Hour), 52, 55, 49)

	session := buildSession(segments, health.PlatformAppleHealthKit, samples)
	assert.Equal(t, 480, session.DurationMinutes)
	require.NotNil(t, session.Efficiency)
	assert.InDelta(t, 1.0, *session.Efficiency, 1e-9)
	require.NotNil(t, session.Metadata)
	assert.Equal(t, 240, session.Metadata.StageMinutes["deep"])
	require.NotNil(t, session.Metadata.AvgHeartRate)
	assert.InDelta(t, 52, *session.Metadata.AvgHeartRate, 1e-9)
	assert.InDelta(t, 49, *session.Metadata.MinHeartRate, 1e-9)
	assert.InDelta(t, 55, *session.Metadata.MaxHeartRate, 1e-9)
}
