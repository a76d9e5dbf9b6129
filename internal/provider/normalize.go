package provider

import (
	"math"
	"sort"
	"time"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

// restingHRCutoffBPM bounds which samples count toward the resting-HR
// estimate when the vendor has no dedicated resting field.
const restingHRCutoffBPM = 65

// hrDeltaStressScale converts mean absolute beat-to-beat delta (bpm) into
// the 0-100 stress scale for vendors without an HRV field.
const hrDeltaStressScale = 12

// sanitizeStages drops segments with end <= start and orders the rest by
// start time. Vendors may still hand back overlapping segments; those pass
// through untouched (last read wins, no merge).
func sanitizeStages(stages []health.SleepStageSegment) []health.SleepStageSegment {
	var out []health.SleepStageSegment
	for _, seg := range stages {
		if !seg.End.After(seg.Start) {
			continue
		}
		out = append(out, seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// sleepEfficiency derives (totalMinutes - awakeMinutes) / totalMinutes from
// stage segments, clamped to [0,1]. Returns nil when no stage data exists:
// efficiency is derived, never guessed.
func sleepEfficiency(stages []health.SleepStageSegment) *float64 {
	if len(stages) == 0 {
		return nil
	}
	var total, awake time.Duration
	for _, seg := range stages {
		d := seg.Duration()
		total += d
		if seg.Stage == health.StageAwake {
			awake += d
		}
	}
	if total <= 0 {
		return nil
	}
	eff := clamp(float64(total-awake)/float64(total), 0, 1)
	return &eff
}

// stageMinutes totals minutes per canonical stage.
func stageMinutes(stages []health.SleepStageSegment) map[string]int {
	if len(stages) == 0 {
		return nil
	}
	minutes := make(map[string]int)
	for _, seg := range stages {
		minutes[string(seg.Stage)] += int(seg.Duration().Round(time.Minute) / time.Minute)
	}
	return minutes
}

// EstimateRestingHeartRate is the fallback when no vendor resting-HR field
// exists: mean of samples below the low-bpm cutoff, or the plain mean when
// nothing falls under it. Nil on empty input.
func EstimateRestingHeartRate(samples []health.HeartRateSample) *float64 {
	if len(samples) == 0 {
		return nil
	}
	var lowSum float64
	var lowCount int
	var sum float64
	for _, s := range samples {
		sum += s.Value
		if s.Value < restingHRCutoffBPM {
			lowSum += s.Value
			lowCount++
		}
	}
	var mean float64
	if lowCount > 0 {
		mean = lowSum / float64(lowCount)
	} else {
		mean = sum / float64(len(samples))
	}
	return &mean
}

// stressFromHRV maps an SDNN reading (milliseconds) onto the 0-100 stress
// scale. Lower variability reads as higher stress; an SDNN at or above 100ms
// reads as fully relaxed. Heuristic, tagged as inferred downstream.
func stressFromHRV(sdnnMillis float64) float64 {
	return clamp(100-sdnnMillis, 0, 100)
}

// stressFromHRDeltas infers stress from successive heart-rate deltas when
// the vendor reports neither stress nor HRV. Larger mean beat-to-beat swings
// read as higher stress. Needs at least two samples; nil otherwise.
func stressFromHRDeltas(samples []health.HeartRateSample) *float64 {
	if len(samples) < 2 {
		return nil
	}
	ordered := make([]health.HeartRateSample, len(samples))
	copy(ordered, samples)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	var sum float64
	for i := 1; i < len(ordered); i++ {
		sum += math.Abs(ordered[i].Value - ordered[i-1].Value)
	}
	mean := sum / float64(len(ordered)-1)
	stress := clamp(mean*hrDeltaStressScale, 0, 100)
	return &stress
}

// heartRateAggregates computes the avg/min/max metadata for a session from
// the heart-rate samples inside its time range. Nil when none overlap.
func heartRateAggregates(samples []health.HeartRateSample, start, end time.Time) (avg, min, max *float64) {
	var sum float64
	var count int
	var lo, hi float64
	for _, s := range samples {
		if s.Timestamp.Before(start) || s.Timestamp.After(end) {
			continue
		}
		if count == 0 {
			lo, hi = s.Value, s.Value
		} else {
			if s.Value < lo {
				lo = s.Value
			}
			if s.Value > hi {
				hi = s.Value
			}
		}
		sum += s.Value
		count++
	}
	if count == 0 {
		return nil, nil, nil
	}
	mean := sum / float64(count)
	return &mean, &lo, &hi
}

// groupSegments splits ordered stage segments into sessions wherever the
// gap between consecutive segments exceeds maxGap. Vendors like HealthKit
// hand back loose segments with no session record around them.
func groupSegments(segments []health.SleepStageSegment, maxGap time.Duration) [][]health.SleepStageSegment {
	if len(segments) == 0 {
		return nil
	}
	var groups [][]health.SleepStageSegment
	current := []health.SleepStageSegment{segments[0]}
	currentEnd := segments[0].End
	for _, seg := range segments[1:] {
		if seg.Start.Sub(currentEnd) > maxGap {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, seg)
		if seg.End.After(currentEnd) {
			currentEnd = seg.End
		}
	}
	groups = append(groups, current)
	return groups
}

// buildSession assembles one canonical session from a group of stage
// segments, deriving duration, efficiency, per-stage minutes, and heart-rate
// aggregates from whatever samples overlap the session window.
func buildSession(segments []health.SleepStageSegment, source health.Platform, hrSamples []health.HeartRateSample) health.SleepSession {
	start := segments[0].Start
	end := segments[0].End
	for _, seg := range segments[1:] {
		if seg.Start.Before(start) {
			start = seg.Start
		}
		if seg.End.After(end) {
			end = seg.End
		}
	}

	session := health.NewSleepSession(start, end, source)
	session.Stages = segments
	session.Efficiency = sleepEfficiency(segments)

	meta := &health.SleepMetadata{StageMinutes: stageMinutes(segments)}
	meta.AvgHeartRate, meta.MinHeartRate, meta.MaxHeartRate = heartRateAggregates(hrSamples, start, end)
	if meta.StageMinutes != nil || meta.AvgHeartRate != nil {
		session.Metadata = meta
	}
	return session
}

// sortActivity orders day-bucketed samples chronologically.
func sortActivity(samples []health.ActivitySample) {
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
