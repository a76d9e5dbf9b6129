// Package service is the application facade. It hides the provider /
// permission / selector / monitor plumbing behind the operations the
// companion app actually calls.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/monitor"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/notify"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/permission"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/provider"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/selector"
)

// Lookback windows for "latest" reads. Sleep reaches back days because a
// session written by a wearable can land hours after wake.
const (
	heartRateLookback = time.Hour
	stressLookback    = time.Hour
	restingLookback   = 24 * time.Hour
	sleepLookback     = 72 * time.Hour
)

// HealthService is the facade over the aggregation engine. All reads follow
// the same degradation rule: when no provider is usable the result is
// nil/empty, never an error, because "nothing connected" is a normal state.
type HealthService struct {
	selector    *selector.Selector
	coordinator *permission.Coordinator
	engine      *monitor.Engine
	logger      *zap.Logger
	now         func() time.Time
}

func New(sel *selector.Selector, coordinator *permission.Coordinator, engine *monitor.Engine, logger *zap.Logger) *HealthService {
	return &HealthService{
		selector:    sel,
		coordinator: coordinator,
		engine:      engine,
		logger:      logger,
		now:         time.Now,
	}
}

// GetAvailablePlatforms lists the platforms usable on this device right now.
func (s *HealthService) GetAvailablePlatforms(ctx context.Context) []health.Platform {
	return s.selector.AvailablePlatforms(ctx)
}

// RequestAllPermissions runs the grant flow for every metric against the
// currently selected platform. Returns false when no platform is usable or
// the user declined.
func (s *HealthService) RequestAllPermissions(ctx context.Context) bool {
	active, ok := s.selector.Resolve(ctx)
	if !ok {
		return false
	}
	return s.coordinator.RequestPermissions(ctx, active, health.AllMetrics())
}

// RequestPlatformPermissions runs the grant flow against one specific
// platform, regardless of which platform is currently selected.
func (s *HealthService) RequestPlatformPermissions(ctx context.Context, platform health.Platform) bool {
	p, ok := s.selector.Provider(platform)
	if !ok {
		s.logger.Warn("permission request for unregistered platform",
			zap.String("platform", string(platform)))
		return false
	}
	return s.coordinator.RequestPermissions(ctx, p, health.AllMetrics())
}

// HasAllPermissions reports whether the selected platform holds every
// metric grant. Never shows a dialog.
func (s *HealthService) HasAllPermissions(ctx context.Context) bool {
	active, ok := s.selector.Resolve(ctx)
	if !ok {
		return false
	}
	return s.coordinator.HasPermissions(ctx, active, health.AllMetrics())
}

// GetLatestHeartRate returns the most recent sample within the last hour,
// or nil when no provider is usable or the window is empty.
func (s *HealthService) GetLatestHeartRate(ctx context.Context) *health.HeartRateSample {
	active, ok := s.selector.Resolve(ctx)
	if !ok {
		return nil
	}
	end := s.now()
	samples := active.GetHeartRate(ctx, end.Add(-heartRateLookback), end)
	if len(samples) == 0 {
		return nil
	}
	latest := samples[0]
	for _, sample := range samples[1:] {
		if sample.Timestamp.After(latest.Timestamp) {
			latest = sample
		}
	}
	return &latest
}

// GetLatestRestingHeartRate prefers the vendor's dedicated resting series
// and falls back to estimating from a day of plain samples.
func (s *HealthService) GetLatestRestingHeartRate(ctx context.Context) *float64 {
	active, ok := s.selector.Resolve(ctx)
	if !ok {
		return nil
	}
	end := s.now()
	start := end.Add(-restingLookback)

	if reader, ok := active.(provider.RestingHeartRateReader); ok {
		if samples := reader.GetRestingHeartRate(ctx, start, end); len(samples) > 0 {
			latest := samples[len(samples)-1]
			return &latest.Value
		}
	}
	return provider.EstimateRestingHeartRate(active.GetHeartRate(ctx, start, end))
}

// GetLatestSleepSession returns the session with the newest end time in the
// trailing three days, or nil.
func (s *HealthService) GetLatestSleepSession(ctx context.Context) *health.SleepSession {
	active, ok := s.selector.Resolve(ctx)
	if !ok {
		return nil
	}
	end := s.now()
	sessions := active.GetSleepSessions(ctx, end.Add(-sleepLookback), end)
	if len(sessions) == 0 {
		return nil
	}
	latest := sessions[0]
	for _, session := range sessions[1:] {
		if session.EndTime.After(latest.EndTime) {
			latest = session
		}
	}
	return &latest
}

// GetLatestStressLevel returns the most recent stress estimate within the
// last hour, or nil.
func (s *HealthService) GetLatestStressLevel(ctx context.Context) *health.StressLevel {
	active, ok := s.selector.Resolve(ctx)
	if !ok {
		return nil
	}
	end := s.now()
	levels := active.GetStressLevel(ctx, end.Add(-stressLookback), end)
	if len(levels) == 0 {
		return nil
	}
	latest := levels[len(levels)-1]
	return &latest
}

// GetTodayActivity returns activity aggregates since local midnight.
func (s *HealthService) GetTodayActivity(ctx context.Context) []health.ActivitySample {
	active, ok := s.selector.Resolve(ctx)
	if !ok {
		return nil
	}
	now := s.now().Local()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return active.GetActivity(ctx, startOfDay, now)
}

// StartMonitoring arms the trigger polling loops.
func (s *HealthService) StartMonitoring() { s.engine.Start() }

// StopMonitoring disarms all polling and waits for in-flight evaluation.
func (s *HealthService) StopMonitoring() { s.engine.Stop() }

// IsMonitoring reports whether polling loops are armed.
func (s *HealthService) IsMonitoring() bool { return s.engine.IsRunning() }

// OnHeartRateSpike registers a callback and returns its unsubscribe func.
func (s *HealthService) OnHeartRateSpike(cb monitor.Callback) func() {
	return s.engine.Subscribe(health.TriggerHeartRateSpike, cb)
}

func (s *HealthService) OnHighStress(cb monitor.Callback) func() {
	return s.engine.Subscribe(health.TriggerHighStress, cb)
}

func (s *HealthService) OnLowActivity(cb monitor.Callback) func() {
	return s.engine.Subscribe(health.TriggerLowActivity, cb)
}

func (s *HealthService) OnSleepEnd(cb monitor.Callback) func() {
	return s.engine.Subscribe(health.TriggerSleepEnd, cb)
}

// SubscribeDispatcher fans every trigger kind into one dispatcher, e.g. the
// MQTT publisher. Dispatch failures are logged, not propagated: delivery
// problems must never poison the engine's dedupe state.
func (s *HealthService) SubscribeDispatcher(d notify.Dispatcher) func() {
	unsubs := make([]func(), 0, len(health.AllTriggerTypes()))
	for _, trigger := range health.AllTriggerTypes() {
		unsubs = append(unsubs, s.engine.Subscribe(trigger, func(event health.TriggerEvent) {
			if err := d.Dispatch(context.Background(), event); err != nil {
				s.logger.Warn("trigger dispatch failed",
					zap.String("trigger", string(event.Type)),
					zap.Error(err))
			}
		}))
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
