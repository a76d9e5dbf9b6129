package service

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/config"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/monitor"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/notify"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/permission"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/provider"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/selector"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/store"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{data: make(map[string]string)} }

func (f *fakeKV) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return "", store.ErrMiss
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.data {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

type fakeProvider struct {
	platform    health.Platform
	available   bool
	granted     bool
	grantResult bool

	heart   []health.HeartRateSample
	resting []health.HeartRateSample
	sleep   []health.SleepSession
	stress  []health.StressLevel
	samples []health.ActivitySample
}

func (p *fakeProvider) Platform() health.Platform        { return p.platform }
func (p *fakeProvider) IsAvailable(context.Context) bool { return p.available }

func (p *fakeProvider) RequestPermissions(context.Context, []health.Metric) bool {
	if p.grantResult {
		p.granted = true
	}
	return p.grantResult
}

func (p *fakeProvider) HasPermissions(context.Context, []health.Metric) bool { return p.granted }

func (p *fakeProvider) GetHeartRate(context.Context, time.Time, time.Time) []health.HeartRateSample {
	return p.heart
}

func (p *fakeProvider) GetSleepSessions(context.Context, time.Time, time.Time) []health.SleepSession {
	return p.sleep
}

func (p *fakeProvider) GetActivity(context.Context, time.Time, time.Time) []health.ActivitySample {
	return p.samples
}

func (p *fakeProvider) GetStressLevel(context.Context, time.Time, time.Time) []health.StressLevel {
	return p.stress
}

func (p *fakeProvider) SubscribeToHeartRate(func(health.HeartRateSample)) func() { return func() {} }
func (p *fakeProvider) SubscribeToStressLevel(func(health.StressLevel)) func() { return func() {} }

// restingProvider also exposes the vendor's dedicated resting series.
type restingProvider struct{ fakeProvider }

func (p *restingProvider) GetRestingHeartRate(context.Context, time.Time, time.Time) []health.HeartRateSample {
	return p.resting
}

func newService(t *testing.T, providers ...provider.HealthDataProvider) *HealthService {
	t.Helper()
	logger := zap.NewNop()
	kv := newFakeKV()
	conns := store.NewConnectionStore(kv, logger)
	sel := selector.New(conns, providers, "ios", logger)
	coordinator := permission.NewCoordinator(conns, permission.AlwaysForeground, logger)
	engine := monitor.NewEngine(config.DefaultMonitorConfig(), sel, monitor.NewDedupeStore(kv), nil, logger)
	return New(sel, coordinator, engine, logger)
}

func TestGetLatestHeartRatePicksNewestSample(t *testing.T) {
	now := time.Now()
	p := &fakeProvider{
		platform:  health.PlatformAppleHealthKit,
		available: true,
		heart: []health.HeartRateSample{
			{Value: 80, Timestamp: now.Add(-5 * time.Minute)},
			{Value: 64, Timestamp: now.Add(-1 * time.Minute)},
			{Value: 71, Timestamp: now.Add(-3 * time.Minute)},
		},
	}
	svc := newService(t, p)

	got := svc.GetLatestHeartRate(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, 64.0, got.Value)
}

func TestReadsDegradeToNilWithoutProvider(t *testing.T) {
	svc := newService(t)

	ctx := context.Background()
	assert.Nil(t, svc.GetLatestHeartRate(ctx))
	assert.Nil(t, svc.GetLatestRestingHeartRate(ctx))
	assert.Nil(t, svc.GetLatestSleepSession(ctx))
	assert.Nil(t, svc.GetLatestStressLevel(ctx))
	assert.Nil(t, svc.GetTodayActivity(ctx))
	assert.Empty(t, svc.GetAvailablePlatforms(ctx))
	assert.False(t, svc.RequestAllPermissions(ctx))
	assert.False(t, svc.HasAllPermissions(ctx))
}

func TestRestingHeartRatePrefersDedicatedSeries(t *testing.T) {
	now := time.Now()
	p := &restingProvider{fakeProvider{
		platform:  health.PlatformAppleHealthKit,
		available: true,
		heart: []health.HeartRateSample{
			{Value: 90, Timestamp: now.Add(-time.Hour)},
		},
		resting: []health.HeartRateSample{
			{Value: 52, Timestamp: now.Add(-2 * time.Hour)},
			{Value: 54, Timestamp: now.Add(-time.Hour)},
		},
	}}
	svc := newService(t, p)

	got := svc.GetLatestRestingHeartRate(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, 54.0, *got)
}

func TestRestingHeartRateEstimatesWhenNoDedicatedSeries(t *testing.T) {
	now := time.Now()
	p := &fakeProvider{
		platform:  health.PlatformAppleHealthKit,
		available: true,
		heart: []health.HeartRateSample{
			{Value: 58, Timestamp: now.Add(-3 * time.Hour)},
			{Value: 62, Timestamp: now.Add(-2 * time.Hour)},
			{Value: 90, Timestamp: now.Add(-time.Hour)},
		},
	}
	svc := newService(t, p)

	got := svc.GetLatestRestingHeartRate(context.Background())
	require.NotNil(t, got)
	// Mean of the samples below the resting cutoff.
	assert.InDelta(t, 60.0, *got, 0.001)
}

func TestGetLatestSleepSessionPicksNewestEnd(t *testing.T) {
	now := time.Now()
	older := health.NewSleepSession(now.Add(-40*time.Hour), now.Add(-32*time.Hour), health.PlatformAppleHealthKit)
	newer := health.NewSleepSession(now.Add(-16*time.Hour), now.Add(-8*time.Hour), health.PlatformAppleHealthKit)

	p := &fakeProvider{
		platform:  health.PlatformAppleHealthKit,
		available: true,
		sleep:     []health.SleepSession{older, newer},
	}
	svc := newService(t, p)

	got := svc.GetLatestSleepSession(context.Background())
	require.NotNil(t, got)
	assert.Equal(t, newer.EndTime, got.EndTime)
}

func TestRequestAllPermissionsMarksConnection(t *testing.T) {
	now := time.Now()
	p := &fakeProvider{
		platform:    health.PlatformAppleHealthKit,
		available:   true,
		grantResult: true,
		heart:       []health.HeartRateSample{{Value: 70, Timestamp: now}},
	}
	svc := newService(t, p)

	assert.False(t, svc.HasAllPermissions(context.Background()))
	require.True(t, svc.RequestAllPermissions(context.Background()))
	assert.True(t, svc.HasAllPermissions(context.Background()))
}

func TestRequestPlatformPermissionsUnknownPlatform(t *testing.T) {
	svc := newService(t)
	assert.False(t, svc.RequestPlatformPermissions(context.Background(), health.PlatformGarmin))
}

func TestMonitoringLifecycle(t *testing.T) {
	p := &fakeProvider{platform: health.PlatformAppleHealthKit, available: true}
	svc := newService(t, p)

	assert.False(t, svc.IsMonitoring())
	svc.StartMonitoring()
	assert.True(t, svc.IsMonitoring())
	svc.StopMonitoring()
	assert.False(t, svc.IsMonitoring())
}

func TestSubscribeDispatcherDeliversEngineEvents(t *testing.T) {
	p := &fakeProvider{
		platform:  health.PlatformAppleHealthKit,
		available: true,
		heart:     []health.HeartRateSample{{Value: 140, Timestamp: time.Now()}},
	}

	logger := zap.NewNop()
	kv := newFakeKV()
	conns := store.NewConnectionStore(kv, logger)
	sel := selector.New(conns, []provider.HealthDataProvider{p}, "ios", logger)
	coordinator := permission.NewCoordinator(conns, permission.AlwaysForeground, logger)
	cfg := config.DefaultMonitorConfig()
	cfg.HeartRatePollInterval = config.Duration(5 * time.Millisecond)
	engine := monitor.NewEngine(cfg, sel, monitor.NewDedupeStore(kv), nil, logger)
	svc := New(sel, coordinator, engine, logger)

	var mu sync.Mutex
	seen := make(map[health.TriggerType]int)
	dispatcher := notify.NewCallbackDispatcher(func(triggerType health.TriggerType, _, _ string) {
		mu.Lock()
		defer mu.Unlock()
		seen[triggerType]++
	})

	unsub := svc.SubscribeDispatcher(dispatcher)
	defer unsub()

	svc.StartMonitoring()
	defer svc.StopMonitoring()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[health.TriggerHeartRateSpike] == 1
	}, time.Second, 5*time.Millisecond)
}
