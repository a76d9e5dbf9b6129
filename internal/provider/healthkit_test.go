package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

type fakeHealthKitBridge struct {
	mu sync.Mutex

	available   bool
	authorized  []string
	grantResult bool
	grantErr    error
	quantity    map[string][]HKQuantitySample
	category    map[string][]HKCategorySample
	readErr     error

	requestCalls int
	requestGate  chan struct{}
}

func newFakeHealthKitBridge() *fakeHealthKitBridge {
	return &fakeHealthKitBridge{
		available: true,
		quantity:  make(map[string][]HKQuantitySample),
		category:  make(map[string][]HKCategorySample),
	}
}

func (f *fakeHealthKitBridge) IsHealthDataAvailable(context.Context) (bool, error) {
	return f.available, nil
}

func (f *fakeHealthKitBridge) RequestAuthorization(_ context.Context, readTypes []string) (bool, error) {
	f.mu.Lock()
	f.requestCalls++
	gate := f.requestGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.grantErr != nil {
		return false, f.grantErr
	}
	if f.grantResult {
		f.mu.Lock()
		f.authorized = append(f.authorized, readTypes...)
		f.mu.Unlock()
	}
	return f.grantResult, nil
}

func (f *fakeHealthKitBridge) AuthorizedTypes(context.Context, []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authorized...), nil
}

func (f *fakeHealthKitBridge) QuantitySamples(_ context.Context, sampleType string, _, _ time.Time) ([]HKQuantitySample, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.quantity[sampleType], nil
}

func (f *fakeHealthKitBridge) CategorySamples(_ context.Context, sampleType string, _, _ time.Time) ([]HKCategorySample, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.category[sampleType], nil
}

func TestHealthKit_SleepSessionsFromCategorySamples(t *testing.T) {
	bridge := newFakeHealthKitBridge()
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	bridge.category[hkTypeSleepAnalysis] = []HKCategorySample{
		{Type: hkTypeSleepAnalysis, Value: hkSleepInBed, StartDate: base, EndDate: base.Add(8 * time.Hour)},
		{Type: hkTypeSleepAnalysis, Value: hkSleepAsleepCore, StartDate: base, EndDate: base.Add(4 * time.Hour)},
		{Type: hkTypeSleepAnalysis, Value: hkSleepAsleepDeep, StartDate: base.Add(4 * time.Hour), EndDate: base.Add(6 * time.Hour)},
		{Type: hkTypeSleepAnalysis, Value: hkSleepAwake, StartDate: base.Add(6 * time.Hour), EndDate: base.Add(7 * time.Hour)},
		{Type: hkTypeSleepAnalysis, Value: hkSleepAsleepREM, StartDate: base.Add(7 * time.Hour), EndDate: base.Add(8 * time.Hour)},
	}

	p := NewHealthKitProvider(bridge, zap.NewNop())
	sessions := p.GetSleepSessions(context.Background(), base.Add(-time.Hour), base.Add(9*time.Hour))

	require.Len(t, sessions, 1)
	s := sessions[0]
	assert.Equal(t, 480, s.DurationMinutes)
	assert.Equal(t, health.PlatformAppleHealthKit, s.Source)
	require.NotNil(t, s.Efficiency)
	assert.InDelta(t, 7.0/8.0, *s.Efficiency, 1e-9)
	require.NotNil(t, s.Metadata)
	assert.Equal(t, 240, s.Metadata.StageMinutes["light"])
	assert.Equal(t, 120, s.Metadata.StageMinutes["deep"])
	assert.Equal(t, 60, s.Metadata.StageMinutes["awake"])
	assert.Equal(t, 60, s.Metadata.StageMinutes["rem"])
}

func TestHealthKit_UnknownStageCodeCollapsesToUnknown(t *testing.T) {
	assert.Equal(t, health.StageUnknown, hkStage(42))
	assert.Equal(t, health.StageLight, hkStage(hkSleepAsleepUnspecified))
}

func TestHealthKit_TransientReadSurfacesEmpty(t *testing.T) {
	bridge := newFakeHealthKitBridge()
	bridge.readErr = errors.New("hkerror 6: protected data inaccessible")

	p := NewHealthKitProvider(bridge, zap.NewNop())
	now := time.Now()

	assert.Empty(t, p.GetHeartRate(context.Background(), now.Add(-time.Minute), now))
	assert.Empty(t, p.GetSleepSessions(context.Background(), now.Add(-72*time.Hour), now))
	assert.Empty(t, p.GetActivity(context.Background(), now.Add(-24*time.Hour), now))
	assert.Empty(t, p.GetStressLevel(context.Background(), now.Add(-time.Hour), now))
}

func TestHealthKit_RequestPermissions_VerifiesWhenDialogSaysNo(t *testing.T) {
	bridge := newFakeHealthKitBridge()
	// Dialog reports false (nothing new to ask) but the types are already
	// authorized: the provider must treat that as granted.
	bridge.grantResult = false
	bridge.authorized = hkReadTypes([]health.Metric{health.MetricHeartRate})

	p := NewHealthKitProvider(bridge, zap.NewNop())
	assert.True(t, p.RequestPermissions(context.Background(), []health.Metric{health.MetricHeartRate}))
}

func TestHealthKit_RequestPermissions_InFlightFailsFast(t *testing.T) {
	bridge := newFakeHealthKitBridge()
	bridge.grantResult = true
	bridge.requestGate = make(chan struct{})

	p := NewHealthKitProvider(bridge, zap.NewNop())

	firstDone := make(chan bool, 1)
	go func() {
		firstDone <- p.RequestPermissions(context.Background(), []health.Metric{health.MetricHeartRate})
	}()

	// Wait until the first request is parked inside the dialog.
	require.Eventually(t, func() bool {
		bridge.mu.Lock()
		defer bridge.mu.Unlock()
		return bridge.requestCalls == 1
	}, time.Second, 5*time.Millisecond)

	// Second request must fail fast without invoking the dialog again.
	assert.False(t, p.RequestPermissions(context.Background(), []health.Metric{health.MetricHeartRate}))
	bridge.mu.Lock()
	assert.Equal(t, 1, bridge.requestCalls)
	bridge.mu.Unlock()

	close(bridge.requestGate)
	assert.True(t, <-firstDone)
}

func TestHealthKit_StressInferredFromHRV(t *testing.T) {
	bridge := newFakeHealthKitBridge()
	now := time.Now()
	bridge.quantity[hkTypeHRVSDNN] = []HKQuantitySample{
		{Type: hkTypeHRVSDNN, Value: 30, Unit: "ms", EndDate: now},
	}

	p := NewHealthKitProvider(bridge, zap.NewNop())
	levels := p.GetStressLevel(context.Background(), now.Add(-time.Hour), now)

	require.Len(t, levels, 1)
	assert.InDelta(t, 70, levels[0].Value, 1e-9)
	assert.Equal(t, health.StressSourceHRV, levels[0].Source)
}

func TestHealthKit_RestingHeartRatePrefersDedicatedField(t *testing.T) {
	bridge := newFakeHealthKitBridge()
	now := time.Now()
	bridge.quantity[hkTypeRestingHeartRate] = []HKQuantitySample{
		{Type: hkTypeRestingHeartRate, Value: 54, EndDate: now},
	}
	bridge.quantity[hkTypeHeartRate] = []HKQuantitySample{
		{Type: hkTypeHeartRate, Value: 90, EndDate: now},
	}

	p := NewHealthKitProvider(bridge, zap.NewNop())
	samples := p.GetRestingHeartRate(context.Background(), now.Add(-24*time.Hour), now)

	require.Len(t, samples, 1)
	assert.InDelta(t, 54, samples[0].Value, 1e-9)
}

func TestHealthKit_IsAvailable_FalseWhenPlatformSaysNo(t *testing.T) {
	bridge := newFakeHealthKitBridge()
	bridge.available = false

	p := NewHealthKitProvider(bridge, zap.NewNop())
	assert.False(t, p.IsAvailable(context.Background()))
}
