// Package provider implements the vendor health-data sources. Each vendor
// binding is consumed through a bridge interface and normalized into the
// canonical model before anything leaves this package.
package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

// HealthDataProvider is the single capability contract every vendor source
// implements. Reads never fail across this boundary: unavailable,
// unauthorized, and transient vendor errors all surface as empty slices,
// logged internally. Callers degrade gracefully and retry on the next poll.
type HealthDataProvider interface {
	// Platform identifies the vendor source.
	Platform() health.Platform

	// IsAvailable probes the platform and the live binding. It never
	// returns an error; any ambiguity is false.
	IsAvailable(ctx context.Context) bool

	// RequestPermissions maps metrics to vendor permission records and
	// invokes the native grant dialog. Returns false without a dialog when
	// a request is already in flight. A true result is verified against
	// the granted set, since vendors are inconsistent about reporting
	// "already granted" versus "user cancelled".
	RequestPermissions(ctx context.Context, metrics []health.Metric) bool

	// HasPermissions is a non-interactive check; it never shows a dialog.
	HasPermissions(ctx context.Context, metrics []health.Metric) bool

	GetHeartRate(ctx context.Context, start, end time.Time) []health.HeartRateSample
	GetSleepSessions(ctx context.Context, start, end time.Time) []health.SleepSession
	GetActivity(ctx context.Context, start, end time.Time) []health.ActivitySample
	GetStressLevel(ctx context.Context, start, end time.Time) []health.StressLevel

	// Subscriptions: most vendor SDKs offer no live push, in which case
	// these are no-ops the monitoring engine's polling supersedes. The
	// returned func detaches the callback and is safe to call twice.
	SubscribeToHeartRate(callback func(health.HeartRateSample)) func()
	SubscribeToStressLevel(callback func(health.StressLevel)) func()
}

// readStatus distinguishes "no data" from "vendor failed" inside the
// package, so tests and logs keep the distinction the public contract
// deliberately erases.
type readStatus int

const (
	readOK readStatus = iota
	readEmpty
	readTransient
)

type readResult[T any] struct {
	status readStatus
	items  []T
	reason string
}

func okResult[T any](items []T) readResult[T] {
	if len(items) == 0 {
		return readResult[T]{status: readEmpty}
	}
	return readResult[T]{status: readOK, items: items}
}

func transientResult[T any](reason string) readResult[T] {
	return readResult[T]{status: readTransient, reason: reason}
}

// inflightGuard serializes permission requests for one provider. A second
// request while one is pending fails fast instead of stacking dialogs.
type inflightGuard struct {
	flag atomic.Bool
}

func (g *inflightGuard) tryAcquire() bool {
	return g.flag.CompareAndSwap(false, true)
}

func (g *inflightGuard) release() {
	g.flag.Store(false)
}

// RestingHeartRateReader is implemented by providers whose vendor has a
// dedicated resting-heart-rate field. Others fall back to
// EstimateRestingHeartRate over plain heart-rate samples.
type RestingHeartRateReader interface {
	GetRestingHeartRate(ctx context.Context, start, end time.Time) []health.HeartRateSample
}

// noopUnsubscribe is returned by providers without a native event stream.
func noopUnsubscribe() func() {
	return func() {}
}
