// Package permission serializes and verifies provider permission flows so
// the native grant dialog is never stacked, re-entered, or launched from
// the background.
package permission

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/provider"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/store"
)

// verificationWindow bounds the post-grant probe read.
const verificationWindow = 24 * time.Hour

// ForegroundChecker reports whether the app can legally present a native
// permission dialog right now. The host shell supplies it.
type ForegroundChecker interface {
	IsForeground() bool
}

// ForegroundFunc adapts a plain function to ForegroundChecker.
type ForegroundFunc func() bool

func (f ForegroundFunc) IsForeground() bool { return f() }

// AlwaysForeground is the headless default: daemons have no background
// restriction on their bindings.
var AlwaysForeground = ForegroundFunc(func() bool { return true })

// Coordinator wraps provider permission calls with request de-duplication,
// a foreground preflight, and post-grant verification. All expected failure
// modes return false, never an error: callers show the stored message.
type Coordinator struct {
	connections *store.ConnectionStore
	foreground  ForegroundChecker
	logger      *zap.Logger

	mu       sync.Mutex
	inFlight map[health.Platform]bool
}

func NewCoordinator(connections *store.ConnectionStore, foreground ForegroundChecker, logger *zap.Logger) *Coordinator {
	if foreground == nil {
		foreground = AlwaysForeground
	}
	return &Coordinator{
		connections: connections,
		foreground:  foreground,
		logger:      logger,
		inFlight:    make(map[health.Platform]bool),
	}
}

// RequestPermissions runs the full flow against one provider: preflight,
// native dialog, verification read, connection-store update. Returns true
// only when the granted permissions are actually usable.
func (c *Coordinator) RequestPermissions(ctx context.Context, p provider.HealthDataProvider, metrics []health.Metric) bool {
	platform := p.Platform()

	if !c.foreground.IsForeground() {
		c.logger.Warn("Skipping permission request while app is backgrounded",
			zap.String("platform", string(platform)),
		)
		return false
	}

	if !c.acquire(platform) {
		c.logger.Warn("Permission request already in flight",
			zap.String("platform", string(platform)),
		)
		return false
	}
	defer c.release(platform)

	if !p.IsAvailable(ctx) {
		c.recordError(ctx, platform, "platform unavailable on this device")
		return false
	}

	if !p.RequestPermissions(ctx, metrics) {
		c.recordError(ctx, platform, "permission denied by user")
		return false
	}

	// Some vendor SDKs report optimistic success; a verification read
	// proves the grant is usable before anything is marked connected.
	if !c.verify(ctx, p, metrics) {
		c.recordError(ctx, platform, "granted permissions failed verification read")
		return false
	}

	if err := c.connections.MarkConnected(ctx, string(platform)); err != nil {
		c.logger.Error("Failed to persist connection",
			zap.String("platform", string(platform)),
			zap.Error(err),
		)
	}
	c.logger.Info("Permissions granted and verified",
		zap.String("platform", string(platform)),
		zap.Int("metric_count", len(metrics)),
	)
	return true
}

// HasPermissions is a passthrough non-interactive check.
func (c *Coordinator) HasPermissions(ctx context.Context, p provider.HealthDataProvider, metrics []health.Metric) bool {
	return p.HasPermissions(ctx, metrics)
}

func (c *Coordinator) verify(ctx context.Context, p provider.HealthDataProvider, metrics []health.Metric) bool {
	if !p.HasPermissions(ctx, metrics) {
		return false
	}
	// The probe read just has to not blow up: empty is fine (a new user
	// may have no data yet), a reachable binding is what is being proven.
	end := time.Now()
	_ = p.GetHeartRate(ctx, end.Add(-verificationWindow), end)
	return true
}

func (c *Coordinator) acquire(platform health.Platform) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[platform] {
		return false
	}
	c.inFlight[platform] = true
	return true
}

func (c *Coordinator) release(platform health.Platform) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, platform)
}

func (c *Coordinator) recordError(ctx context.Context, platform health.Platform, message string) {
	if err := c.connections.MarkError(ctx, string(platform), message); err != nil {
		c.logger.Error("Failed to record connection error",
			zap.String("platform", string(platform)),
			zap.Error(err),
		)
	}
}
