package provider

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

// samsungHealthPackage is the data-origin package Samsung Health writes
// records under in Health Connect.
const samsungHealthPackage = "com.sec.android.app.shealth"

// samsungProbeWindow is how far back the availability probe looks for a
// Samsung-origin record.
const samsungProbeWindow = 7 * 24 * time.Hour

// NewSamsungHealthProvider builds the Samsung Health integration: not a
// distinct physical source but a filtered view over Health Connect that
// only sees records Samsung Health wrote. Availability additionally
// requires at least one Samsung-origin record in a probe read, so the
// integration does not claim to work on devices without the Samsung app.
func NewSamsungHealthProvider(bridge HealthConnectBridge, logger *zap.Logger) *SamsungHealthProvider {
	delegate := &HealthConnectProvider{
		bridge:       bridge,
		logger:       logger,
		platform:     health.PlatformSamsungHealth,
		originFilter: samsungHealthPackage,
	}
	return &SamsungHealthProvider{HealthConnectProvider: delegate}
}

// SamsungHealthProvider decorates the Health Connect provider with the
// Samsung origin filter and a stricter availability probe.
type SamsungHealthProvider struct {
	*HealthConnectProvider
}

var _ HealthDataProvider = (*SamsungHealthProvider)(nil)

func (p *SamsungHealthProvider) IsAvailable(ctx context.Context) bool {
	if !p.HealthConnectProvider.IsAvailable(ctx) {
		return false
	}
	end := time.Now()
	records, err := p.bridge.ReadHeartRateRecords(ctx, end.Add(-samsungProbeWindow), end)
	if err != nil {
		p.logger.Debug("Samsung Health probe read failed", zap.Error(err))
		return false
	}
	for _, rec := range records {
		if rec.OriginPackage == samsungHealthPackage {
			return true
		}
	}
	return false
}
