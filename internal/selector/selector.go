// Package selector resolves the single active provider a read or a
// monitoring cycle runs against.
package selector

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/provider"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/store"
)

// defaultOrder is the fixed platform fallback per host OS, used when no
// stored connection yields an available provider. Samsung Health is a
// filtered view over Health Connect, not a distinct physical source, so it
// never appears in a default order.
var defaultOrder = map[string][]health.Platform{
	"ios":     {health.PlatformAppleHealthKit},
	"android": {health.PlatformGoogleFit, health.PlatformHealthConnect},
}

// Selector picks exactly one active provider, preferring the persisted
// preference, then other connected integrations, then the platform default
// order. The resolution is cached but revalidated on every call; "no
// provider" is a normal terminal state, not an error.
type Selector struct {
	connections *store.ConnectionStore
	providers   map[health.Platform]provider.HealthDataProvider
	hostOS      string
	logger      *zap.Logger

	mu     sync.Mutex
	cached provider.HealthDataProvider
}

// New builds a selector over the given provider set. hostOS is "ios" or
// "android" and fixes the fallback order.
func New(connections *store.ConnectionStore, providers []provider.HealthDataProvider, hostOS string, logger *zap.Logger) *Selector {
	byPlatform := make(map[health.Platform]provider.HealthDataProvider, len(providers))
	for _, p := range providers {
		byPlatform[p.Platform()] = p
	}
	return &Selector{
		connections: connections,
		providers:   byPlatform,
		hostOS:      hostOS,
		logger:      logger,
	}
}

// Resolve returns the active provider, re-running candidate selection on
// every call. The second return is false when nothing is usable; callers
// treat that as "feature unavailable", never as a failure.
func (s *Selector) Resolve(ctx context.Context) (provider.HealthDataProvider, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := s.resolveLocked(ctx)
	if resolved == nil {
		if s.cached != nil {
			s.logger.Info("Active provider lost, no replacement available",
				zap.String("platform", string(s.cached.Platform())),
			)
		}
		s.cached = nil
		return nil, false
	}
	if s.cached == nil || s.cached.Platform() != resolved.Platform() {
		s.logger.Info("Active provider resolved",
			zap.String("platform", string(resolved.Platform())),
		)
	}
	s.cached = resolved
	return resolved, true
}

// AvailablePlatforms probes every registered provider and returns the set
// that currently reports available.
func (s *Selector) AvailablePlatforms(ctx context.Context) []health.Platform {
	var out []health.Platform
	for platform, p := range s.providers {
		if p.IsAvailable(ctx) {
			out = append(out, platform)
		}
	}
	return out
}

// Provider returns the registered provider for a platform, if any.
func (s *Selector) Provider(platform health.Platform) (provider.HealthDataProvider, bool) {
	p, ok := s.providers[platform]
	return p, ok
}

func (s *Selector) resolveLocked(ctx context.Context) provider.HealthDataProvider {
	for _, id := range s.candidateIDs(ctx) {
		p, ok := s.providers[health.Platform(id)]
		if !ok {
			continue
		}
		if p.IsAvailable(ctx) {
			return p
		}
	}

	// No connected candidate is usable: fall through to the platform
	// default order, ignoring connection-store state entirely.
	for _, platform := range defaultOrder[s.hostOS] {
		p, ok := s.providers[platform]
		if !ok {
			continue
		}
		if p.IsAvailable(ctx) {
			return p
		}
	}
	return nil
}

// candidateIDs builds [preferred (if set), other connected ids] with the
// preferred id never repeated.
func (s *Selector) candidateIDs(ctx context.Context) []string {
	var ids []string

	preferred, err := s.connections.GetPreferred(ctx)
	if err != nil {
		s.logger.Warn("Failed to read preferred integration", zap.Error(err))
	} else if preferred != "" {
		ids = append(ids, preferred)
	}

	connected, err := s.connections.ConnectedIDs(ctx)
	if err != nil {
		s.logger.Warn("Failed to list connected integrations", zap.Error(err))
		return ids
	}
	for _, id := range connected {
		if id == preferred {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
