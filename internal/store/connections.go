package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

const (
	statusKeyPrefix = "reclaim:integration:"
	statusKeySuffix = ":status"
	preferredKey    = "reclaim:integration:preferred"
)

// ConnectionStore persists per-integration connection status and the single
// preferred-integration pointer. Pure storage: no provider logic lives here.
type ConnectionStore struct {
	kv     KV
	logger *zap.Logger
	now    func() time.Time
}

// NewConnectionStore creates a connection store over the given KV.
func NewConnectionStore(kv KV, logger *zap.Logger) *ConnectionStore {
	return &ConnectionStore{
		kv:     kv,
		logger: logger,
		now:    time.Now,
	}
}

func statusKey(id string) string {
	return statusKeyPrefix + id + statusKeySuffix
}

// GetStatus returns the stored connection for an integration id, or
// (nil, nil) when the integration has never been seen.
func (s *ConnectionStore) GetStatus(ctx context.Context, id string) (*health.StoredConnection, error) {
	raw, err := s.kv.Get(ctx, statusKey(id))
	if err != nil {
		if err == ErrMiss {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get status for %s: %w", id, err)
	}

	var conn health.StoredConnection
	if err := json.Unmarshal([]byte(raw), &conn); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status for %s: %w", id, err)
	}
	return &conn, nil
}

// SetStatus writes the stored connection for an integration id.
func (s *ConnectionStore) SetStatus(ctx context.Context, id string, conn health.StoredConnection) error {
	raw, err := json.Marshal(conn)
	if err != nil {
		return fmt.Errorf("failed to marshal status for %s: %w", id, err)
	}
	if err := s.kv.Set(ctx, statusKey(id), string(raw), 0); err != nil {
		return fmt.Errorf("failed to set status for %s: %w", id, err)
	}
	return nil
}

// GetAllStatuses returns every stored connection keyed by integration id.
// Iteration order is the store's key order.
func (s *ConnectionStore) GetAllStatuses(ctx context.Context) (map[string]health.StoredConnection, error) {
	keys, err := s.kv.ScanKeys(ctx, statusKeyPrefix+"*"+statusKeySuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan statuses: %w", err)
	}

	statuses := make(map[string]health.StoredConnection, len(keys))
	for _, key := range keys {
		id := strings.TrimSuffix(strings.TrimPrefix(key, statusKeyPrefix), statusKeySuffix)
		if id == "" || id == "preferred" {
			continue
		}
		raw, err := s.kv.Get(ctx, key)
		if err != nil {
			if err == ErrMiss {
				continue
			}
			return nil, fmt.Errorf("failed to get status for %s: %w", id, err)
		}
		var conn health.StoredConnection
		if err := json.Unmarshal([]byte(raw), &conn); err != nil {
			s.logger.Warn("Skipping undecodable connection status",
				zap.String("integration_id", id),
				zap.Error(err),
			)
			continue
		}
		statuses[id] = conn
	}
	return statuses, nil
}

// ConnectedIDs returns the ids of all currently connected integrations in
// stable lexical order, so selector candidate lists are deterministic.
func (s *ConnectionStore) ConnectedIDs(ctx context.Context) ([]string, error) {
	statuses, err := s.GetAllStatuses(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, conn := range statuses {
		if conn.Connected {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// GetPreferred returns the preferred integration id, or "" when unset.
func (s *ConnectionStore) GetPreferred(ctx context.Context) (string, error) {
	id, err := s.kv.Get(ctx, preferredKey)
	if err != nil {
		if err == ErrMiss {
			return "", nil
		}
		return "", fmt.Errorf("failed to get preferred integration: %w", err)
	}
	return id, nil
}

// SetPreferred sets the preferred integration id.
func (s *ConnectionStore) SetPreferred(ctx context.Context, id string) error {
	if err := s.kv.Set(ctx, preferredKey, id, 0); err != nil {
		return fmt.Errorf("failed to set preferred integration: %w", err)
	}
	return nil
}

// ClearPreferredIfMatches removes the preference only when it currently
// points at id. It never reassigns to another connected integration; the
// next successful connect sets a new preference.
func (s *ConnectionStore) ClearPreferredIfMatches(ctx context.Context, id string) error {
	current, err := s.GetPreferred(ctx)
	if err != nil {
		return err
	}
	if current != id {
		return nil
	}
	if err := s.kv.Del(ctx, preferredKey); err != nil {
		return fmt.Errorf("failed to clear preferred integration: %w", err)
	}
	return nil
}

// MarkConnected records a successful connect: sets the connected flag,
// stamps last-connected, clears the last error, and adopts id as preferred
// only when no preference exists yet (first successful connect wins).
func (s *ConnectionStore) MarkConnected(ctx context.Context, id string) error {
	now := s.now()
	conn := health.StoredConnection{
		Connected:       true,
		LastConnectedAt: &now,
	}
	if err := s.SetStatus(ctx, id, conn); err != nil {
		return err
	}

	preferred, err := s.GetPreferred(ctx)
	if err != nil {
		return err
	}
	if preferred == "" {
		if err := s.SetPreferred(ctx, id); err != nil {
			return err
		}
		s.logger.Info("Adopted preferred integration",
			zap.String("integration_id", id),
		)
	}
	return nil
}

// MarkDisconnected clears the connected flag, preserving last-connected,
// and drops the preference when id held it.
func (s *ConnectionStore) MarkDisconnected(ctx context.Context, id string) error {
	conn, err := s.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	updated := health.StoredConnection{Connected: false}
	if conn != nil {
		updated.LastConnectedAt = conn.LastConnectedAt
	}
	if err := s.SetStatus(ctx, id, updated); err != nil {
		return err
	}
	return s.ClearPreferredIfMatches(ctx, id)
}

// MarkError records a failed connect or permission attempt. The integration
// stays in whatever connected state it had; only the error text changes.
func (s *ConnectionStore) MarkError(ctx context.Context, id string, message string) error {
	conn, err := s.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	updated := health.StoredConnection{LastError: message}
	if conn != nil {
		updated.Connected = conn.Connected
		updated.LastConnectedAt = conn.LastConnectedAt
	}
	return s.SetStatus(ctx, id, updated)
}
