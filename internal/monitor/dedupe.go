package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
	"github.com/IoTWazPresales/Reclaim-sub001/internal/store"
)

const lastFiredKeyFormat = "reclaim:trigger:%s:last_fired"

// DedupeStore persists one "last fired" timestamp per trigger kind and
// answers whether that timestamp falls on the current calendar day. This is
// a date comparison, not a rolling 24h window: a trigger that fired at
// 23:50 may fire again at 00:10.
type DedupeStore struct {
	kv  store.KV
	now func() time.Time
}

func NewDedupeStore(kv store.KV) *DedupeStore {
	return &DedupeStore{kv: kv, now: time.Now}
}

func lastFiredKey(trigger health.TriggerType) string {
	return fmt.Sprintf(lastFiredKeyFormat, trigger)
}

// FiredToday reports whether the trigger already fired on the current local
// calendar day.
func (d *DedupeStore) FiredToday(ctx context.Context, trigger health.TriggerType) (bool, error) {
	raw, err := d.kv.Get(ctx, lastFiredKey(trigger))
	if err != nil {
		if err == store.ErrMiss {
			return false, nil
		}
		return false, fmt.Errorf("failed to read last-fired record for %s: %w", trigger, err)
	}

	lastFired, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false, fmt.Errorf("failed to parse last-fired record for %s: %w", trigger, err)
	}

	return sameCalendarDay(lastFired.Local(), d.now().Local()), nil
}

// MarkFired stamps the trigger's last-fired record with the current time.
// Called immediately after successful delivery, never before.
func (d *DedupeStore) MarkFired(ctx context.Context, trigger health.TriggerType) error {
	value := d.now().Format(time.RFC3339)
	if err := d.kv.Set(ctx, lastFiredKey(trigger), value, 0); err != nil {
		return fmt.Errorf("failed to stamp last-fired record for %s: %w", trigger, err)
	}
	return nil
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
