// Package repository is the optional Postgres archive for normalized
// observations. The monitoring engine works without it; when configured it
// receives everything the engine reads so history survives app restarts.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/IoTWazPresales/Reclaim-sub001/internal/health"
)

// ObservationRepository persists normalized health observations.
type ObservationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewObservationRepository creates a new observation repository.
func NewObservationRepository(db *sql.DB, logger *zap.Logger) *ObservationRepository {
	return &ObservationRepository{
		db:     db,
		logger: logger,
	}
}

// InsertHeartRateSamples writes a batch of heart-rate samples in one
// transaction. Duplicate (timestamp, source) pairs are skipped so repeated
// polling windows do not double-write.
func (r *ObservationRepository) InsertHeartRateSamples(ctx context.Context, samples []health.HeartRateSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO heart_rate_samples (value, recorded_at, source)
		VALUES ($1, $2, $3)
		ON CONFLICT (recorded_at, source) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.ExecContext(ctx, s.Value, s.Timestamp, string(s.Source)); err != nil {
			return fmt.Errorf("failed to insert heart rate sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit heart rate batch: %w", err)
	}
	return nil
}

// InsertSleepSession writes one sleep session. Stages and metadata are
// stored as JSONB alongside the scalar columns.
func (r *ObservationRepository) InsertSleepSession(ctx context.Context, session health.SleepSession) error {
	stages, err := json.Marshal(session.Stages)
	if err != nil {
		return fmt.Errorf("failed to encode sleep stages: %w", err)
	}
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode sleep metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sleep_sessions
			(start_time, end_time, duration_minutes, efficiency, stages, metadata, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (start_time, source) DO UPDATE SET
			end_time = EXCLUDED.end_time,
			duration_minutes = EXCLUDED.duration_minutes,
			efficiency = EXCLUDED.efficiency,
			stages = EXCLUDED.stages,
			metadata = EXCLUDED.metadata
	`, session.StartTime, session.EndTime, session.DurationMinutes,
		session.Efficiency, stages, metadata, string(session.Source))
	if err != nil {
		return fmt.Errorf("failed to insert sleep session: %w", err)
	}
	return nil
}

// InsertActivitySample writes one activity aggregate. Re-reads of the same
// day replace the earlier row, since day buckets grow as the day goes on.
func (r *ObservationRepository) InsertActivitySample(ctx context.Context, sample health.ActivitySample) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity_samples (steps, active_energy_burned, recorded_at, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (recorded_at, source) DO UPDATE SET
			steps = EXCLUDED.steps,
			active_energy_burned = EXCLUDED.active_energy_burned
	`, sample.Steps, sample.ActiveEnergyBurned, sample.Timestamp, string(sample.Source))
	if err != nil {
		return fmt.Errorf("failed to insert activity sample: %w", err)
	}
	return nil
}

// LatestHeartRate returns the most recently recorded sample, or nil when
// the archive is empty.
func (r *ObservationRepository) LatestHeartRate(ctx context.Context) (*health.HeartRateSample, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT value, recorded_at, source
		FROM heart_rate_samples
		ORDER BY recorded_at DESC
		LIMIT 1
	`)

	var sample health.HeartRateSample
	var source string
	if err := row.Scan(&sample.Value, &sample.Timestamp, &source); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest heart rate: %w", err)
	}
	sample.Source = health.Platform(source)
	return &sample, nil
}

// SleepSessionsBetween returns archived sessions whose end falls in
// [start, end], newest first.
func (r *ObservationRepository) SleepSessionsBetween(ctx context.Context, start, end time.Time) ([]health.SleepSession, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT start_time, end_time, duration_minutes, efficiency, stages, metadata, source
		FROM sleep_sessions
		WHERE end_time BETWEEN $1 AND $2
		ORDER BY end_time DESC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query sleep sessions: %w", err)
	}
	defer rows.Close()

	var sessions []health.SleepSession
	for rows.Next() {
		var s health.SleepSession
		var source string
		var stages, metadata []byte
		if err := rows.Scan(&s.StartTime, &s.EndTime, &s.DurationMinutes,
			&s.Efficiency, &stages, &metadata, &source); err != nil {
			return nil, fmt.Errorf("failed to scan sleep session: %w", err)
		}
		if len(stages) > 0 {
			if err := json.Unmarshal(stages, &s.Stages); err != nil {
				return nil, fmt.Errorf("failed to decode sleep stages: %w", err)
			}
		}
		if len(metadata) > 0 && string(metadata) != "null" {
			if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode sleep metadata: %w", err)
			}
		}
		s.Source = health.Platform(source)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sleep sessions: %w", err)
	}
	return sessions, nil
}
