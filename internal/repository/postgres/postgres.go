// Package postgres implements the repositories on PostgreSQL through a
// pgx connection pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"somnoalert/internal/models"
	"somnoalert/internal/repository"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	model TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sessions (
	id BIGSERIAL PRIMARY KEY,
	device_id BIGINT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
	token TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS metrics (
	id BIGSERIAL PRIMARY KEY,
	session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	ts TIMESTAMPTZ NOT NULL,
	ear DOUBLE PRECISION,
	mar DOUBLE PRECISION,
	yaw DOUBLE PRECISION,
	pitch DOUBLE PRECISION,
	roll DOUBLE PRECISION,
	fused_score DOUBLE PRECISION,
	closed_frames INTEGER DEFAULT 0,
	is_drowsy BOOLEAN DEFAULT false,
	stage TEXT NOT NULL,
	reason JSONB
);

CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	ts TIMESTAMPTZ NOT NULL,
	type TEXT NOT NULL,
	duration_s DOUBLE PRECISION,
	hand TEXT,
	payload JSONB
);

CREATE TABLE IF NOT EXISTS window_reports (
	id BIGSERIAL PRIMARY KEY,
	session_id BIGINT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	ts TIMESTAMPTZ NOT NULL,
	detector TEXT NOT NULL,
	window_s DOUBLE PRECISION NOT NULL,
	counts JSONB,
	durations JSONB
);

CREATE TABLE IF NOT EXISTS device_config (
	device_id BIGINT PRIMARY KEY REFERENCES devices(id) ON DELETE CASCADE,
	updated_at TIMESTAMPTZ NOT NULL,
	config JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_metrics_session_ts ON metrics(session_id, ts);
CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_id, ts);
CREATE INDEX IF NOT EXISTS idx_window_reports_detector ON window_reports(detector);
`

// DB wraps the pool.
type DB struct {
	pool *pgxpool.Pool
}

// New connects to dsn and creates the schema.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &DB{pool: pool}, nil
}

func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

// NewStore connects and returns every repository on the pool.
func NewStore(ctx context.Context, dsn string) (*repository.Store, error) {
	db, err := New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &repository.Store{
		Devices:  &DeviceRepository{db: db},
		Sessions: &SessionRepository{db: db},
		Metrics:  &MetricRepository{db: db},
		Events:   &EventRepository{db: db},
		Reports:  &WindowReportRepository{db: db},
		Close:    db.Close,
	}, nil
}

type DeviceRepository struct{ db *DB }

func (r *DeviceRepository) Upsert(ctx context.Context, name, model string) (int64, error) {
	var id int64
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO devices (name, model) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET model = EXCLUDED.model
		RETURNING id
	`, name, model).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert device: %w", err)
	}
	return id, nil
}

func (r *DeviceRepository) SaveConfig(ctx context.Context, cfg models.DeviceConfig) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO device_config (device_id, updated_at, config) VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET updated_at = EXCLUDED.updated_at, config = EXCLUDED.config
	`, cfg.DeviceID, cfg.UpdatedAt, string(cfg.Config))
	if err != nil {
		return fmt.Errorf("failed to save device config: %w", err)
	}
	return nil
}

func (r *DeviceRepository) GetConfig(ctx context.Context, deviceID int64) (*models.DeviceConfig, error) {
	var (
		updated time.Time
		raw     string
	)
	err := r.db.pool.QueryRow(ctx, `
		SELECT updated_at, config::text FROM device_config WHERE device_id = $1
	`, deviceID).Scan(&updated, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device config: %w", err)
	}
	return &models.DeviceConfig{DeviceID: deviceID, UpdatedAt: updated, Config: []byte(raw)}, nil
}

type SessionRepository struct{ db *DB }

func (r *SessionRepository) Start(ctx context.Context, deviceID int64, token string, at time.Time) (int64, error) {
	var id int64
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO sessions (device_id, token, started_at) VALUES ($1, $2, $3) RETURNING id
	`, deviceID, token, at).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}
	return id, nil
}

func (r *SessionRepository) End(ctx context.Context, sessionID int64, at time.Time) error {
	tag, err := r.db.pool.Exec(ctx, `UPDATE sessions SET ended_at = $1 WHERE id = $2`, at, sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %d not found", sessionID)
	}
	return nil
}

type MetricRepository struct{ db *DB }

func (r *MetricRepository) InsertBatch(ctx context.Context, metrics []models.MetricRecord) error {
	if len(metrics) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range metrics {
		reason, err := json.Marshal(m.Reason)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO metrics (session_id, ts, ear, mar, yaw, pitch, roll, fused_score, closed_frames, is_drowsy, stage, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, m.SessionID, m.Timestamp, m.EAR, m.MAR, m.Yaw, m.Pitch, m.Roll, m.FusedScore, m.ClosedFrames, m.IsDrowsy, m.Stage, string(reason))
	}
	return r.db.sendBatch(ctx, batch, "metric")
}

type EventRepository struct{ db *DB }

func (r *EventRepository) InsertBatch(ctx context.Context, events []models.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range events {
		var hand *string
		if e.Hand != "" {
			h := e.Hand
			hand = &h
		}
		batch.Queue(`
			INSERT INTO events (session_id, ts, type, duration_s, hand, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, e.SessionID, e.Timestamp, e.Type, e.Duration, hand, string(e.Payload))
	}
	return r.db.sendBatch(ctx, batch, "event")
}

type WindowReportRepository struct{ db *DB }

func (r *WindowReportRepository) InsertBatch(ctx context.Context, reports []models.WindowReport) error {
	if len(reports) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, w := range reports {
		batch.Queue(`
			INSERT INTO window_reports (session_id, ts, detector, window_s, counts, durations)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, w.SessionID, w.Timestamp, w.Detector, w.WindowS, string(w.Counts), string(w.Durations))
	}
	return r.db.sendBatch(ctx, batch, "window report")
}

// sendBatch runs batch inside one transaction.
func (db *DB) sendBatch(ctx context.Context, batch *pgx.Batch, what string) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert %s: %w", what, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to insert %s: %w", what, err)
	}
	return tx.Commit(ctx)
}
