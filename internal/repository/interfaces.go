package repository

import (
	"context"
	"time"

	"somnoalert/internal/models"
)

// DeviceRepository stores the unit identity and its last configuration.
type DeviceRepository interface {
	// Upsert returns the id of the device with this name, creating it if needed.
	Upsert(ctx context.Context, name, model string) (int64, error)
	SaveConfig(ctx context.Context, cfg models.DeviceConfig) error
	GetConfig(ctx context.Context, deviceID int64) (*models.DeviceConfig, error)
}

// SessionRepository records processing runs.
type SessionRepository interface {
	Start(ctx context.Context, deviceID int64, token string, at time.Time) (int64, error)
	End(ctx context.Context, sessionID int64, at time.Time) error
}

// MetricRepository stores per-frame metric snapshots.
type MetricRepository interface {
	InsertBatch(ctx context.Context, metrics []models.MetricRecord) error
}

// EventRepository stores detector events.
type EventRepository interface {
	InsertBatch(ctx context.Context, events []models.EventRecord) error
}

// WindowReportRepository stores periodic detector aggregates.
type WindowReportRepository interface {
	InsertBatch(ctx context.Context, reports []models.WindowReport) error
}

// Store bundles the repositories of one backend.
type Store struct {
	Devices  DeviceRepository
	Sessions SessionRepository
	Metrics  MetricRepository
	Events   EventRepository
	Reports  WindowReportRepository
	Close    func() error
}
