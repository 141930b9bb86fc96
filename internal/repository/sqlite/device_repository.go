package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"somnoalert/internal/models"
)

// DeviceRepository implements repository.DeviceRepository for SQLite.
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository creates a new SQLite device repository.
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Upsert registers the device by name and returns its id.
func (r *DeviceRepository) Upsert(ctx context.Context, name, model string) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO devices (name, model) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET model = excluded.model
	`, name, model); err != nil {
		return 0, fmt.Errorf("failed to upsert device: %w", err)
	}

	var id int64
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT id FROM devices WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to get device id: %w", err)
	}
	return id, nil
}

// SaveConfig replaces the stored configuration of a device.
func (r *DeviceRepository) SaveConfig(ctx context.Context, cfg models.DeviceConfig) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO device_config (device_id, updated_at, config) VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET updated_at = excluded.updated_at, config = excluded.config
	`, cfg.DeviceID, cfg.UpdatedAt.UTC(), string(cfg.Config))
	if err != nil {
		return fmt.Errorf("failed to save device config: %w", err)
	}
	return nil
}

// GetConfig returns the stored configuration, or nil if there is none.
func (r *DeviceRepository) GetConfig(ctx context.Context, deviceID int64) (*models.DeviceConfig, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var (
		updated time.Time
		raw     string
	)
	err := r.db.Conn().QueryRowContext(ctx, `
		SELECT updated_at, config FROM device_config WHERE device_id = ?
	`, deviceID).Scan(&updated, &raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device config: %w", err)
	}
	return &models.DeviceConfig{DeviceID: deviceID, UpdatedAt: updated, Config: []byte(raw)}, nil
}
