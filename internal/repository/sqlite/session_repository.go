package sqlite

import (
	"context"
	"fmt"
	"time"
)

// SessionRepository implements repository.SessionRepository for SQLite.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new SQLite session repository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Start opens a session and returns its id.
func (r *SessionRepository) Start(ctx context.Context, deviceID int64, token string, at time.Time) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO sessions (device_id, token, started_at) VALUES (?, ?, ?)
	`, deviceID, token, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to start session: %w", err)
	}
	return result.LastInsertId()
}

// End stamps the session's end time.
func (r *SessionRepository) End(ctx context.Context, sessionID int64, at time.Time) error {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().ExecContext(ctx, `UPDATE sessions SET ended_at = ? WHERE id = ?`, at.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d not found", sessionID)
	}
	return nil
}
