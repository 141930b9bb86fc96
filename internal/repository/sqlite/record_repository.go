package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"somnoalert/internal/models"
)

// MetricRepository implements repository.MetricRepository for SQLite.
type MetricRepository struct {
	db *DB
}

// NewMetricRepository creates a new SQLite metric repository.
func NewMetricRepository(db *DB) *MetricRepository {
	return &MetricRepository{db: db}
}

// InsertBatch adds multiple metric snapshots in a single transaction.
func (r *MetricRepository) InsertBatch(ctx context.Context, metrics []models.MetricRecord) error {
	if len(metrics) == 0 {
		return nil
	}
	return r.db.inTx(ctx, `
		INSERT INTO metrics (session_id, ts, ear, mar, yaw, pitch, roll, fused_score, closed_frames, is_drowsy, stage, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, m := range metrics {
			reason, err := json.Marshal(m.Reason)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, m.SessionID, m.Timestamp.UTC(), m.EAR, m.MAR, m.Yaw, m.Pitch, m.Roll,
				m.FusedScore, m.ClosedFrames, m.IsDrowsy, m.Stage, string(reason)); err != nil {
				return fmt.Errorf("failed to insert metric: %w", err)
			}
		}
		return nil
	})
}

// EventRepository implements repository.EventRepository for SQLite.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new SQLite event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// InsertBatch adds multiple events in a single transaction.
func (r *EventRepository) InsertBatch(ctx context.Context, events []models.EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.inTx(ctx, `
		INSERT INTO events (session_id, ts, type, duration_s, hand, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, e := range events {
			var hand interface{}
			if e.Hand != "" {
				hand = e.Hand
			}
			if _, err := stmt.ExecContext(ctx, e.SessionID, e.Timestamp.UTC(), e.Type, e.Duration, hand, string(e.Payload)); err != nil {
				return fmt.Errorf("failed to insert event: %w", err)
			}
		}
		return nil
	})
}

// WindowReportRepository implements repository.WindowReportRepository for SQLite.
type WindowReportRepository struct {
	db *DB
}

// NewWindowReportRepository creates a new SQLite window report repository.
func NewWindowReportRepository(db *DB) *WindowReportRepository {
	return &WindowReportRepository{db: db}
}

// InsertBatch adds multiple window reports in a single transaction.
func (r *WindowReportRepository) InsertBatch(ctx context.Context, reports []models.WindowReport) error {
	if len(reports) == 0 {
		return nil
	}
	return r.db.inTx(ctx, `
		INSERT INTO window_reports (session_id, ts, detector, window_s, counts, durations)
		VALUES (?, ?, ?, ?, ?, ?)
	`, func(stmt *sql.Stmt) error {
		for _, w := range reports {
			if _, err := stmt.ExecContext(ctx, w.SessionID, w.Timestamp.UTC(), w.Detector, w.WindowS,
				string(w.Counts), string(w.Durations)); err != nil {
				return fmt.Errorf("failed to insert window report: %w", err)
			}
		}
		return nil
	})
}

// inTx prepares query inside a write-locked transaction and hands the
// statement to fn. The transaction commits only if fn succeeds.
func (db *DB) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	db.Lock()
	defer db.Unlock()

	tx, err := db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}
	return tx.Commit()
}
