package sqlite

import (
	"database/sql"
	"fmt"
	"sync"

	"somnoalert/internal/repository"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection with thread-safe access.
type DB struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// New creates and initializes a new SQLite database connection.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// migrate creates the necessary tables if they don't exist.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		model TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL,
		token TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		ts DATETIME NOT NULL,
		ear REAL,
		mar REAL,
		yaw REAL,
		pitch REAL,
		roll REAL,
		fused_score REAL,
		closed_frames INTEGER DEFAULT 0,
		is_drowsy INTEGER DEFAULT 0,
		stage TEXT NOT NULL,
		reason TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		ts DATETIME NOT NULL,
		type TEXT NOT NULL,
		duration_s REAL,
		hand TEXT,
		payload TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS window_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		ts DATETIME NOT NULL,
		detector TEXT NOT NULL,
		window_s REAL NOT NULL,
		counts TEXT,
		durations TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS device_config (
		device_id INTEGER PRIMARY KEY,
		updated_at DATETIME NOT NULL,
		config TEXT NOT NULL,
		FOREIGN KEY (device_id) REFERENCES devices(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_session_ts ON metrics(session_id, ts);
	CREATE INDEX IF NOT EXISTS idx_events_session_ts ON events(session_id, ts);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
	CREATE INDEX IF NOT EXISTS idx_window_reports_detector ON window_reports(detector);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection for use by repositories.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Lock acquires a write lock.
func (db *DB) Lock() {
	db.mu.Lock()
}

// Unlock releases the write lock.
func (db *DB) Unlock() {
	db.mu.Unlock()
}

// RLock acquires a read lock.
func (db *DB) RLock() {
	db.mu.RLock()
}

// RUnlock releases the read lock.
func (db *DB) RUnlock() {
	db.mu.RUnlock()
}

// NewStore opens the database at dbPath and returns every repository on it.
func NewStore(dbPath string) (*repository.Store, error) {
	db, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	return &repository.Store{
		Devices:  NewDeviceRepository(db),
		Sessions: NewSessionRepository(db),
		Metrics:  NewMetricRepository(db),
		Events:   NewEventRepository(db),
		Reports:  NewWindowReportRepository(db),
		Close:    db.Close,
	}, nil
}
