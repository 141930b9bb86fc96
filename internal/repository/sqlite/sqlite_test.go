package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"somnoalert/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupSession(t *testing.T, db *DB) int64 {
	t.Helper()
	ctx := context.Background()
	deviceID, err := NewDeviceRepository(db).Upsert(ctx, "cab-01", "pi5")
	if err != nil {
		t.Fatalf("Failed to upsert device: %v", err)
	}
	sessionID, err := NewSessionRepository(db).Start(ctx, deviceID, "tok", time.Now())
	if err != nil {
		t.Fatalf("Failed to start session: %v", err)
	}
	return sessionID
}

func count(t *testing.T, db *DB, table string) int {
	t.Helper()
	var n int
	if err := db.Conn().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}

func f(v float64) *float64 { return &v }

func TestDatabase_Connection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file should exist")
	}
	for _, table := range []string{"devices", "sessions", "metrics", "events", "window_reports", "device_config"} {
		if n := count(t, db, table); n != 0 {
			t.Errorf("table %s has %d rows, want 0", table, n)
		}
	}
}

func TestDatabase_MigrateTwice(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		db, err := New(dbPath)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		db.Close()
	}
}

func TestDeviceRepository_Upsert(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)
	ctx := context.Background()

	id1, err := repo.Upsert(ctx, "cab-01", "pi4")
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	id2, err := repo.Upsert(ctx, "cab-01", "pi5")
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("same name got ids %d and %d", id1, id2)
	}
	var model string
	db.Conn().QueryRow("SELECT model FROM devices WHERE id = ?", id1).Scan(&model)
	if model != "pi5" {
		t.Errorf("model = %q, want pi5", model)
	}

	id3, _ := repo.Upsert(ctx, "cab-02", "pi5")
	if id3 == id1 {
		t.Error("different devices share an id")
	}
}

func TestDeviceRepository_Config(t *testing.T) {
	db := setupTestDB(t)
	repo := NewDeviceRepository(db)
	ctx := context.Background()
	id, _ := repo.Upsert(ctx, "cab-01", "pi5")

	got, err := repo.GetConfig(ctx, id)
	if err != nil || got != nil {
		t.Fatalf("GetConfig on empty = %v, %v", got, err)
	}

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for _, body := range []string{`{"v":1}`, `{"v":2}`} {
		if err := repo.SaveConfig(ctx, models.DeviceConfig{DeviceID: id, UpdatedAt: at, Config: json.RawMessage(body)}); err != nil {
			t.Fatalf("SaveConfig failed: %v", err)
		}
	}
	got, err = repo.GetConfig(ctx, id)
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if string(got.Config) != `{"v":2}` {
		t.Errorf("config = %s, want latest", got.Config)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Errorf("updated_at = %v, want %v", got.UpdatedAt, at)
	}
	if n := count(t, db, "device_config"); n != 1 {
		t.Errorf("device_config rows = %d, want 1", n)
	}
}

func TestSessionRepository_StartEnd(t *testing.T) {
	db := setupTestDB(t)
	sessionID := setupSession(t, db)
	repo := NewSessionRepository(db)

	if err := repo.End(context.Background(), sessionID, time.Now()); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	var ended *time.Time
	db.Conn().QueryRow("SELECT ended_at FROM sessions WHERE id = ?", sessionID).Scan(&ended)
	if ended == nil {
		t.Error("ended_at not set")
	}
	if err := repo.End(context.Background(), 999, time.Now()); err == nil {
		t.Error("ending an unknown session should fail")
	}
}

func TestMetricRepository_InsertBatch(t *testing.T) {
	db := setupTestDB(t)
	sessionID := setupSession(t, db)
	repo := NewMetricRepository(db)

	now := time.Now()
	batch := []models.MetricRecord{
		{SessionID: sessionID, Timestamp: now, EAR: f(0.31), MAR: f(0.1), Stage: "normal", Reason: []string{}},
		{SessionID: sessionID, Timestamp: now.Add(time.Second), Stage: "drowsy", IsDrowsy: true, ClosedFrames: 60,
			FusedScore: f(0.8), Reason: []string{"stage drowsy"}},
	}
	if err := repo.InsertBatch(context.Background(), batch); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	if err := repo.InsertBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty InsertBatch failed: %v", err)
	}
	if n := count(t, db, "metrics"); n != 2 {
		t.Fatalf("metrics rows = %d, want 2", n)
	}

	var (
		ear    *float64
		reason string
	)
	db.Conn().QueryRow("SELECT ear, reason FROM metrics WHERE stage = 'drowsy'").Scan(&ear, &reason)
	if ear != nil {
		t.Errorf("missing EAR stored as %v, want NULL", *ear)
	}
	if reason != `["stage drowsy"]` {
		t.Errorf("reason = %s", reason)
	}
}

func TestEventRepository_InsertBatch(t *testing.T) {
	db := setupTestDB(t)
	sessionID := setupSession(t, db)
	repo := NewEventRepository(db)

	events := []models.EventRecord{
		{SessionID: sessionID, Timestamp: time.Now(), Type: models.EventEyeBlink, Payload: json.RawMessage(`{"type":"eye_blink"}`)},
		{SessionID: sessionID, Timestamp: time.Now(), Type: models.EventEyeRub, Duration: f(1.4), Hand: "left",
			Payload: json.RawMessage(`{"type":"eye_rub","hand":"left"}`)},
	}
	if err := repo.InsertBatch(context.Background(), events); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	var hand string
	var dur float64
	db.Conn().QueryRow("SELECT hand, duration_s FROM events WHERE type = 'eye_rub'").Scan(&hand, &dur)
	if hand != "left" || dur != 1.4 {
		t.Errorf("eye_rub row = %q %v", hand, dur)
	}
}

func TestEventRepository_RollsBackOnFailure(t *testing.T) {
	db := setupTestDB(t)
	sessionID := setupSession(t, db)
	repo := NewEventRepository(db)

	events := []models.EventRecord{
		{SessionID: sessionID, Timestamp: time.Now(), Type: models.EventYawn},
		{SessionID: 9999, Timestamp: time.Now(), Type: models.EventYawn},
	}
	if err := repo.InsertBatch(context.Background(), events); err == nil {
		t.Fatal("expected foreign key failure")
	}
	if n := count(t, db, "events"); n != 0 {
		t.Errorf("events rows = %d after failed batch, want 0", n)
	}
}

func TestWindowReportRepository_InsertBatch(t *testing.T) {
	db := setupTestDB(t)
	sessionID := setupSession(t, db)
	repo := NewWindowReportRepository(db)

	reports := []models.WindowReport{{
		SessionID: sessionID,
		Timestamp: time.Now(),
		Detector:  "blink",
		WindowS:   60,
		Counts:    json.RawMessage(`{"flickers":3,"microsleeps":1}`),
		Durations: json.RawMessage(`{"microsleeps":[2.5]}`),
	}}
	if err := repo.InsertBatch(context.Background(), reports); err != nil {
		t.Fatalf("InsertBatch failed: %v", err)
	}
	var counts string
	db.Conn().QueryRow("SELECT counts FROM window_reports WHERE detector = 'blink'").Scan(&counts)
	if counts != `{"flickers":3,"microsleeps":1}` {
		t.Errorf("counts = %s", counts)
	}
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()
	if _, err := store.Devices.Upsert(context.Background(), "cab", "m"); err != nil {
		t.Fatalf("Upsert through store failed: %v", err)
	}
}
