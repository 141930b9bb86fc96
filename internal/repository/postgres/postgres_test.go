package postgres

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"somnoalert/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only against a disposable database named by TEST_POSTGRES_DSN.
func setupStore(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRoundTrip(t *testing.T) {
	db := setupStore(t)
	ctx := context.Background()

	devices := &DeviceRepository{db: db}
	id, err := devices.Upsert(ctx, "test-"+time.Now().Format("150405.000"), "ci")
	require.NoError(t, err)

	sessions := &SessionRepository{db: db}
	sessionID, err := sessions.Start(ctx, id, "tok", time.Now())
	require.NoError(t, err)

	ear := 0.3
	require.NoError(t, (&MetricRepository{db: db}).InsertBatch(ctx, []models.MetricRecord{
		{SessionID: sessionID, Timestamp: time.Now(), EAR: &ear, Stage: "normal", Reason: []string{}},
	}))
	require.NoError(t, (&EventRepository{db: db}).InsertBatch(ctx, []models.EventRecord{
		{SessionID: sessionID, Timestamp: time.Now(), Type: models.EventEyeBlink, Payload: json.RawMessage(`{"type":"eye_blink"}`)},
	}))
	require.NoError(t, (&WindowReportRepository{db: db}).InsertBatch(ctx, []models.WindowReport{
		{SessionID: sessionID, Timestamp: time.Now(), Detector: "yawn", WindowS: 180,
			Counts: json.RawMessage(`{"yawns":0}`), Durations: json.RawMessage(`{"yawns":[]}`)},
	}))

	require.NoError(t, devices.SaveConfig(ctx, models.DeviceConfig{DeviceID: id, UpdatedAt: time.Now(), Config: json.RawMessage(`{"a":1}`)}))
	cfg, err := devices.GetConfig(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(cfg.Config))

	require.NoError(t, sessions.End(ctx, sessionID, time.Now()))
}
