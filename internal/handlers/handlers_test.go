package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"somnoalert/internal/config"
	"somnoalert/internal/logger"
	"somnoalert/internal/middleware"
	"somnoalert/internal/services/settings"
	"somnoalert/internal/services/stats"
	hub "somnoalert/internal/services/websocket"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type savedConfigs struct{ saved []interface{} }

func (s *savedConfigs) SaveConfig(_ context.Context, cfg interface{}, _ time.Time) error {
	s.saved = append(s.saved, cfg)
	return nil
}

func TestConfigHandlerGet(t *testing.T) {
	store := settings.NewStore(settings.Defaults())
	rec := httptest.NewRecorder()
	ConfigHandler(store, nil, logger.NewDiscard())(rec, httptest.NewRequest(http.MethodGet, "/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got settings.Configuration
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, settings.Defaults(), got)
}

func TestConfigHandlerPost(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantStatus    int
		wantApplied   []string
		wantRejected  []string
		cameraChanged bool
		saves         int
	}{
		{
			name:         "partial write",
			body:         `{"thresholds":{"drowsy":{"ear":0.18}},"bogus":1}`,
			wantStatus:   http.StatusOK,
			wantApplied:  []string{"thresholds.drowsy.ear"},
			wantRejected: []string{"bogus"},
			saves:        1,
		},
		{
			name:          "camera change",
			body:          `{"camera":{"width":1280,"height":720}}`,
			wantStatus:    http.StatusOK,
			wantApplied:   []string{"camera.height", "camera.width"},
			wantRejected:  []string{},
			cameraChanged: true,
			saves:         1,
		},
		{
			name:         "nothing valid",
			body:         `{"weights":{"w_ear":-1}}`,
			wantStatus:   http.StatusOK,
			wantApplied:  []string{},
			wantRejected: []string{"weights.w_ear"},
		},
		{
			name:       "malformed",
			body:       `[1,2]`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := settings.NewStore(settings.Defaults())
			saver := &savedConfigs{}
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/config", strings.NewReader(tt.body))
			ConfigHandler(store, saver, logger.NewDiscard())(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Len(t, saver.saved, tt.saves)
			if tt.wantStatus != http.StatusOK {
				assert.Equal(t, settings.Defaults(), store.Get())
				return
			}

			var resp ConfigResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantApplied, resp.Applied)
			rejected := []string{}
			for _, r := range resp.Rejected {
				rejected = append(rejected, r.Field)
			}
			assert.Equal(t, tt.wantRejected, rejected)
			assert.Equal(t, tt.cameraChanged, resp.CameraChanged)
			assert.Equal(t, store.Get(), resp.Config)
		})
	}
}

func TestHealthHandler(t *testing.T) {
	metrics := stats.NewMetrics()
	metrics.IncrementFrames(time.Unix(100, 0))
	rec := httptest.NewRecorder()
	HealthHandler(metrics, logger.NewDiscard())(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got["status"])
	assert.Equal(t, float64(1), got["frames"])
}

func TestLoginHandler(t *testing.T) {
	cfg := &config.Config{Password: "secret"}
	login := func(password string) *httptest.ResponseRecorder {
		form := url.Values{"password": {password}}
		req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		LoginHandler(cfg, logger.NewDiscard())(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, login("wrong").Code)

	rec := login("secret")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middleware.CookieName, cookies[0].Name)
	assert.Equal(t, middleware.CookieValue("secret"), cookies[0].Value)

	rec = httptest.NewRecorder()
	LogoutHandler(rec, httptest.NewRequest(http.MethodGet, "/auth/logout", nil))
	require.Len(t, rec.Result().Cookies(), 1)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestLogsHandlers(t *testing.T) {
	dir := t.TempDir()
	log := logger.NewLogger(dir)
	log.Warning("camera lost")

	rec := httptest.NewRecorder()
	ShowLogsHandler(log, logger.WarningFile)(rec, httptest.NewRequest(http.MethodGet, "/logs/warning", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "camera lost")

	rec = httptest.NewRecorder()
	ClearLogsHandler(log, logger.WarningFile)(rec, httptest.NewRequest(http.MethodGet, "/logs/warning/clear", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	ClearLogsHandler(log, logger.WarningFile)(rec, httptest.NewRequest(http.MethodPost, "/logs/warning/clear", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	data, err := os.ReadFile(filepath.Join(dir, logger.WarningFile))
	require.NoError(t, err)
	assert.Empty(t, data)

	rec = httptest.NewRecorder()
	ShowLogsHandler(logger.NewDiscard(), logger.InfoFile)(rec, httptest.NewRequest(http.MethodGet, "/logs/info", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestViewWebsocketHandler(t *testing.T) {
	log := logger.NewDiscard()
	h := hub.NewHubService(log, stats.NewMetrics())
	srv := httptest.NewServer(ViewWebsocketHandler(h, log))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.Broadcast([]byte(`{"type":"metrics"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"metrics"}`, string(msg))

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	require.Eventually(t, func() bool { return h.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
