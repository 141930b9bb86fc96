package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"somnoalert/internal/logger"
	"somnoalert/internal/services/fusion"
	"somnoalert/internal/services/settings"
)

const maxPatchBytes = 64 << 10

// ConfigSaver persists the configuration after a successful write.
type ConfigSaver interface {
	SaveConfig(ctx context.Context, cfg interface{}, now time.Time) error
}

// ConfigResponse is the reply to POST /config.
type ConfigResponse struct {
	settings.ApplyResult
	Config settings.Configuration `json:"config"`
}

// ConfigHandler serves GET /config with the current configuration and
// applies partial updates on POST /config. saver may be nil.
func ConfigHandler(store *settings.Store, saver ConfigSaver, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, store.Get(), logger)
		case http.MethodPost:
			updateConfig(w, r, store, saver, logger)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func updateConfig(w http.ResponseWriter, r *http.Request, store *settings.Store, saver ConfigSaver, logger *logger.Logger) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPatchBytes))
	if err != nil {
		http.Error(w, "Unable to read request body", http.StatusBadRequest)
		return
	}

	res, err := store.Apply(body)
	if errors.Is(err, settings.ErrInvalidPatch) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		logger.Error("Error applying configuration: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	cfg := store.Get()
	logger.Info("Configuration update: %s", res)
	if len(res.Applied) > 0 {
		for _, warning := range fusion.CheckMonotonic(cfg.Thresholds) {
			logger.Warning("Thresholds not monotonic: %s", warning)
		}
		if saver != nil {
			if err := saver.SaveConfig(r.Context(), cfg, time.Now()); err != nil {
				logger.Error("Error saving configuration: %v", err)
			}
		}
	}

	if res.Applied == nil {
		res.Applied = []string{}
	}
	if res.Rejected == nil {
		res.Rejected = []settings.FieldError{}
	}
	writeJSON(w, http.StatusOK, ConfigResponse{ApplyResult: res, Config: cfg}, logger)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *logger.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
