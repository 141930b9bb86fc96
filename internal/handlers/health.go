package handlers

import (
	"net/http"

	"somnoalert/internal/logger"
	"somnoalert/internal/services/stats"
)

// HealthHandler reports the runtime counters.
func HealthHandler(metrics *stats.Metrics, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := metrics.Snapshot()
		data["status"] = "ok"
		writeJSON(w, http.StatusOK, data, logger)
	}
}
