package httpd

import (
	"net/http"
	"time"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "exchange-service",
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	info, err := h.storageRepo.Info(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to get storage info")
		writeError(w, http.StatusInternalServerError, "failed to get storage info")
		return
	}

	writeSuccess(w, map[string]interface{}{
		"storage":   info,
		"timestamp": time.Now().UTC(),
	})
}
