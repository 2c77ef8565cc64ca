package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jgwerner/nbexchange/internal/models"
)

// viewerIdentity достаёт проверенную identity-провайдером пару
// (user_id, role) из query-параметров запроса на чтение.
func viewerIdentity(r *http.Request) (string, models.Role, bool) {
	userID := r.URL.Query().Get("user_id")
	role := r.URL.Query().Get("role")
	if userID == "" || !models.IsValidRole(role) {
		return "", "", false
	}
	return userID, models.Role(role), true
}

func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "course_id")
	if courseID == "" {
		writeError(w, http.StatusBadRequest, "course_id is required")
		return
	}

	viewerID, viewerRole, ok := viewerIdentity(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user_id and role are required")
		return
	}

	summaries, err := h.exchangeService.ListAssignments(r.Context(), courseID, viewerID, viewerRole)
	if err != nil {
		h.handleExchangeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"course_id":   courseID,
		"assignments": summaries,
		"count":       len(summaries),
	})
}

func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "course_id")
	assignmentID := chi.URLParam(r, "assignment_id")
	if courseID == "" || assignmentID == "" {
		writeError(w, http.StatusBadRequest, "course_id and assignment_id are required")
		return
	}

	viewerID, viewerRole, ok := viewerIdentity(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "user_id and role are required")
		return
	}

	history, err := h.exchangeService.History(r.Context(), courseID, assignmentID, viewerID, viewerRole)
	if err != nil {
		h.handleExchangeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"course_id":     courseID,
		"assignment_id": assignmentID,
		"actions":       history,
		"count":         len(history),
	})
}
