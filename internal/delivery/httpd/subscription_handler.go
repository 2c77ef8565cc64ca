package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jgwerner/nbexchange/internal/models"
)

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req models.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CourseID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "course_id and user_id are required")
		return
	}

	if err := h.directoryService.Subscribe(r.Context(), req.CourseID, req.UserID, models.Role(req.Role)); err != nil {
		h.handleExchangeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"course_id": req.CourseID,
		"user_id":   req.UserID,
		"role":      req.Role,
	})
}

func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req models.UnsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CourseID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "course_id and user_id are required")
		return
	}

	if err := h.directoryService.Unsubscribe(r.Context(), req.CourseID, req.UserID); err != nil {
		h.handleExchangeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"course_id": req.CourseID,
		"user_id":   req.UserID,
	})
}

func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "course_id")
	if courseID == "" {
		writeError(w, http.StatusBadRequest, "course_id is required")
		return
	}

	members, err := h.directoryService.ListMembers(r.Context(), courseID)
	if err != nil {
		h.handleExchangeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"course_id": courseID,
		"members":   members,
		"count":     len(members),
	})
}

func (h *Handler) DeactivateCourse(w http.ResponseWriter, r *http.Request) {
	courseID := chi.URLParam(r, "course_id")
	if courseID == "" {
		writeError(w, http.StatusBadRequest, "course_id is required")
		return
	}

	if err := h.directoryService.DeactivateCourse(r.Context(), courseID); err != nil {
		h.handleExchangeError(w, err)
		return
	}

	writeSuccess(w, map[string]interface{}{
		"course_id": courseID,
		"active":    false,
	})
}
