package httpd

import (
	"encoding/json"
	"net/http"

	"github.com/jgwerner/nbexchange/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"status": "error",
		"error":  message,
	})
}

func writeErrorKind(w http.ResponseWriter, status int, kind models.ErrorKind, message string) {
	writeJSON(w, status, map[string]interface{}{
		"status":     "error",
		"error_kind": string(kind),
		"error":      message,
	})
}

// statusForError переводит вид ошибки обмена в HTTP-статус.
// Ошибки целостности отдаются как 500: это повреждение хранилища,
// а не проблема запроса.
func statusForError(kind models.ErrorKind) int {
	switch kind {
	case models.ErrKindForbidden:
		return http.StatusForbidden
	case models.ErrKindNotFound:
		return http.StatusNotFound
	case models.ErrKindConflict:
		return http.StatusConflict
	case models.ErrKindInvalid:
		return http.StatusBadRequest
	case models.ErrKindIntegrity:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
