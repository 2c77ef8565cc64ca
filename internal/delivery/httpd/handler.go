package httpd

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jgwerner/nbexchange/internal/models"
	"github.com/jgwerner/nbexchange/internal/repository"
	"github.com/jgwerner/nbexchange/internal/service"
)

type Handler struct {
	exchangeService  service.ExchangeService
	directoryService service.DirectoryService
	storageRepo      *repository.StorageRepository
	maxUploadSize    int64
	logger           zerolog.Logger
}

func NewHandler(
	exchangeService service.ExchangeService,
	directoryService service.DirectoryService,
	storageRepo *repository.StorageRepository,
	maxUploadSize int64,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		exchangeService:  exchangeService,
		directoryService: directoryService,
		storageRepo:      storageRepo,
		maxUploadSize:    maxUploadSize,
		logger:           logger,
	}
}

func (h *Handler) RegisterRoutes(router chi.Router) {
	// Health check
	router.Get("/health", h.HealthCheck)
	router.Get("/ready", h.ReadyCheck)
	router.Get("/stats", h.GetStats)

	// Versioned API
	router.Route("/api/v1", func(api chi.Router) {
		api.Route("/exchange", func(r chi.Router) {
			r.Post("/release", h.Release)
			r.Post("/fetch", h.Fetch)
			r.Post("/submit", h.Submit)
			r.Post("/collect", h.Collect)
			r.Post("/feedback/release", h.ReleaseFeedback)
			r.Post("/feedback/fetch", h.FetchFeedback)
			r.Post("/actions", h.HandleAction)
		})

		api.Route("/courses", func(r chi.Router) {
			r.Get("/{course_id}/assignments", h.ListAssignments)
			r.Get("/{course_id}/assignments/{assignment_id}/history", h.GetHistory)
			r.Get("/{course_id}/members", h.ListMembers)
			r.Delete("/{course_id}", h.DeactivateCourse)
		})

		api.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", h.Subscribe)
			r.Delete("/", h.Unsubscribe)
		})
	})
}

// handleExchangeError разворачивает типизированную ошибку обмена в ответ;
// посторонние ошибки уходят как 500 без деталей.
func (h *Handler) handleExchangeError(w http.ResponseWriter, err error) {
	if kind := models.KindOf(err); kind != "" {
		if kind == models.ErrKindIntegrity {
			h.logger.Error().Err(err).Msg("Storage integrity failure")
		}
		writeErrorKind(w, statusForError(kind), kind, err.Error())
		return
	}

	h.logger.Error().Err(err).Msg("Exchange request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}
