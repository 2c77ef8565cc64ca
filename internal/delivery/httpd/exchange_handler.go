package httpd

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jgwerner/nbexchange/internal/models"
)

type exchangeCall func(r *http.Request, req *models.ExchangeRequest) (*models.ExchangeResponse, error)

// decodeExchangeRequest читает тело запроса с ограничением размера.
// Поле payload — base64-кодированный tar-архив тетрадей.
func (h *Handler) decodeExchangeRequest(w http.ResponseWriter, r *http.Request) (*models.ExchangeRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	var req models.ExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload exceeds upload limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}

	return &req, true
}

func (h *Handler) serveExchange(w http.ResponseWriter, r *http.Request, kind models.ActionKind, call exchangeCall) {
	req, ok := h.decodeExchangeRequest(w, r)
	if !ok {
		return
	}
	req.Action = kind.String()

	resp, err := call(r, req)
	if err != nil {
		h.handleExchangeError(w, err)
		return
	}

	writeSuccess(w, resp)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	h.serveExchange(w, r, models.ActionRelease, func(r *http.Request, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
		return h.exchangeService.Release(r.Context(), req)
	})
}

func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	h.serveExchange(w, r, models.ActionFetch, func(r *http.Request, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
		return h.exchangeService.Fetch(r.Context(), req)
	})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	h.serveExchange(w, r, models.ActionSubmit, func(r *http.Request, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
		return h.exchangeService.Submit(r.Context(), req)
	})
}

func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	h.serveExchange(w, r, models.ActionCollect, func(r *http.Request, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
		return h.exchangeService.Collect(r.Context(), req)
	})
}

func (h *Handler) ReleaseFeedback(w http.ResponseWriter, r *http.Request) {
	h.serveExchange(w, r, models.ActionReleaseFeedback, func(r *http.Request, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
		return h.exchangeService.ReleaseFeedback(r.Context(), req)
	})
}

func (h *Handler) FetchFeedback(w http.ResponseWriter, r *http.Request) {
	h.serveExchange(w, r, models.ActionFetchFeedback, func(r *http.Request, req *models.ExchangeRequest) (*models.ExchangeResponse, error) {
		return h.exchangeService.FetchFeedback(r.Context(), req)
	})
}

// HandleAction — общая точка входа: вид действия берётся из тела запроса.
func (h *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeExchangeRequest(w, r)
	if !ok {
		return
	}

	resp, err := h.exchangeService.Handle(r.Context(), req)
	if err != nil {
		h.handleExchangeError(w, err)
		return
	}

	writeSuccess(w, resp)
}
