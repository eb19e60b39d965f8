package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"vanish.share/internal/bot"
	"vanish.share/internal/models"
	"vanish.share/internal/store"
	"vanish.share/internal/transport"
)

// Dispatcher is the bot surface the HTTP layer drives.
type Dispatcher interface {
	IsAdmin(p models.PrincipalID) bool
	OnStart(ctx context.Context, p models.PrincipalID, payload string) error
	OnMedia(ctx context.Context, p models.PrincipalID, item models.MediaItem) error
	OnText(ctx context.Context, p models.PrincipalID, text string) error
	OnSelection(ctx context.Context, p models.PrincipalID, data string) error
	OnReset(ctx context.Context, p models.PrincipalID) error
	Broadcast(ctx context.Context, sender models.PrincipalID, text string, media *models.MediaItem) (bot.BroadcastResult, error)
	Principals(requester models.PrincipalID) ([]models.PrincipalID, error)
}

type Links interface {
	ListFor(ctx context.Context, principal models.PrincipalID, isAdmin bool) []models.BundleView
	Revoke(ctx context.Context, token string, requester models.PrincipalID, isAdmin bool) error
	Len() int
}

type Sweeper interface {
	SweepNow() int
}

type Handler struct {
	bot       Dispatcher
	links     Links
	collector Sweeper
	logger    *zap.Logger
}

func NewHandler(d Dispatcher, links Links, collector Sweeper, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		bot:       d,
		links:     links,
		collector: collector,
		logger:    logger,
	}
}

// HookRequest is posted by the chat gateway for every inbound event.
type HookRequest struct {
	Principal int64             `json:"principal"`
	Payload   string            `json:"payload,omitempty"`
	Text      string            `json:"text,omitempty"`
	Data      string            `json:"data,omitempty"`
	Media     *models.MediaItem `json:"media,omitempty"`
}

// BroadcastRequest carries text, media, or both. Media goes out first with
// the text as its caption.
type BroadcastRequest struct {
	Text  string            `json:"text,omitempty"`
	Media *models.MediaItem `json:"media,omitempty"`
}

type LinksResponse struct {
	Links []models.BundleView `json:"links"`
}

type PrincipalsResponse struct {
	Principals []models.PrincipalID `json:"principals"`
}

type SweepResponse struct {
	Removed int `json:"removed"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
	Links  int    `json:"links"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Links: h.links.Len()})
}

func (h *Handler) decodeHook(w http.ResponseWriter, r *http.Request) (HookRequest, bool) {
	var req HookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Principal <= 0 {
		writeError(w, http.StatusBadRequest, "principal is required")
		return req, false
	}
	return req, true
}

func (h *Handler) HookStart(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	h.respond(w, h.bot.OnStart(r.Context(), models.PrincipalID(req.Principal), req.Payload))
}

func (h *Handler) HookMedia(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	if req.Media == nil {
		writeError(w, http.StatusBadRequest, "media is required")
		return
	}
	h.respond(w, h.bot.OnMedia(r.Context(), models.PrincipalID(req.Principal), *req.Media))
}

func (h *Handler) HookText(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	h.respond(w, h.bot.OnText(r.Context(), models.PrincipalID(req.Principal), req.Text))
}

func (h *Handler) HookSelection(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	if req.Data == "" {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}
	h.respond(w, h.bot.OnSelection(r.Context(), models.PrincipalID(req.Principal), req.Data))
}

// HookReset cancels whatever the principal is composing.
func (h *Handler) HookReset(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeHook(w, r)
	if !ok {
		return
	}
	h.respond(w, h.bot.OnReset(r.Context(), models.PrincipalID(req.Principal)))
}

func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	views := h.links.ListFor(r.Context(), id.Principal, h.bot.IsAdmin(id.Principal))
	if views == nil {
		views = []models.BundleView{}
	}
	writeJSON(w, http.StatusOK, LinksResponse{Links: views})
}

func (h *Handler) RevokeLink(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	token := chi.URLParam(r, "token")
	if err := h.links.Revoke(r.Context(), token, id.Principal, h.bot.IsAdmin(id.Principal)); err != nil {
		h.handleStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListPrincipals(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	list, err := h.bot.Principals(id.Principal)
	if err != nil {
		h.handleStoreError(w, err)
		return
	}
	if list == nil {
		list = []models.PrincipalID{}
	}
	writeJSON(w, http.StatusOK, PrincipalsResponse{Principals: list})
}

func (h *Handler) Broadcast(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := h.bot.Broadcast(r.Context(), id.Principal, req.Text, req.Media)
	if err != nil {
		h.handleStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	if !h.bot.IsAdmin(id.Principal) {
		h.handleStoreError(w, bot.ErrNotAdmin)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Removed: h.collector.SweepNow()})
}

func (h *Handler) respond(w http.ResponseWriter, err error) {
	if err != nil {
		h.handleStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "link not found")
	case errors.Is(err, store.ErrExpired):
		writeError(w, http.StatusGone, "link has expired")
	case errors.Is(err, store.ErrRevoked):
		writeError(w, http.StatusGone, "link has been revoked")
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, "not allowed")
	case store.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrTokenSpace):
		writeError(w, http.StatusServiceUnavailable, "could not allocate a link, try again")
	case errors.Is(err, transport.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "chat transport unavailable")
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
