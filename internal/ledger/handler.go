package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fanfare-hq/fanfare/internal/access"
	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/platform/httpx"
)

// Handler exposes categories, transactions and payment events.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers ledger routes at the root of r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(identity.RequirePrincipal)
		r.Get("/categories", h.handleListCategories)
		r.Get("/categories/{categoryID}", h.handleGetCategory)
		r.Get("/categories/{categoryID}/access", h.handleCategoryAccess)
		r.Post("/categories/{categoryID}/transactions", h.handleAuthorTransaction)
		r.Post("/events", h.handleCreateEvent)
		r.Put("/events/{eventID}", h.handleUpdateEvent)
		r.Delete("/events/{eventID}", h.handleDeleteEvent)
	})
}

type transactionRequest struct {
	Amount         int64  `json:"amount" validate:"required"`
	Description    string `json:"description" validate:"max=200"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,uuid"`
}

type eventRequest struct {
	GroupID    int64      `json:"group_id" validate:"gte=0"`
	CategoryID *int64     `json:"category_id" validate:"omitempty,gt=0"`
	Title      string     `json:"title" validate:"required,max=200"`
	Amount     int64      `json:"amount" validate:"required,gt=0"`
	DueAt      *time.Time `json:"due_at"`
}

func (req eventRequest) input() EventInput {
	return EventInput{
		GroupID:    req.GroupID,
		CategoryID: req.CategoryID,
		Title:      req.Title,
		Amount:     req.Amount,
		DueAt:      req.DueAt,
	}
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	var groupID int64
	if raw := r.URL.Query().Get("group_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid group_id")
			return
		}
		groupID = id
	}
	p, _ := identity.PrincipalFromContext(r.Context())
	items, err := h.service.ListCategories(r.Context(), p, groupID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": items})
}

func (h *Handler) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "categoryID")
	if !ok {
		return
	}
	p, _ := identity.PrincipalFromContext(r.Context())
	cat, txs, err := h.service.GetCategory(r.Context(), p, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"category": cat, "transactions": txs})
}

func (h *Handler) handleCategoryAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "categoryID")
	if !ok {
		return
	}
	p, _ := identity.PrincipalFromContext(r.Context())
	d, err := h.service.CategoryAccess(r.Context(), p, id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) handleAuthorTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "categoryID")
	if !ok {
		return
	}
	var req transactionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	in := TransactionInput{CategoryID: id, Amount: req.Amount, Description: req.Description}
	if req.IdempotencyKey != "" {
		key, err := uuid.Parse(req.IdempotencyKey)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid idempotency_key")
			return
		}
		in.IdempotencyKey = key
	}
	p, _ := identity.PrincipalFromContext(r.Context())
	created, balance, err := h.service.AuthorTransaction(r.Context(), p, in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"transaction": created, "balance": balance})
}

func (h *Handler) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	p, _ := identity.PrincipalFromContext(r.Context())
	created, err := h.service.CreateEvent(r.Context(), p, req.input())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	req, ok := h.decodeEvent(w, r)
	if !ok {
		return
	}
	p, _ := identity.PrincipalFromContext(r.Context())
	updated, err := h.service.UpdateEvent(r.Context(), p, id, req.input())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "eventID")
	if !ok {
		return
	}
	p, _ := identity.PrincipalFromContext(r.Context())
	if err := h.service.DeleteEvent(r.Context(), p, id); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeEvent(w http.ResponseWriter, r *http.Request) (eventRequest, bool) {
	var req eventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return eventRequest{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return eventRequest{}, false
	}
	return req, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrPermissionDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "permission denied")
	case errors.Is(err, ErrCategoryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "category not found")
	case errors.Is(err, ErrEventNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "payment event not found")
	case errors.Is(err, ErrDuplicateTransaction):
		httpx.Problem(w, http.StatusConflict, "Conflict", "transaction already recorded")
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid "+name)
		return 0, false
	}
	return id, true
}
