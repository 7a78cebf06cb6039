package notify

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/platform/httpx"
)

// Handler serves the notification inbox.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /notifications routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(identity.RequirePrincipal)
	r.Get("/", h.handleList)
	r.Post("/{id}/read", h.handleMarkRead)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.PrincipalFromContext(r.Context())
	filter := ListFilter{UnreadOnly: r.URL.Query().Get("unread") == "true"}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	items, err := h.service.ListForRecipient(r.Context(), p, filter)
	if err != nil {
		h.logger.Error("list notifications", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.PrincipalFromContext(r.Context())
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid notification id")
		return
	}
	n, err := h.service.MarkRead(r.Context(), p, id)
	switch {
	case err == nil:
		httpx.JSON(w, http.StatusOK, n)
	case errors.Is(err, ErrNotificationNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "notification not found")
	case errors.Is(err, ErrNotRecipient):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	default:
		h.logger.Error("mark notification read", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
