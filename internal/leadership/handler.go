package leadership

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fanfare-hq/fanfare/internal/access"
	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/platform/httpx"
)

// Handler exposes the leadership roster over HTTP.
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

// MountRoutes registers the roster routes. Callers mount it at the root of
// an authenticated router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(identity.RequirePrincipal)
		r.Get("/categories/{categoryID}/leaders", h.handleList)
		r.Post("/categories/{categoryID}/leaders", h.handleAssign)
		r.Delete("/categories/{categoryID}/leaders/{assignmentID}", h.handleRevoke)
		r.Get("/me/leaderships", h.handleMine)
	})
}

type assignRequest struct {
	MemberID int64  `json:"member_id" validate:"required,gt=0"`
	Role     string `json:"role" validate:"required,oneof=president secretary auxiliary"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(w, r, "categoryID")
	if !ok {
		return
	}
	p, _ := identity.PrincipalFromContext(r.Context())
	items, err := h.service.ListActive(r.Context(), p, categoryID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"leaders": items})
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(w, r, "categoryID")
	if !ok {
		return
	}
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	p, _ := identity.PrincipalFromContext(r.Context())
	created, err := h.service.Assign(r.Context(), p, AssignInput{
		CategoryID: categoryID,
		MemberID:   req.MemberID,
		Role:       req.Role,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(w, r, "categoryID")
	if !ok {
		return
	}
	assignmentID, ok := pathID(w, r, "assignmentID")
	if !ok {
		return
	}
	p, _ := identity.PrincipalFromContext(r.Context())
	revoked, err := h.service.Revoke(r.Context(), p, categoryID, assignmentID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, revoked)
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	p, _ := identity.PrincipalFromContext(r.Context())
	if !p.IsMember() {
		httpx.JSON(w, http.StatusOK, map[string]any{"leaderships": []Assignment{}})
		return
	}
	items, err := h.service.ListForMember(r.Context(), p.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"leaderships": items})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, access.ErrPermissionDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "permission denied")
	case errors.Is(err, ErrCategoryNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "category not found")
	case errors.Is(err, ErrMemberNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "member not found")
	case errors.Is(err, ErrAssignmentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "assignment not found")
	case errors.Is(err, ErrRoleAlreadyAssigned):
		httpx.Problem(w, http.StatusConflict, "Conflict", "role already assigned")
	case errors.Is(err, ErrMemberAlreadyLeader):
		httpx.Problem(w, http.StatusConflict, "Conflict", "member already leads this category")
	case errors.Is(err, ErrInvalidRole):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invalid role")
	default:
		h.logger.Error("leadership request failed", slog.Any("error", err))
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
