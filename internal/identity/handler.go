package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/fanfare-hq/fanfare/internal/platform/httpx"
	"github.com/fanfare-hq/fanfare/internal/roles"
	"github.com/fanfare-hq/fanfare/internal/shared"
)

const (
	loginRateLimit  = 10
	loginRateWindow = time.Minute
)

// Handler wires HTTP endpoints for access code authentication.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(loginRateLimit, loginRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.RespondError(w, httpx.ErrTooManyRequests)
		}),
	)
	r.Get("/csrf", h.handleCSRF)
	r.With(limiter).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.With(RequirePrincipal).Get("/me", h.handleMe)
}

type loginRequest struct {
	Code string `json:"code" validate:"required,max=64"`
	Kind string `json:"kind" validate:"required,oneof=administrator group member"`
}

type principalResponse struct {
	Principal   Principal             `json:"principal"`
	Rank        roles.Rank            `json:"rank"`
	Permissions []roles.PermissionTag `json:"permissions"`
	TopAdmin    bool                  `json:"senior_administrator"`
}

type loginResponse struct {
	principalResponse
	CSRFToken string `json:"csrf_token"`
}

func newPrincipalResponse(p Principal) principalResponse {
	return principalResponse{
		Principal:   p,
		Rank:        p.Rank(),
		Permissions: p.Permissions().Tags(),
		TopAdmin:    p.IsSeniorAdministrator(),
	}
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token, "header": shared.CSRFHeader})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "enter a valid access code")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	kind, err := ParseKind(req.Kind)
	if err != nil {
		h.respondError(w, err)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.RespondError(w, errors.New("session missing"))
		return
	}
	previousID, hadPrincipal := sess.ID, sess.Get(SessionPrincipalKey) != ""
	if err := h.sessionManager.Renew(r.Context(), sess); err != nil {
		h.logger.Error("renew session", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	// A login attempt ends whatever identity the session held before.
	if hadPrincipal {
		ClearPrincipal(sess)
		if err := h.service.Logout(r.Context(), previousID); err != nil {
			h.logger.Warn("remove previous session binding", slog.Any("error", err))
		}
	}
	principal, err := h.service.Login(r.Context(), sess.ID, req.Code, kind)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if err := StorePrincipal(sess, principal); err != nil {
		h.logger.Error("store principal", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	token, err := h.csrfManager.Rotate(r.Context(), sess)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loginResponse{principalResponse: newPrincipalResponse(principal), CSRFToken: token})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.Logout(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session binding", slog.Any("error", err))
		}
		ClearPrincipal(sess)
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFromContext(r.Context())
	httpx.JSON(w, http.StatusOK, newPrincipalResponse(p))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "enter a valid access code")
	case errors.Is(err, ErrNotFoundOrInactive):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid or inactive code")
	case errors.Is(err, ErrParentInactive):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "your group is currently suspended")
	default:
		h.logger.Error("login failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "something went wrong")
	}
}
