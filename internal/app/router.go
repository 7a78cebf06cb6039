package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/leadership"
	"github.com/fanfare-hq/fanfare/internal/ledger"
	"github.com/fanfare-hq/fanfare/internal/notify"
	"github.com/fanfare-hq/fanfare/internal/observability"
	"github.com/fanfare-hq/fanfare/internal/platform/httpx"
	"github.com/fanfare-hq/fanfare/internal/roles"
	"github.com/fanfare-hq/fanfare/internal/shared"
	"github.com/fanfare-hq/fanfare/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager

	IdentityService     *identity.Service
	IdentityHandler     *identity.Handler
	LeadershipHandler   *leadership.Handler
	LedgerHandler       *ledger.Handler
	NotificationHandler *notify.Handler
	RolesHandler        *roles.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with Fanfare defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,

		IdentityService: params.IdentityService,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "Method Not Allowed", "")
	})

	if params.IdentityHandler != nil {
		r.Route("/auth", params.IdentityHandler.MountRoutes)
	}
	if params.LeadershipHandler != nil {
		params.LeadershipHandler.MountRoutes(r)
	}
	if params.LedgerHandler != nil {
		params.LedgerHandler.MountRoutes(r)
	}
	if params.NotificationHandler != nil {
		r.Route("/notifications", params.NotificationHandler.MountRoutes)
	}
	if params.RolesHandler != nil {
		r.Route("/roles", func(r chi.Router) {
			r.Use(identity.RequirePrincipal)
			params.RolesHandler.MountRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(identity.RequireAnyPermission(roles.PermAll))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
