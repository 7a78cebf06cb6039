package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fanfare-hq/fanfare/internal/platform/httpx"
)

// Handler exposes the role catalog.
type Handler struct {
	logger *slog.Logger
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger}
}

// MountRoutes registers role routes. Callers guard the router with an
// authentication middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listRoles)
}

// CatalogEntry describes one organizational role.
type CatalogEntry struct {
	Role        OrganizationalRole `json:"role"`
	Rank        Rank               `json:"rank"`
	Permissions []PermissionTag    `json:"permissions"`
}

// Entries returns the catalog with ranks and permission tags, highest
// authority first.
func Entries() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(catalog))
	for _, role := range catalog {
		rank := RankOf(role)
		out = append(out, CatalogEntry{Role: role, Rank: rank, Permissions: PermissionsOf(rank).Tags()})
	}
	return out
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": Entries()})
}
