package identity

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fanfare-hq/fanfare/internal/platform/httpx"
	"github.com/fanfare-hq/fanfare/internal/roles"
	"github.com/fanfare-hq/fanfare/internal/shared"
)

// SessionPrincipalKey is the session value holding the serialised principal.
const SessionPrincipalKey = "principal"

// StorePrincipal serialises p into the session.
func StorePrincipal(sess *shared.Session, p Principal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	sess.Set(SessionPrincipalKey, string(raw))
	sess.SetSubject(p.Ref().String())
	return nil
}

// ClearPrincipal removes the principal from the session.
func ClearPrincipal(sess *shared.Session) {
	sess.Delete(SessionPrincipalKey)
	sess.SetSubject("")
}

// Middleware attaches the session principal to request contexts. The
// session only carries a cached copy: every request is checked against the
// stored session binding and the current account records through Service.
type Middleware struct {
	Logger  *slog.Logger
	Service *Service
}

// Attach revalidates the principal stored in the session, if any. A revoked
// session continues anonymously with the cached principal removed.
func (m Middleware) Attach(next http.Handler) http.Handler {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.Get(SessionPrincipalKey) == "" {
			next.ServeHTTP(w, r)
			return
		}
		var cached Principal
		if err := json.Unmarshal([]byte(sess.Get(SessionPrincipalKey)), &cached); err != nil || cached.ID == 0 {
			logger.Warn("discarding unreadable session principal", slog.Any("error", err))
			ClearPrincipal(sess)
			next.ServeHTTP(w, r)
			return
		}
		if m.Service == nil {
			ClearPrincipal(sess)
			next.ServeHTTP(w, r)
			return
		}
		p, err := m.Service.Revalidate(r.Context(), sess.ID)
		switch {
		case err == nil:
		case isRevoked(err):
			logger.Info("session principal revoked",
				slog.String("principal", cached.Ref().String()), slog.Any("error", err))
			ClearPrincipal(sess)
			next.ServeHTTP(w, r)
			return
		default:
			logger.Error("revalidate session principal", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "try again shortly")
			return
		}
		if p != cached {
			if err := StorePrincipal(sess, p); err != nil {
				logger.Warn("refresh session principal", slog.Any("error", err))
			}
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

func isRevoked(err error) bool {
	for _, sentinel := range []error{ErrSessionInvalid, ErrNotFoundOrInactive, ErrParentInactive, ErrIncompleteRecord} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// RequirePrincipal rejects anonymous requests with 401.
func RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in with an access code")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAnyPermission ensures the principal holds at least one coarse tag.
func RequireAnyPermission(tags ...roles.PermissionTag) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in with an access code")
				return
			}
			if len(tags) > 0 && !p.Permissions().HasAny(tags...) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
