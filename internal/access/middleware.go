package access

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vetor-crm/vetor-crm/internal/shared"
)

// AuditSink receives access-control events worth keeping. Implementations
// must never fail the request path.
type AuditSink interface {
	RouteDenied(ctx context.Context, userID int64, path string)
	PermissionRefresh(ctx context.Context, userID int64, ok bool)
	ForcedLogout(ctx context.Context, userID int64, reason string)
}

// Middleware wires navigation-time access checks for HTTP handlers.
type Middleware struct {
	Logger     *slog.Logger
	Table      *RouteTable
	Evaluators *Evaluators
	Sessions   *shared.SessionManager
	Audit      AuditSink

	// LandingPath is where denied navigations are redirected. The product
	// redirects to the landing page instead of rendering a 403 body.
	LandingPath string
}

// RequireRoute gates a navigation route through the permission evaluator.
// An unauthenticated request is sent to the welcome page; a user whose
// snapshot expired gets a blocking reload before the decision; a denied user
// is redirected to the landing page.
func (m Middleware) RequireRoute(next http.Handler) http.Handler {
	landing := m.LandingPath
	if landing == "" {
		landing = "/"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := shared.CurrentUserID(r.Context())
		if !ok {
			http.Redirect(w, r, "/welcome", http.StatusSeeOther)
			return
		}
		eval, ok := m.Evaluators.Get(userID)
		if !ok {
			// Session cookie outlived the server-side evaluator (restart,
			// eviction). Force a fresh login rather than guessing.
			m.forceLogout(w, r, userID, "evaluator missing")
			return
		}
		if _, fresh := eval.Snapshot(); !fresh {
			if err := eval.Refresh(r.Context()); err != nil {
				if errors.Is(err, shared.ErrAuth) {
					m.forceLogout(w, r, userID, "permission refresh rejected")
					return
				}
				// Transient failure: fall through with no snapshot; the
				// evaluator fails closed and the user lands on the dashboard.
				m.Logger.Warn("permission refresh failed",
					slog.Int64("user_id", userID),
					slog.Any("error", err))
			}
			if m.Audit != nil {
				_, fresh := eval.Snapshot()
				m.Audit.PermissionRefresh(r.Context(), userID, fresh)
			}
		}
		if !m.Table.CanAccess(eval, r.URL.Path) {
			if m.Audit != nil {
				m.Audit.RouteDenied(r.Context(), userID, r.URL.Path)
			}
			http.Redirect(w, r, landing, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) forceLogout(w http.ResponseWriter, r *http.Request, userID int64, reason string) {
	if m.Audit != nil {
		m.Audit.ForcedLogout(r.Context(), userID, reason)
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil && m.Sessions != nil {
		m.Sessions.Destroy(sess)
	}
	m.Evaluators.Remove(userID)
	http.Redirect(w, r, "/welcome", http.StatusSeeOther)
}
