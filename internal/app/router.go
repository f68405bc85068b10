package app

import (
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/vetor-crm/vetor-crm/internal/access"
	"github.com/vetor-crm/vetor-crm/internal/audit"
	"github.com/vetor-crm/vetor-crm/internal/auth"
	"github.com/vetor-crm/vetor-crm/internal/nav"
	"github.com/vetor-crm/vetor-crm/internal/observability"
	"github.com/vetor-crm/vetor-crm/internal/shared"
	"github.com/vetor-crm/vetor-crm/jobs"
	"github.com/vetor-crm/vetor-crm/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	CSRFManager      *shared.CSRFManager
	AuthHandler      *auth.Handler
	NavHandler       *nav.Handler
	AuditHandler     *audit.Handler
	AccessMiddleware access.Middleware
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Vetor defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Landing page for unauthenticated users.
	r.Get("/welcome", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(shellHTML))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(httprate.Limit(20, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
		params.AuthHandler.MountRoutes(r)
	})
	r.Route("/nav", params.NavHandler.MountRoutes)
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	// Every application screen is a navigation route gated by the access
	// filter; the SPA shell is served once the route is allowed.
	r.Group(func(r chi.Router) {
		r.Use(params.AccessMiddleware.RequireRoute)
		r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(shellHTML))
		})
	})

	return r
}

// staticCacheHandler wraps the file server with browser cache headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}

const shellHTML = `<!doctype html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<title>Vetor CRM</title>
<link rel="stylesheet" href="/static/css/app.css">
</head>
<body><div id="app"></div><script src="/static/js/app.js"></script></body>
</html>
`
