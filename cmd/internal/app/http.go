package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	authapi "passgate/cmd/internal/auth/api"
	"passgate/cmd/internal/auth/csrf"
	"passgate/cmd/internal/auth/session"
	"passgate/cmd/internal/metrics"
)

type routerDeps struct {
	cfg       Config
	log       Logger
	dbPool    *pgxpool.Pool
	dbEnabled bool

	csrf     *csrf.Guard
	sessions *session.Manager
	auth     *authapi.Handler
}

// newRouter builds the root handler. Middleware order: request id, panic
// recovery, request logging, security headers, CORS, CSRF, session resolve.
func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler { return WithRequestLogging(next, d.log) })
	r.Use(WithSecurityHeaders)
	r.Use(func(next http.Handler) http.Handler { return WithCORS(next, d.cfg, d.log) })
	r.Use(d.csrf.Middleware)
	r.Use(d.sessions.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.cfg.ReadinessRequireDB && !d.dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if d.dbEnabled && d.dbPool != nil {
			if err := PingDB(r.Context(), d.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	d.auth.Mount(r)

	return r
}
