// Package app wires the passgate server runtime: config, logging, stores,
// HTTP routes, the realtime gateway and background jobs.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"passgate/cmd/identity"
	"passgate/cmd/internal/audit"
	authapi "passgate/cmd/internal/auth/api"
	"passgate/cmd/internal/auth/challenge"
	"passgate/cmd/internal/auth/csrf"
	"passgate/cmd/internal/auth/passkey"
	"passgate/cmd/internal/auth/session"
	"passgate/cmd/internal/invite"
	"passgate/cmd/internal/migrations"
	"passgate/cmd/internal/realtime"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// stores groups the persistence backends selected by config.
type stores struct {
	closer   Store
	pool     *pgxpool.Pool
	users    identity.Store
	sessions session.Store
	audit    audit.Recorder
}

// App is the passgate server runtime.
type App struct {
	cfg Config
	log Logger

	store     Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	hub     *realtime.Hub
	janitor *session.Janitor
	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	st, err := newStores(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg, log, st)
	if err != nil {
		_ = st.closer.Close(ctx)
		return nil, err
	}
	return a, nil
}

func newApp(cfg Config, log Logger, st stores) (*App, error) {
	allow, err := invite.ParseAllowlist(cfg.AllowedEmail)
	if err != nil {
		return nil, err
	}
	if allow.Len() == 0 {
		log.Warn("invite.allowlist.empty", "hint", "set PASSGATE_ALLOWED_EMAIL to allow registration")
	}

	sessions := session.NewManager(cfg.Session, st.sessions, session.WithLogger(log))
	hub := realtime.NewHub(log)

	pk, err := passkey.NewController(passkey.Params{
		Config:     cfg.Passkey,
		Users:      st.users,
		Sessions:   sessions,
		Challenges: challenge.NewManager(cfg.Challenge),
		Invites:    allow,
		Audit:      st.audit,
		Events:     hub,
		Log:        log,
	})
	if err != nil {
		return nil, err
	}

	gwCfg := realtime.DefaultGatewayConfig()
	gwCfg.AllowedOrigins = cfg.WSAllowedOrigins
	gwCfg.SessionMaxAge = cfg.Session.MaxAge

	auth, err := authapi.NewHandler(authapi.Params{
		Config:      cfg.Auth,
		Log:         log,
		Users:       st.users,
		Sessions:    sessions,
		Passkeys:    pk,
		Audit:       st.audit,
		Events:      hub,
		EventStream: realtime.NewGateway(log, hub, sessions, gwCfg),
	})
	if err != nil {
		return nil, err
	}

	handler := newRouter(routerDeps{
		cfg:       cfg,
		log:       log,
		dbPool:    st.pool,
		dbEnabled: st.pool != nil,
		csrf:      csrf.NewGuard(cfg.CSRF, log),
		sessions:  sessions,
		auth:      auth,
	})

	var janitor *session.Janitor
	if cfg.Session.CleanupInterval > 0 {
		janitor = session.NewJanitor(sessions, cfg.Session.CleanupInterval, log)
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st.closer,
		dbPool:    st.pool,
		dbEnabled: st.pool != nil,
		hub:       hub,
		janitor:   janitor,
		handler:   handler,
	}, nil
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	go a.hub.Run(bgCtx)
	if a.janitor != nil {
		go a.janitor.Run(bgCtx)
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"rp_id", a.cfg.Passkey.RPID,
		"origins", a.cfg.Passkey.RPOrigins,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		_ = a.store.Close(context.Background())
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Sockets are closed by the hub; Shutdown does not wait for hijacked connections.
	stopBackground()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Close store resources (pool etc).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores decides between Postgres-backed persistence and in-memory dev stores.
func newStores(ctx context.Context, cfg Config, log Logger) (stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("db.disabled.inmemory_store", "hint", "accounts are lost on restart")
		return memoryStores(), nil
	}

	if cfg.MigrateOnStart {
		if err := migrations.UpURL(ctx, cfg.DatabaseURL); err != nil {
			return stores{}, err
		}
		log.Info("db.migrated")
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return stores{}, err
	}
	st, err := postgresStores(pool)
	if err != nil {
		pool.Close()
		return stores{}, err
	}

	log.Info("db.enabled.postgres_store")
	return st, nil
}

func memoryStores() stores {
	users := identity.NewMemoryStore()
	return stores{
		closer:   nopStore{},
		users:    users,
		sessions: session.NewMemoryStore(users),
		audit:    audit.NewMemoryRecorder(),
	}
}

// Ownership model:
// - app owns pool lifecycle
// - stores never close the pool
func postgresStores(pool *pgxpool.Pool) (stores, error) {
	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		return stores{}, err
	}
	sess, err := session.NewPostgresStore(pool, identity.DefaultSchema)
	if err != nil {
		return stores{}, err
	}
	rec, err := audit.NewPostgresRecorder(pool, identity.DefaultSchema)
	if err != nil {
		return stores{}, err
	}
	return stores{
		closer:   dbStore{pool: pool},
		pool:     pool,
		users:    users,
		sessions: sess,
		audit:    rec,
	}, nil
}
