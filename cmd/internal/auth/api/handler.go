package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"passgate/cmd/identity"
	"passgate/cmd/internal/audit"
	"passgate/cmd/internal/auth/csrf"
	"passgate/cmd/internal/auth/passkey"
	"passgate/cmd/internal/auth/session"
	"passgate/cmd/internal/realtime"
	"passgate/cmd/security/access"
)

// Uniform client messages.
const (
	msgUnauthorized   = "Unauthorized"
	msgForbidden      = "Forbidden"
	msgInvalidBody    = "Invalid request body"
	msgInternal       = "Internal server error"
	msgLastPasskey    = "Cannot remove the last passkey"
	msgUserNotFound   = "User not found"
	msgSessionMissing = "Session not found"
	msgPasskeyMissing = "Passkey not found"
)

var timeNow = func() time.Time { return time.Now().UTC() }

// Params holds the handler's collaborators.
type Params struct {
	Config   Config
	Log      *slog.Logger
	Users    identity.Store
	Sessions *session.Manager
	Passkeys *passkey.Controller
	Audit    audit.Recorder

	// Events is told about revocations so open sockets close. Optional.
	Events realtime.Publisher

	// EventStream serves GET /auth/events when set.
	EventStream http.Handler
}

// Handler wires HTTP auth endpoints to the identity, session and passkey services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users    identity.Store
	sessions *session.Manager
	passkeys *passkey.Controller
	audit    audit.Recorder
	events   realtime.Publisher
	stream   http.Handler
}

// NewHandler constructs an auth Handler.
func NewHandler(p Params) (*Handler, error) {
	if p.Users == nil || p.Sessions == nil || p.Passkeys == nil {
		return nil, errors.New("authapi: users, sessions and passkeys are required")
	}
	if p.Log == nil {
		p.Log = slog.Default()
	}
	if p.Events == nil {
		p.Events = realtime.Nop{}
	}
	if p.Config.MaxBodyBytes <= 0 {
		p.Config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Handler{
		log:      p.Log,
		cfg:      p.Config,
		users:    p.Users,
		sessions: p.Sessions,
		passkeys: p.Passkeys,
		audit:    p.Audit,
		events:   p.Events,
		stream:   p.EventStream,
	}, nil
}

// Mount registers the auth and admin routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/csrf-token", h.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(h.ceremonyLimiter())
			r.Post("/register/options", h.handleRegisterOptions)
			r.Post("/register/verify", h.handleRegisterVerify)
			r.Post("/login/options", h.handleLoginOptions)
			r.Post("/login/verify", h.handleLoginVerify)
		})

		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSession)
			r.Get("/me", h.handleMe)
			r.Delete("/me", h.handleDeleteMe)
			r.Get("/passkeys", h.handleListPasskeys)
			r.Delete("/passkeys/{id}", h.handleDeletePasskey)
			r.Get("/sessions", h.handleListSessions)
			r.Delete("/sessions/{id}", h.handleDeleteSession)
		})

		if h.stream != nil {
			r.Method(http.MethodGet, "/events", h.stream)
		}
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireSession)
		r.Get("/users", h.handleListUsers)
		r.Delete("/users/{id}", h.handleDeleteUser)
		r.Get("/audit", h.handleListAudit)
	})
}

func (h *Handler) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tokenResponse{Token: csrf.Token(r)})
}

// ---- helpers ----

// requireSession answers 401 unless the session middleware resolved a user.
func (h *Handler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.FromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func current(r *http.Request) session.Current {
	cur, _ := session.FromContext(r.Context())
	return cur
}

func viewer(r *http.Request) *identity.User {
	u, ok := session.UserFromContext(r.Context())
	if !ok {
		return nil
	}
	return &u
}

func subject(u identity.User) access.Subject {
	return access.Subject{ID: u.ID, Roles: u.Roles}
}

func (h *Handler) meta(r *http.Request) session.Meta {
	var ip string
	if v := clientIP(r, h.cfg.TrustProxy); v != nil {
		ip = v.String()
	}
	return session.Meta{UserAgent: strings.TrimSpace(r.UserAgent()), IP: ip}
}

func (h *Handler) record(r *http.Request, ev audit.Event) {
	m := h.meta(r)
	ev.IP = m.IP
	ev.UserAgent = m.UserAgent
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = timeNow()
	}
	audit.Log(r.Context(), h.audit, h.log, ev)
}

// authorize writes 403 and returns false when the caller lacks the permission.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, res access.Resource, act access.Action, ownerID string) bool {
	err := access.Authorize(subject(current(r).User), res, act, ownerID)
	if err == nil {
		return true
	}
	var denied access.Denied
	if errors.As(err, &denied) {
		h.log.Info("access.denied", "user_id", current(r).User.ID, "reason", denied.Reason)
	}
	writeError(w, http.StatusForbidden, msgForbidden)
	return false
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
