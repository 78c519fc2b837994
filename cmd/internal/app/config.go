package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	authapi "passgate/cmd/internal/auth/api"
	"passgate/cmd/internal/auth/challenge"
	"passgate/cmd/internal/auth/csrf"
	"passgate/cmd/internal/auth/passkey"
	"passgate/cmd/internal/auth/session"
	"passgate/cmd/internal/invite"
)

// ErrConfig wraps every configuration error.
var ErrConfig = errors.New("invalid config")

// Log formats.
const (
	LogFormatJSON   = "json"
	LogFormatText   = "text"
	LogFormatPretty = "pretty"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// DatabaseURL empty selects in-memory stores.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	MigrateOnStart bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// AllowedEmail is the comma-separated registration allow-list.
	AllowedEmail string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	// WSAllowedOrigins defaults to the relying party origins.
	WSAllowedOrigins []string

	// Security policy:
	// If true, PASSGATE_USER_HANDLE_KEY must be set so user handles survive restarts.
	RequireUserHandleKey bool

	Session   session.Config
	Challenge challenge.Config
	CSRF      csrf.Config
	Passkey   passkey.Config
	Auth      authapi.Config
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	sess, err := session.LoadConfigFromEnv()
	if err != nil {
		return Config{}, fmt.Errorf("%w: session: %v", ErrConfig, err)
	}

	pk := passkey.DefaultConfig()
	pk.RPID = EnvStringAny(pk.RPID, "PASSGATE_RP_ID", "RP_ID")
	pk.RPDisplayName = EnvStringAny(pk.RPDisplayName, "PASSGATE_RP_NAME", "RP_NAME")
	if origins := EnvStringAny("", "PASSGATE_RP_ORIGINS", "ORIGIN"); origins != "" {
		pk.RPOrigins = splitCSV(origins)
	}
	pk.Timeout = EnvDuration("PASSGATE_WEBAUTHN_TIMEOUT", pk.Timeout)
	pk.UserHandleKey = []byte(EnvString("PASSGATE_USER_HANDLE_KEY", ""))
	pk.DefaultRole = EnvString("PASSGATE_DEFAULT_ROLE", pk.DefaultRole)
	pk.LockoutThreshold = EnvInt("PASSGATE_LOGIN_LOCKOUT_THRESHOLD", pk.LockoutThreshold)
	pk.LockoutWindow = EnvDuration("PASSGATE_LOGIN_LOCKOUT_WINDOW", pk.LockoutWindow)

	// The challenge cookie lives exactly as long as a ceremony may take.
	ch := challenge.Config{
		CookieName:   EnvString("PASSGATE_CHALLENGE_COOKIE", challenge.DefaultConfig().CookieName),
		CookieDomain: sess.CookieDomain,
		CookiePath:   sess.CookiePath,
		CookieSecure: sess.CookieSecure,
		TTL:          pk.Timeout,
	}

	cs := csrf.DefaultConfig()
	cs.CookieName = EnvString("PASSGATE_CSRF_COOKIE", cs.CookieName)
	cs.CookieDomain = sess.CookieDomain
	cs.CookiePath = sess.CookiePath
	cs.CookieSecure = sess.CookieSecure
	cs.MaxAge = sess.MaxAge

	cfg := Config{
		HTTPAddr:  EnvString("PASSGATE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PASSGATE_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(EnvString("PASSGATE_LOG_FORMAT", LogFormatJSON)),

		ReadHeaderTimeout: EnvDuration("PASSGATE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PASSGATE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PASSGATE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PASSGATE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PASSGATE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PASSGATE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PASSGATE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PASSGATE_DB_MIN_CONNS", 0),

		MigrateOnStart:     EnvBool("PASSGATE_MIGRATE_ON_START", false),
		ReadinessRequireDB: EnvBool("PASSGATE_READINESS_REQUIRE_DB", false),

		AllowedEmail: EnvStringAny("", "PASSGATE_ALLOWED_EMAIL", "ALLOWED_EMAIL"),

		CORSAllowedOrigins:   EnvCSV("PASSGATE_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("PASSGATE_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("PASSGATE_CORS_MAX_AGE", 600),

		WSAllowedOrigins: EnvCSV("PASSGATE_WS_ALLOWED_ORIGINS", pk.RPOrigins),

		RequireUserHandleKey: EnvBool("PASSGATE_REQUIRE_USER_HANDLE_KEY", false),

		Session:   sess,
		Challenge: ch,
		CSRF:      cs,
		Passkey:   pk,
		Auth:      authapi.LoadConfigFromEnv(),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field invariants. Errors wrap ErrConfig.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: empty http addr", ErrConfig)
	}
	switch c.LogFormat {
	case LogFormatJSON, LogFormatText, LogFormatPretty:
	default:
		return fmt.Errorf("%w: log format %q", ErrConfig, c.LogFormat)
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: db min conns above max conns", ErrConfig)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("%w: session: %v", ErrConfig, err)
	}
	if err := c.Passkey.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if _, err := invite.ParseAllowlist(c.AllowedEmail); err != nil {
		return fmt.Errorf("%w: allowed email: %v", ErrConfig, err)
	}
	return nil
}
