// Command passgate runs the passkey authentication server and its admin tasks.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"passgate/cmd/internal/app"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globalFlags override the matching environment variables.
type globalFlags struct {
	addr        string
	logLevel    string
	logFormat   string
	databaseURL string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "passgate",
		Short: "Passkey and cookie-session authentication server",
		Long: `passgate serves passkey (WebAuthn) registration and login for an
invite-only site and keeps users signed in with opaque session cookies.

Configuration comes from PASSGATE_* environment variables. A .env file in the
working directory is loaded first; it never overrides the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadDotEnv(".env")
		},
	}

	root.PersistentFlags().StringVar(&g.addr, "addr", "", "listen address (PASSGATE_HTTP_ADDR)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (PASSGATE_LOG_LEVEL)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "json, text or pretty (PASSGATE_LOG_FORMAT)")
	root.PersistentFlags().StringVar(&g.databaseURL, "database-url", "", "Postgres URL (PASSGATE_DATABASE_URL)")

	root.AddCommand(newServeCmd(g))
	root.AddCommand(newMigrateCmd(g))
	root.AddCommand(newUsersCmd(g))
	return root
}

// config loads the environment configuration and applies flag overrides.
func (g *globalFlags) config() (app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Config{}, err
	}
	if g.addr != "" {
		cfg.HTTPAddr = g.addr
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.logFormat != "" {
		cfg.LogFormat = g.logFormat
	}
	if g.databaseURL != "" {
		cfg.DatabaseURL = g.databaseURL
	}
	if err := cfg.Validate(); err != nil {
		return app.Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

func newServeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := g.config()
			if err != nil {
				return err
			}
			return app.Run(cfg)
		},
	}
}
