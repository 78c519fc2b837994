// Package migrations embeds the Postgres schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var FS embed.FS

var setupOnce sync.Once
var setupErr error

// goose keeps its base FS and dialect in package state.
func setup() error {
	setupOnce.Do(func() {
		goose.SetBaseFS(FS)
		setupErr = goose.SetDialect("pgx")
	})
	return setupErr
}

// Open opens a database/sql handle over the pgx stdlib driver.
func Open(databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("migrations: empty database url")
	}
	return sql.Open("pgx", databaseURL)
}

// Up applies all pending migrations.
func Up(ctx context.Context, db *sql.DB) error {
	if err := setup(); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, db *sql.DB) error {
	if err := setup(); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Status logs the applied state of every migration through goose's logger.
func Status(ctx context.Context, db *sql.DB) error {
	if err := setup(); err != nil {
		return err
	}
	return goose.StatusContext(ctx, db, ".")
}

// Version returns the current schema version.
func Version(ctx context.Context, db *sql.DB) (int64, error) {
	if err := setup(); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, db)
}

// UpURL opens databaseURL, applies migrations and closes the handle.
func UpURL(ctx context.Context, databaseURL string) error {
	db, err := Open(databaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return Up(ctx, db)
}
