package session

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"passgate/cmd/identity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (passgate.sessions joined with passgate.users).
type PostgresStore struct {
	pool     *pgxpool.Pool
	sessions string
	users    string
}

// NewPostgresStore creates a Postgres-backed session store in schema.
// An empty schema means identity.DefaultSchema.
func NewPostgresStore(pool *pgxpool.Pool, schema string) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	if schema == "" {
		schema = identity.DefaultSchema
	}
	return &PostgresStore{
		pool:     pool,
		sessions: pgx.Identifier{schema, "sessions"}.Sanitize(),
		users:    pgx.Identifier{schema, "users"}.Sanitize(),
	}, nil
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, row Row) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.sessions+` (id, user_id, secret_hash, created_at, user_agent, ip)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, row.ID, row.UserID, row.SecretHash, row.CreatedAt, nullIfEmpty(row.UserAgent), parseIP(row.IP))
	return err
}

// GetWithUser loads a session and its user with a single join.
func (s *PostgresStore) GetWithUser(ctx context.Context, id string) (Row, identity.User, error) {
	var (
		row Row
		u   identity.User
		ua  *string
		ip  *netip.Addr
	)

	err := s.pool.QueryRow(ctx, `
		SELECT
			s.id, s.user_id, s.secret_hash, s.created_at, s.user_agent, s.ip,
			u.id, u.email, u.display_name, u.roles, u.webauthn_id, u.created_at, u.last_login_at
		FROM `+s.sessions+` s
		JOIN `+s.users+` u ON u.id = s.user_id
		WHERE s.id = $1
	`, id).Scan(
		&row.ID, &row.UserID, &row.SecretHash, &row.CreatedAt, &ua, &ip,
		&u.ID, &u.Email, &u.DisplayName, &u.Roles, &u.WebAuthnID, &u.CreatedAt, &u.LastLoginAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, identity.User{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, identity.User{}, err
	}

	row.UserAgent = deref(ua)
	if ip != nil {
		row.IP = ip.String()
	}
	return row, u, nil
}

// Delete removes a session (idempotent).
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.sessions+` WHERE id = $1`, id)
	return err
}

// ListByUser returns a user's sessions, newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, secret_hash, created_at, user_agent, ip
		FROM `+s.sessions+`
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			row Row
			ua  *string
			ip  *netip.Addr
		)
		if err := rows.Scan(&row.ID, &row.UserID, &row.SecretHash, &row.CreatedAt, &ua, &ip); err != nil {
			return nil, err
		}
		row.UserAgent = deref(ua)
		if ip != nil {
			row.IP = ip.String()
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteByUser removes all sessions of a user.
func (s *PostgresStore) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.sessions+` WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteCreatedBefore removes sessions created before t.
func (s *PostgresStore) DeleteCreatedBefore(ctx context.Context, t time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.sessions+` WHERE created_at < $1`, t)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// parseIP returns nil for anything that is not a literal address, so a bad
// remote string never fails session creation.
func parseIP(s string) any {
	if s == "" {
		return nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil
	}
	return addr
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
