package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"passgate/cmd/identity/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is the schema created by the embedded migrations.
const DefaultSchema = "passgate"

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store never closes it.
// Each write is a single statement, so no transaction spans a browser round trip.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "passgate").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

const userColumns = `id, email, display_name, roles, webauthn_id, created_at, last_login_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.Roles, &u.WebAuthnID, &u.CreatedAt, &u.LastLoginAt)
	return u, err
}

// CreateUser inserts a new user.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"

	in, err := validateCreateUser(op, in)
	if err != nil {
		return User{}, err
	}
	id, err := NewULID(in.Now)
	if err != nil {
		return User{}, err
	}

	u, err := scanUser(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("users")+` (id, email, display_name, roles, webauthn_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+userColumns,
		id, in.Email, in.DisplayName, in.Roles, in.WebAuthnID, in.Now,
	))
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return u, nil
}

// GetUserByID loads a user by id.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.table("users")+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, err
}

// GetUserByEmail loads a user by normalized email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.GetUserByEmail"

	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+s.table("users")+` WHERE email = $1`, NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	return u, err
}

// ListUsers returns all users, oldest first.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM `+s.table("users")+` ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CountUsers returns the number of users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.table("users")).Scan(&n)
	return n, err
}

// TouchLastLogin records a successful sign-in.
func (s *PostgresStore) TouchLastLogin(ctx context.Context, userID string, now time.Time) error {
	const op = "identity.TouchLastLogin"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("users")+` SET last_login_at = $2 WHERE id = $1`, userID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// DeleteUser deletes a user; sessions and authenticators cascade in the schema.
func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	const op = "identity.DeleteUser"

	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("users")+` WHERE id = $1`, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

const authenticatorColumns = `id::text, user_id, credential_id, public_key, counter, transports,
	attestation_type, aaguid, flags, created_at, last_used_at`

func scanAuthenticator(row pgx.Row) (Authenticator, error) {
	var (
		a       Authenticator
		counter int64
		flags   int16
	)
	err := row.Scan(&a.ID, &a.UserID, &a.CredentialID, &a.PublicKey, &counter, &a.Transports,
		&a.AttestationType, &a.AAGUID, &flags, &a.CreatedAt, &a.LastUsedAt)
	if err != nil {
		return Authenticator{}, err
	}
	a.Counter = uint32(counter)
	a.Flags = uint8(flags)
	return a, nil
}

// AddAuthenticator inserts a verified credential.
func (s *PostgresStore) AddAuthenticator(ctx context.Context, in AddAuthenticatorInput) (Authenticator, error) {
	const op = "identity.AddAuthenticator"

	in, err := validateAddAuthenticator(op, in)
	if err != nil {
		return Authenticator{}, err
	}
	id, err := ids.NewUUID()
	if err != nil {
		return Authenticator{}, err
	}

	a, err := scanAuthenticator(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("authenticators")+` (
		     id, user_id, credential_id, public_key, counter, transports,
		     attestation_type, aaguid, flags, created_at
		 ) VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+authenticatorColumns,
		id, in.UserID, in.CredentialID, in.PublicKey, int64(in.Counter), in.Transports,
		in.AttestationType, in.AAGUID, int16(in.Flags), in.Now,
	))
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Authenticator{}, ConflictError{Op: op, Field: field}
		}
		if pgIsForeignKeyViolation(err) {
			return Authenticator{}, NotFoundError{Op: op, Resource: "user"}
		}
		return Authenticator{}, err
	}
	return a, nil
}

// GetAuthenticator loads one credential by row id.
func (s *PostgresStore) GetAuthenticator(ctx context.Context, id string) (Authenticator, error) {
	const op = "identity.GetAuthenticator"

	if !ids.ValidUUID(id) {
		return Authenticator{}, NotFoundError{Op: op, Resource: "authenticator"}
	}
	a, err := scanAuthenticator(s.pool.QueryRow(ctx,
		`SELECT `+authenticatorColumns+` FROM `+s.table("authenticators")+` WHERE id = $1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Authenticator{}, NotFoundError{Op: op, Resource: "authenticator"}
	}
	return a, err
}

// ListAuthenticators returns a user's credentials, oldest first.
func (s *PostgresStore) ListAuthenticators(ctx context.Context, userID string) ([]Authenticator, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+authenticatorColumns+` FROM `+s.table("authenticators")+`
		 WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Authenticator
	for rows.Next() {
		a, err := scanAuthenticator(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAuthenticator removes one credential.
func (s *PostgresStore) DeleteAuthenticator(ctx context.Context, id string) error {
	const op = "identity.DeleteAuthenticator"

	if !ids.ValidUUID(id) {
		return NotFoundError{Op: op, Resource: "authenticator"}
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table("authenticators")+` WHERE id = $1::uuid`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "authenticator"}
	}
	return nil
}

// UpdateAuthenticatorCounter is a compare-and-swap on the counter column.
func (s *PostgresStore) UpdateAuthenticatorCounter(ctx context.Context, id string, counter uint32, now time.Time) error {
	const op = "identity.UpdateAuthenticatorCounter"

	if !ids.ValidUUID(id) {
		return NotFoundError{Op: op, Resource: "authenticator"}
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if counter == 0 {
		tag, err = s.pool.Exec(ctx,
			`UPDATE `+s.table("authenticators")+` SET last_used_at = $2
			 WHERE id = $1::uuid AND counter = 0`, id, now)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE `+s.table("authenticators")+` SET counter = $2, last_used_at = $3
			 WHERE id = $1::uuid AND counter < $2`, id, int64(counter), now)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := s.GetAuthenticator(ctx, id); err != nil {
		return err
	}
	return OpError{Op: op, Kind: ErrStaleCounter}
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_users_email":
		return "email", true
	case "uq_users_webauthn_id":
		return "webauthn_id", true
	case "uq_authenticators_credential_id":
		return "credential_id", true
	default:
		switch {
		case strings.Contains(c, "email"):
			return "email", true
		case strings.Contains(c, "credential"):
			return "credential_id", true
		default:
			return "unique", true
		}
	}
}
