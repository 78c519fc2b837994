package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRecorder writes to passgate.audit_log.
type PostgresRecorder struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresRecorder returns a recorder for schema (default "passgate").
func NewPostgresRecorder(pool *pgxpool.Pool, schema string) (*PostgresRecorder, error) {
	if pool == nil {
		return nil, fmt.Errorf("audit: nil pool")
	}
	if schema == "" {
		schema = "passgate"
	}
	return &PostgresRecorder{pool: pool, table: pgx.Identifier{schema, "audit_log"}.Sanitize()}, nil
}

func (p *PostgresRecorder) Record(ctx context.Context, ev Event) error {
	ev, err := prepare(ev)
	if err != nil {
		return err
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO `+p.table+` (
			id, user_id, session_id, action, subject, ip, user_agent, meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`, ev.ID, nilIfEmpty(ev.UserID), nilIfEmpty(ev.SessionID), ev.Action, nilIfEmpty(ev.Subject),
		inet(ev.IP), nilIfEmpty(ev.UserAgent), metaVal, ev.CreatedAt)
	return err
}

func (p *PostgresRecorder) List(ctx context.Context, limit int) ([]Event, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, session_id, action, subject, ip, user_agent, meta, created_at
		FROM `+p.table+`
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev                             Event
			userID, sessionID, subject, ua *string
			ip                             *netip.Addr
			meta                           []byte
		)
		if err := rows.Scan(&ev.ID, &userID, &sessionID, &ev.Action, &subject, &ip, &ua, &meta, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.UserID = deref(userID)
		ev.SessionID = deref(sessionID)
		ev.Subject = deref(subject)
		ev.UserAgent = deref(ua)
		if ip != nil {
			ev.IP = ip.String()
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Meta); err != nil {
				return nil, fmt.Errorf("audit: decode meta: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *PostgresRecorder) CountSince(ctx context.Context, q CountQuery) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM `+p.table+`
		WHERE action = $1 AND subject = $2 AND ip IS NOT DISTINCT FROM $3::inet AND created_at >= $4
	`, q.Action, q.Subject, inet(q.IP), q.Since).Scan(&n)
	return n, err
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func inet(s string) any {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil
	}
	return addr.Unmap()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Recorder = (*PostgresRecorder)(nil)
