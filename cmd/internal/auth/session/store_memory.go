package session

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"passgate/cmd/identity"
)

// MemoryStore is an in-process Store. It resolves owners through an
// identity.Reader, so deleting a user makes its sessions unreachable the same
// way the cascading foreign key does in Postgres.
type MemoryStore struct {
	users identity.Reader

	mu   sync.Mutex
	rows map[string]Row
}

// NewMemoryStore returns an empty MemoryStore joined against users.
func NewMemoryStore(users identity.Reader) *MemoryStore {
	return &MemoryStore{users: users, rows: make(map[string]Row)}
}

func (s *MemoryStore) Create(_ context.Context, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[row.ID]; ok {
		return errors.New("session: duplicate id")
	}
	row.SecretHash = bytes.Clone(row.SecretHash)
	s.rows[row.ID] = row
	return nil
}

func (s *MemoryStore) GetWithUser(ctx context.Context, id string) (Row, identity.User, error) {
	s.mu.Lock()
	row, ok := s.rows[id]
	s.mu.Unlock()
	if !ok {
		return Row{}, identity.User{}, ErrSessionNotFound
	}

	u, err := s.users.GetUserByID(ctx, row.UserID)
	if identity.IsNotFound(err) {
		s.mu.Lock()
		delete(s.rows, id)
		s.mu.Unlock()
		return Row{}, identity.User{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, identity.User{}, err
	}

	row.SecretHash = bytes.Clone(row.SecretHash)
	return row, u, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Row, error) {
	s.mu.Lock()
	var out []Row
	for _, row := range s.rows {
		if row.UserID == userID {
			row.SecretHash = bytes.Clone(row.SecretHash)
			out = append(out, row)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) DeleteByUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, row := range s.rows {
		if row.UserID == userID {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteCreatedBefore(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, row := range s.rows {
		if row.CreatedAt.Before(t) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
