// Package memstore is an in-process session.DurableStore for tests, demos
// and the load generator. It keeps no data across restarts.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aivle-project/tokenauth/session"
)

// ErrDuplicateToken is returned by Insert when the token already exists.
var ErrDuplicateToken = errors.New("memstore: duplicate refresh token")

// Store is a mutex-guarded map of refresh records keyed by token.
type Store struct {
	mu      sync.Mutex
	records map[string]*session.Record
	fail    error
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*session.Record)}
}

// Insert implements session.DurableStore.
func (s *Store) Insert(ctx context.Context, rec *session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if _, ok := s.records[rec.Token]; ok {
		return ErrDuplicateToken
	}
	s.records[rec.Token] = rec.Clone()
	return nil
}

// FindByToken implements session.DurableStore.
func (s *Store) FindByToken(ctx context.Context, token string) (*session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	rec, ok := s.records[token]
	if !ok {
		return nil, session.ErrDurableRecordNotFound
	}
	return rec.Clone(), nil
}

// RevokeIfActive implements session.DurableStore.
func (s *Store) RevokeIfActive(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, s.fail
	}
	rec, ok := s.records[token]
	if !ok || rec.Revoked {
		return false, nil
	}
	rec.Revoked = true
	return true, nil
}

// RevokeAllByUserID implements session.DurableStore.
func (s *Store) RevokeAllByUserID(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	var n int64
	for _, rec := range s.records {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			n++
		}
	}
	return n, nil
}

// ListActiveByUserID implements session.DurableLister.
func (s *Store) ListActiveByUserID(ctx context.Context, userID int64, now time.Time) ([]*session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]*session.Record, 0)
	for _, rec := range s.records {
		if rec.UserID == userID && !rec.Revoked && !rec.Expired(now) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsedAt > out[j].LastUsedAt })
	return out, nil
}

// Len returns the number of stored records, revoked ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// SetFailure makes every subsequent call return err until it is reset with
// nil. Used to simulate an unavailable database.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}
