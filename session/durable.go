package session

import (
	"context"
	"errors"
	"time"
)

// ErrDurableRecordNotFound is returned by a [DurableStore] when no row exists
// for the requested token.
var ErrDurableRecordNotFound = errors.New("durable refresh record not found")

// DurableStore is the system of record for refresh tokens. The fast store is
// rebuilt from it on a miss.
//
// Implementations must be safe for concurrent use. RevokeIfActive must be a
// conditional write: exactly one of several concurrent callers for the same
// token observes true.
type DurableStore interface {
	// Insert persists a new record. Token values are unique.
	Insert(ctx context.Context, rec *Record) error
	// FindByToken returns the record for token, including revoked ones, or
	// ErrDurableRecordNotFound.
	FindByToken(ctx context.Context, token string) (*Record, error)
	// RevokeIfActive flags the record revoked when it is not already, and
	// reports whether this call performed the transition.
	RevokeIfActive(ctx context.Context, token string) (bool, error)
	// RevokeAllByUserID flags every non-revoked record of the user and
	// returns how many changed.
	RevokeAllByUserID(ctx context.Context, userID int64) (int64, error)
}

// DurableLister is implemented by durable stores that can list a user's live
// rows. [Store.ActiveSessions] uses it to include sessions whose fast record
// expired or was evicted.
type DurableLister interface {
	// ListActiveByUserID returns the user's unrevoked rows that expire after
	// now.
	ListActiveByUserID(ctx context.Context, userID int64, now time.Time) ([]*Record, error)
}
