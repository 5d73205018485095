package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps failures of the fast store.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrDurableUnavailable wraps failures of the durable store other than a
// missing record.
var ErrDurableUnavailable = errors.New("durable store unavailable")

// ErrInvalidRefreshToken is returned when a refresh token is unknown, revoked,
// expired, or lost a concurrent rotation.
var ErrInvalidRefreshToken = errors.New("invalid refresh token")

const (
	refreshKeyPrefix    = "refresh:"
	sessionSetKeyPrefix = "sessions:"
)

const removeFastScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var removeFastLua = redis.NewScript(removeFastScript)

// Store is the dual-backed refresh token registry. Redis holds the fast
// representation (one JSON record per token plus a per-user session set) and
// a [DurableStore] holds the system of record.
//
//	Redis keys: refresh:<token> (TTL = remaining lifetime), sessions:<userId> (no TTL)
type Store struct {
	redis      redis.UniversalClient
	durable    DurableStore
	refreshTTL time.Duration
	now        func() time.Time
	rehydrated func(*Record)
}

// NewStore creates a [Store]. refreshTTL is the lifetime given to every new
// record by StoreToken and RotateToken.
func NewStore(rdb redis.UniversalClient, durable DurableStore, refreshTTL time.Duration) *Store {
	return &Store{
		redis:      rdb,
		durable:    durable,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// OnRehydrate registers a callback invoked after a fast record is rebuilt
// from the durable store.
func (s *Store) OnRehydrate(fn func(*Record)) {
	s.rehydrated = fn
}

// RefreshTTL returns the configured refresh token lifetime.
func (s *Store) RefreshTTL() time.Duration {
	return s.refreshTTL
}

// RefreshKey returns the fast-store key of a refresh token.
func RefreshKey(token string) string {
	return refreshKeyPrefix + token
}

// SessionSetKey returns the fast-store key of a user's session set.
func SessionSetKey(userID int64) string {
	return sessionSetKeyPrefix + strconv.FormatInt(userID, 10)
}

// StoreToken records a new session for userID. The durable row is written
// before the fast record so that every member of the session set has a
// durable counterpart.
//
//	Performance: 1 durable insert + 1 Redis MULTI (SET, SADD).
func (s *Store) StoreToken(ctx context.Context, userID int64, token, deviceID, deviceInfo, ip string) (*Record, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("session: refresh token is empty")
	}
	if strings.TrimSpace(deviceID) == "" {
		deviceID = DefaultDeviceID
	}

	now := s.now()
	rec := &Record{
		Token:      token,
		UserID:     userID,
		DeviceID:   deviceID,
		DeviceInfo: deviceInfo,
		IPAddress:  ip,
		IssuedAt:   now.UnixMilli(),
		LastUsedAt: now.UnixMilli(),
		ExpiresAt:  now.Add(s.refreshTTL).UnixMilli(),
	}

	if err := s.durable.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	if err := s.writeFast(ctx, rec, s.refreshTTL); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// LoadValidToken returns the active record for token. A fast-store miss falls
// back to the durable store; a live durable row is then written back to the
// fast store with its remaining lifetime and re-added to the session set.
//
//	Performance: 1 Redis GET on a hit; 2 durable reads + 1 Redis MULTI on rehydration.
func (s *Store) LoadValidToken(ctx context.Context, token string) (*Record, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidRefreshToken
	}
	now := s.now()

	rec, corrupt, err := s.readFast(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		if rec.Expired(now) {
			return nil, ErrInvalidRefreshToken
		}
		return rec, nil
	}

	rec, err = s.durable.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrDurableRecordNotFound) {
			if corrupt {
				return nil, s.dropFastKey(ctx, token)
			}
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	normalizeRecord(rec)
	if rec.Revoked || rec.Expired(now) {
		if corrupt {
			if err := s.removeFast(ctx, rec.UserID, token); err != nil {
				return nil, err
			}
		}
		return nil, ErrInvalidRefreshToken
	}

	if err := s.writeFast(ctx, rec, rec.RemainingTTL(now)); err != nil {
		return nil, err
	}

	// A revoke that ran between the durable read and the write above has
	// already cleared the fast store, so the rebuilt record must go again.
	current, err := s.durable.FindByToken(ctx, token)
	if err != nil && !errors.Is(err, ErrDurableRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	if err != nil || current.Revoked {
		if rmErr := s.removeFast(ctx, rec.UserID, token); rmErr != nil {
			return nil, rmErr
		}
		return nil, ErrInvalidRefreshToken
	}

	if s.rehydrated != nil {
		s.rehydrated(rec.Clone())
	}
	return rec, nil
}

// RotateToken replaces oldToken with newToken, carrying over the device
// metadata. The old durable row is revoked with a conditional update before
// anything else changes: when two rotations race on the same token only one
// wins and the other gets ErrInvalidRefreshToken. The old token is therefore
// unusable before the new record is returned.
//
//	Performance: LoadValidToken + 1 durable conditional update + 1 EVALSHA + 1 durable insert + 1 Redis MULTI.
func (s *Store) RotateToken(ctx context.Context, oldToken, newToken string) (*Record, error) {
	if strings.TrimSpace(newToken) == "" || newToken == oldToken {
		return nil, errors.New("session: rotation requires a fresh refresh token")
	}

	old, err := s.LoadValidToken(ctx, oldToken)
	if err != nil {
		return nil, err
	}

	revoked, err := s.durable.RevokeIfActive(ctx, old.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	if err := s.removeFast(ctx, old.UserID, old.Token); err != nil {
		return nil, err
	}
	if !revoked {
		return nil, ErrInvalidRefreshToken
	}

	now := s.now()
	next := &Record{
		Token:      newToken,
		UserID:     old.UserID,
		DeviceID:   old.DeviceID,
		DeviceInfo: old.DeviceInfo,
		IPAddress:  old.IPAddress,
		IssuedAt:   now.UnixMilli(),
		LastUsedAt: now.UnixMilli(),
		ExpiresAt:  now.Add(s.refreshTTL).UnixMilli(),
	}
	if err := s.durable.Insert(ctx, next); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	if err := s.writeFast(ctx, next, s.refreshTTL); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// RevokeToken kills a single token in both stores. Unknown and already
// revoked tokens are a no-op, so repeated calls succeed.
func (s *Store) RevokeToken(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}

	rec, _, err := s.readFast(ctx, token)
	if err != nil {
		return err
	}
	if rec == nil {
		rec, err = s.durable.FindByToken(ctx, token)
		if err != nil {
			if errors.Is(err, ErrDurableRecordNotFound) {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
		}
	}

	if _, err := s.durable.RevokeIfActive(ctx, token); err != nil {
		return fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	return s.removeFast(ctx, rec.UserID, token)
}

// RevokeAllByUserID revokes all durable rows of the user, then deletes every
// fast record listed in the user's session set together with the set. It
// returns the number of durable rows that changed.
//
// The durable revoke comes first, so a concurrent LoadValidToken that misses
// the fast store finds the row revoked and refuses to rebuild it.
//
// ATOMICITY NOTE: a StoreToken for the same user that lands after the durable
// revoke keeps a live session. Callers bound this window with the logout-all
// marker.
func (s *Store) RevokeAllByUserID(ctx context.Context, userID int64) (int64, error) {
	n, err := s.durable.RevokeAllByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}

	setKey := SessionSetKey(userID)
	tokens, err := s.redis.SMembers(ctx, setKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return n, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		keys = append(keys, RefreshKey(token))
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, setKey)
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// ActiveSessions returns the live sessions of a user, most recently used
// first. Set members whose fast record has expired are pruned from the set.
// When the durable store is a [DurableLister], live durable rows without a
// fast record are listed as well, without being rebuilt.
func (s *Store) ActiveSessions(ctx context.Context, userID int64) ([]*Record, error) {
	now := s.now()
	records, err := s.fastSessions(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	if lister, ok := s.durable.(DurableLister); ok {
		rows, err := lister.ListActiveByUserID(ctx, userID, now)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
		}
		seen := make(map[string]struct{}, len(records))
		for _, r := range records {
			seen[r.Token] = struct{}{}
		}
		for _, row := range rows {
			normalizeRecord(row)
			if _, ok := seen[row.Token]; ok || row.Revoked || row.Expired(now) {
				continue
			}
			records = append(records, row)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].LastUsedAt > records[j].LastUsedAt
	})
	return records, nil
}

func (s *Store) fastSessions(ctx context.Context, userID int64, now time.Time) ([]*Record, error) {
	setKey := SessionSetKey(userID)

	tokens, err := s.redis.SMembers(ctx, setKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []*Record{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(tokens) == 0 {
		return []*Record{}, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(tokens))
	for i, token := range tokens {
		cmds[i] = pipe.Get(ctx, RefreshKey(token))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	records := make([]*Record, 0, len(tokens))
	var stale []interface{}
	for i, cmd := range cmds {
		data, cmdErr := cmd.Bytes()
		if cmdErr != nil {
			if errors.Is(cmdErr, redis.Nil) {
				stale = append(stale, tokens[i])
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, cmdErr)
		}
		rec, decErr := Decode(data)
		if decErr != nil || rec.Expired(now) {
			stale = append(stale, tokens[i])
			continue
		}
		records = append(records, rec)
	}

	if len(stale) > 0 {
		if err := s.redis.SRem(ctx, setKey, stale...).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return records, nil
}

// readFast returns (nil, false, nil) on a miss. A payload that no longer
// decodes reports corrupt so the caller can rebuild it from the durable store
// or remove it together with its session-set membership.
func (s *Store) readFast(ctx context.Context, token string) (*Record, bool, error) {
	data, err := s.redis.Get(ctx, RefreshKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, true, nil
	}
	return rec, false, nil
}

// dropFastKey removes an undecodable record that has no durable owner. Its
// set membership, if any, is pruned by ActiveSessions.
func (s *Store) dropFastKey(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, RefreshKey(token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ErrInvalidRefreshToken
}

func (s *Store) writeFast(ctx context.Context, rec *Record, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, RefreshKey(rec.Token), data, ttl)
		pipe.SAdd(ctx, SessionSetKey(rec.UserID), rec.Token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) removeFast(ctx context.Context, userID int64, token string) error {
	err := removeFastLua.Run(ctx, s.redis, []string{RefreshKey(token), SessionSetKey(userID)}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
