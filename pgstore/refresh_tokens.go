package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/aivle-project/tokenauth/session"
)

// ErrDuplicateToken is returned by Insert when token_value already exists.
var ErrDuplicateToken = errors.New("pgstore: duplicate refresh token")

const uniqueViolation = "23505"

const selectRefreshColumns = `token_value, user_id, device_id, device_info, ip_address,
	issued_at, expires_at, last_used_at, revoked`

// RefreshTokens is the refresh_tokens table. It implements
// session.DurableStore.
type RefreshTokens struct {
	db DB
}

func NewRefreshTokens(db DB) *RefreshTokens {
	return &RefreshTokens{db: db}
}

var (
	_ session.DurableStore  = (*RefreshTokens)(nil)
	_ session.DurableLister = (*RefreshTokens)(nil)
)

func (r *RefreshTokens) Insert(ctx context.Context, rec *session.Record) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO refresh_tokens (token_value, user_id, device_id, device_info, ip_address,
			issued_at, expires_at, last_used_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.Token, rec.UserID, rec.DeviceID, rec.DeviceInfo, rec.IPAddress,
		millisToTime(rec.IssuedAt), millisToTime(rec.ExpiresAt), millisToTime(rec.LastUsedAt),
		rec.Revoked,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateToken
		}
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

// FindByToken returns revoked rows too; callers decide what revoked means.
func (r *RefreshTokens) FindByToken(ctx context.Context, token string) (*session.Record, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectRefreshColumns+`
		FROM refresh_tokens
		WHERE token_value = $1
		LIMIT 1`, token)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrDurableRecordNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return rec, nil
}

// RevokeIfActive flips revoked in a single conditional UPDATE, so of several
// concurrent callers only one sees a changed row.
func (r *RefreshTokens) RevokeIfActive(ctx context.Context, token string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = now()
		WHERE token_value = $1 AND NOT revoked
	`, token)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *RefreshTokens) RevokeAllByUserID(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = now()
		WHERE user_id = $1 AND NOT revoked
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListActiveByUserID implements session.DurableLister. Rows come back most
// recently used first.
func (r *RefreshTokens) ListActiveByUserID(ctx context.Context, userID int64, now time.Time) ([]*session.Record, error) {
	rows, err := r.db.Query(ctx, `SELECT `+selectRefreshColumns+`
		FROM refresh_tokens
		WHERE user_id = $1 AND NOT revoked AND expires_at > $2
		ORDER BY last_used_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh tokens: %w", err)
	}
	defer rows.Close()

	var out []*session.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list refresh tokens: %w", err)
	}
	return out, nil
}

// PurgeExpired deletes rows that expired before cutoff and returns how many
// went away.
func (r *RefreshTokens) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (*session.Record, error) {
	var (
		rec                         session.Record
		issuedAt, expiresAt, usedAt time.Time
	)
	err := row.Scan(
		&rec.Token, &rec.UserID, &rec.DeviceID, &rec.DeviceInfo, &rec.IPAddress,
		&issuedAt, &expiresAt, &usedAt, &rec.Revoked,
	)
	if err != nil {
		return nil, err
	}
	rec.IssuedAt = issuedAt.UnixMilli()
	rec.ExpiresAt = expiresAt.UnixMilli()
	rec.LastUsedAt = usedAt.UnixMilli()
	return &rec, nil
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(session.NormalizeEpochMillis(ms)).UTC()
}
