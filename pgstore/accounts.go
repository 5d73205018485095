package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/aivle-project/tokenauth"
)

const selectAccountColumns = `id, uuid::text, email, password_hash, roles, enabled,
	credentials_expired, password_expired`

// Accounts is the users table. It implements tokenauth.AccountProvider.
type Accounts struct {
	db DB
}

func NewAccounts(db DB) *Accounts {
	return &Accounts{db: db}
}

var _ tokenauth.AccountProvider = (*Accounts)(nil)

// GetAccountByEmail matches email case-insensitively.
func (a *Accounts) GetAccountByEmail(ctx context.Context, email string) (tokenauth.Account, error) {
	row := a.db.QueryRow(ctx, `SELECT `+selectAccountColumns+`
		FROM users
		WHERE lower(email) = $1
		LIMIT 1`, strings.ToLower(strings.TrimSpace(email)))
	return scanAccount(row)
}

func (a *Accounts) GetAccountByID(ctx context.Context, userID int64) (tokenauth.Account, error) {
	row := a.db.QueryRow(ctx, `SELECT `+selectAccountColumns+`
		FROM users
		WHERE id = $1`, userID)
	return scanAccount(row)
}

func (a *Accounts) UpdatePasswordHash(ctx context.Context, userID int64, newHash string) error {
	tag, err := a.db.Exec(ctx, `
		UPDATE users
		SET password_hash = $2, password_expired = FALSE, updated_at = now()
		WHERE id = $1
	`, userID, newHash)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tokenauth.ErrPrincipalNotFound
	}
	return nil
}

// Create inserts a new user and returns it with the generated id and uuid.
func (a *Accounts) Create(ctx context.Context, email, passwordHash string, roles []string, enabled bool) (tokenauth.Account, error) {
	if len(roles) == 0 {
		roles = []string{"ROLE_USER"}
	}
	row := a.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, roles, enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING `+selectAccountColumns,
		strings.ToLower(strings.TrimSpace(email)), passwordHash, roles, enabled,
	)
	return scanAccount(row)
}

func scanAccount(row pgx.Row) (tokenauth.Account, error) {
	var acct tokenauth.Account
	err := row.Scan(
		&acct.ID, &acct.UUID, &acct.Email, &acct.PasswordHash, &acct.Roles,
		&acct.Enabled, &acct.CredentialsExpired, &acct.PasswordExpired,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tokenauth.Account{}, tokenauth.ErrPrincipalNotFound
		}
		return tokenauth.Account{}, fmt.Errorf("failed to get user: %w", err)
	}
	return acct, nil
}
