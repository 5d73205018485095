package tokenauth

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/aivle-project/tokenauth/internal/audit"
	"github.com/aivle-project/tokenauth/internal/flows"
	"github.com/aivle-project/tokenauth/jwt"
	"go.uber.org/zap"
)

// Principal is an authenticated user. ID keys the refresh-token records and
// session set; UUID is the access-token subject and the logout-all user key.
type Principal = flows.Principal

// Account is the credential record owned by the account provider.
//
// Enabled false means the address is not verified yet. CredentialsExpired
// refuses login; PasswordExpired only flags the login result.
type Account struct {
	ID                 int64
	UUID               string
	Email              string
	PasswordHash       string
	Roles              []string
	Enabled            bool
	CredentialsExpired bool
	PasswordExpired    bool
}

// Principal projects the account to the authenticated subject.
func (a Account) Principal() Principal {
	return Principal{
		ID:              a.ID,
		UUID:            a.UUID,
		Email:           a.Email,
		Roles:           append([]string(nil), a.Roles...),
		Enabled:         a.Enabled,
		PasswordExpired: a.PasswordExpired,
	}
}

// CredentialVerifier checks an identity and password. Failures are one of
// [ErrBadCredential], [ErrAccountDisabled] or [ErrCredentialsExpired];
// anything else is a backend failure.
type CredentialVerifier interface {
	Verify(ctx context.Context, identity, password string) (Principal, error)
}

// PrincipalLookup resolves a principal by numeric id. Unknown ids return
// [ErrPrincipalNotFound].
type PrincipalLookup interface {
	LoadPrincipalByID(ctx context.Context, userID int64) (Principal, error)
}

// CredentialStore persists a new password hash.
type CredentialStore interface {
	UpdatePasswordHash(ctx context.Context, userID int64, newHash string) error
}

// AccountProvider is the account database. [NewAccountVerifier] derives
// the verifier, principal lookup and credential store from it. Lookups of
// unknown accounts return [ErrPrincipalNotFound].
type AccountProvider interface {
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	GetAccountByID(ctx context.Context, userID int64) (Account, error)
	UpdatePasswordHash(ctx context.Context, userID int64, newHash string) error
}

// LoginInput is a login request. DeviceID defaults to "default".
type LoginInput struct {
	Identity   string
	Password   string
	DeviceID   string
	DeviceInfo string
	IP         string
}

// LoginResult is returned by [Engine.Login].
type LoginResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  int64
	RefreshExpiresIn int64
	DeviceID         string
	PasswordExpired  bool
	Principal        Principal
}

// TokenResponse is returned by [Engine.Refresh].
type TokenResponse struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresIn  int64
	RefreshExpiresIn int64
	DeviceID         string
}

// AuthResult is returned by [Engine.ValidateAccess].
type AuthResult struct {
	UserID    int64
	UserKey   string
	Email     string
	Roles     []string
	DeviceID  string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time

	// Claims are the verified token claims, kept for [Engine.Logout].
	Claims *jwt.AccessClaims
}

// SessionInfo describes one live refresh-token session.
type SessionInfo struct {
	DeviceID   string    `json:"deviceId"`
	DeviceInfo string    `json:"deviceInfo,omitempty"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	IssuedAt   time.Time `json:"issuedAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// AuditEvent is emitted for security-relevant operations when auditing is
// enabled.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink delivers audit events on a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes audit events as JSON lines.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink writes audit events to a zap logger.
type ZapSink = internalaudit.ZapSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
