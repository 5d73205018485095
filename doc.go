// Package tokenauth is a stateful session engine: it issues short-lived JWT
// access tokens and rotating opaque refresh tokens, and controls them with a
// Redis fast store backed by a durable refresh-token store.
//
// Engine methods are safe to call from multiple goroutines after
// [Builder.Build]. Atomicity comes from Redis scripts and conditional
// durable updates, not from in-process locks.
//
// # Architecture boundaries
//
// tokenauth is the public surface: [Engine], [Builder], [Config] and value
// types such as [LoginResult], [AuthResult] and [SessionInfo]. Flow
// orchestration, lockout and rate counters, and audit dispatch live under
// internal/. The session and denylist packages own the Redis key layout.
//
// Accounts are not owned here. Callers plug in an [AccountProvider] (or a
// [CredentialVerifier] plus [PrincipalLookup]) and a [session.DurableStore];
// the pgstore package provides PostgreSQL implementations of both.
//
// # Refresh tokens
//
// Refresh tokens are single-use. [Engine.Refresh] consumes the presented
// token and returns a new one bound to the same device. Of two concurrent
// refreshes of one token exactly one wins; the loser gets
// [ErrInvalidRefreshToken]. A corrupt or evicted fast-store record is rebuilt
// from the durable store.
//
// # Logout-all
//
// [Engine.LogoutAll] revokes every refresh token of a user and records an
// instant. Access tokens issued at or before that instant fail
// [Engine.ValidateAccess] with [ErrTokenRevoked] until they expire, and refresh
// tokens last used at or before it are rejected.
package tokenauth
