// Package limiters provides the Redis-backed login attempt guard.
//
// [LoginAttemptGuard] counts failed logins per normalized identity and swaps
// the counter for a lock marker once the threshold is reached. The counter
// update and the threshold check execute as a single Lua script.
//
// # What this package must NOT do
//
//   - Import tokenauth or any sibling internal package.
//   - Decide what a lock means to the caller. Flow functions map
//     ErrLoginLocked to a user-facing error.
package limiters
