// Package session provides the dual-backed refresh token registry: a Redis
// fast store rebuilt on demand from a durable system of record.
//
// # Storage layout
//
// Each active refresh token is a JSON [Record] under refresh:<token> whose TTL
// equals the remaining lifetime, and a member of the per-user set
// sessions:<userId>. The durable side is any [DurableStore]; see the pgstore
// package for PostgreSQL and session/memstore for an in-process one.
//
// # Lifecycle
//
// A token is ACTIVE until exactly one of ROTATED, REVOKED or EXPIRED happens
// to it. All three are terminal. Rotation revokes the old durable row with a
// conditional update, so a token can be rotated at most once.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Record] model. It does NOT mint
// tokens, evaluate logout-all markers, or know about principals. Those
// responsibilities belong to the Engine.
//
// # What this package must NOT do
//
//   - Import tokenauth, jwt, or denylist (no upward imports).
//   - Hold in-process locks around store state. Atomicity comes from Redis
//     scripts and MULTI blocks and from conditional durable writes.
package session
