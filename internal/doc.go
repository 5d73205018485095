// Package internal holds helpers private to tokenauth, currently refresh
// token generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - flows: orchestration behind every Engine operation
//   - limiters: Redis-backed login lockout
//   - rate: per-IP throttling of login and refresh
package internal
