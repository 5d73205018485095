// Package flows contains the orchestration behind every Engine operation.
//
// Each Run function accepts a typed dependency struct and returns results
// without side effects beyond those dependencies, so flows can be tested
// with in-memory fakes and the Engine stays thin.
//
// # Architecture boundaries
//
// Flows coordinate the login guard, token issuer, refresh-token store and
// access-token denylist. They do NOT own any of these resources; ownership
// stays with the Engine, which also maps flow outcomes to metrics and audit
// events.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import the root package (import cycle).
//   - Perform I/O directly. All I/O goes through dependency interfaces.
package flows
