// Package rate provides per-IP request throttling for the login and refresh
// flows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - rate:login:ip:   login per-IP
//   - rate:refresh:ip: refresh per-IP
//
// # What this package must NOT do
//
//   - Count credential failures (that is the login attempt guard in
//     internal/limiters).
//   - Be imported outside the tokenauth module.
package rate
