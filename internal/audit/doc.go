// Package audit delivers session lifecycle audit events off the request path.
//
// # Components
//
//   - [Sink] consumes events (channel, JSON lines, zap, no-op).
//   - [Dispatcher] is a buffered relay with drop-if-full or block-if-full behavior.
//   - [Event] records who did what from which device and IP, and whether it worked.
//
// The Engine decides which events exist. This package only buffers and
// delivers them, and never imports the root package.
package audit
