// Package audit relays security-relevant authentication events to a Sink
// without blocking the request path.
//
// The engine decides which events to emit. This package only buffers and
// delivers them: a full buffer either drops the event (counted in Dropped)
// or blocks until the caller's context ends.
package audit
