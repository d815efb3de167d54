// Package realtime keeps the seller inbox feed live for the current session.
//
// Manager owns at most one websocket connection to /ws/inbox/ and drives it
// through CONNECTING, OPEN, RECONNECTING and CLOSED. A connection exists only
// while the session is live; logout or expiry closes it and cancels any
// pending reconnect.
//
// Router receives the frames the connection reads, drops duplicates and
// sequence regressions, and serves each subscriber an ordered, lazily read
// sequence of events.
package realtime
