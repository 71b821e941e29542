// Package server hosts sessions: per-client state trees dispatched over
// persistent WebSocket channels. Each session runs a single-goroutine event
// loop that executes handlers under an exclusive state lock, flushes dirty
// fields into sequence-numbered deltas, and keeps a bounded replay history
// so clients can reconnect without a full snapshot.
//
// Background handlers run concurrently with the main queue, acquiring the
// state lock only for the mutation windows between explicit yields.
package server
