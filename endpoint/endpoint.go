// Package endpoint defines the narrow transport contract the connection
// engine consumes (spec.md §4.1/§6). The engine never dials a socket or
// performs a TLS handshake itself — it is handed an Endpoint and driven by
// the lifecycle callbacks the Endpoint delivers on its own reactor thread.
//
// See package netendpoint for a concrete net.Conn-backed implementation.
package endpoint

import "errors"

// ErrClosed is returned by Send when called after Close has already
// completed.
var ErrClosed = errors.New("endpoint: closed")

// Endpoint is the capability set a Connection needs from its transport.
// All four methods may be called from any goroutine; an Endpoint
// implementation is responsible for marshalling the actual I/O onto its own
// single reactor goroutine so that callback delivery and queued sends never
// race with each other.
type Endpoint interface {
	// Send enqueues bytes for write. Calls are ordered: bytes from an
	// earlier Send appear on the wire before bytes from a later one.
	// Non-blocking; returns ErrClosed if called after Close.
	Send(p []byte) error

	// Close closes the write side gracefully after currently enqueued
	// bytes have been flushed. Idempotent.
	Close() error

	// IsOpen reports whether Close has not yet been called.
	IsOpen() bool

	// ScheduleLater guarantees fn runs on the reactor goroutine at some
	// point after the current callback returns (or immediately, if no
	// callback is presently executing). Used by the Connection to
	// marshal public-API calls made from arbitrary goroutines onto the
	// single-threaded cooperative engine.
	ScheduleLater(fn func())
}

// Callbacks is implemented by the Connection and invoked by the Endpoint on
// its reactor goroutine. Calls are always delivered serially, never
// concurrently with each other or with a ScheduleLater task.
type Callbacks interface {
	// OnConnected fires once the underlying transport is established
	// (TCP connected), before any security handshake.
	OnConnected()

	// OnSecurityEstablished fires once for TLS endpoints after the
	// handshake completes, reporting the ALPN-negotiated protocol
	// ("h2", "http/1.1", or "" if none was negotiated).
	OnSecurityEstablished(protocol string)

	// OnReceive delivers inbound bytes. The slice is only valid for the
	// duration of the call; the Connection copies what it needs to
	// retain into its own parse buffer.
	OnReceive(p []byte)

	// OnDisconnected fires exactly once when the transport is gone,
	// whether via graceful close or error. No further callbacks follow.
	OnDisconnected()

	// OnError reports a transport-level failure (DNS, dial, TLS,
	// read/write, timeout). OnDisconnected still follows.
	OnError(err error)
}
