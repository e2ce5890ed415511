// Package stream implements the stream registry and lifecycle state
// machine (spec.md C6): odd client-initiated stream-ID allocation, the
// IDLE/OPEN/HALF_CLOSED_LOCAL/CLOSED/RESET states, and the HTTP/1 "current
// stream" singleton rule. It generalizes
// github.com/WhileEndless/go-rawhttp's pkg/http2.StreamManager — which
// tracks HTTP/2-only streams guarded by its own mutex for a one-shot
// blocking client — into a registry shared by both HTTP/1 and HTTP/2
// framing, unguarded because the engine runs single-threaded per
// connection (spec.md §5).
package stream

import "fmt"

// State is a stream's lifecycle state (spec.md §3 Stream).
type State int

const (
	StateIdle State = iota
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
	StateReset
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "half_closed_local"
	case StateHalfClosedRemote:
		return "half_closed_remote"
	case StateClosed:
		return "closed"
	case StateReset:
		return "reset"
	default:
		return "unknown"
	}
}

// maxClientStreamID is the highest legal client-initiated (odd) stream ID
// (RFC 7540 §5.1.1: stream identifiers are 31-bit).
const maxClientStreamID = 1<<31 - 1

// Stream is one request/response exchange. On an HTTP/1 connection exactly
// one Stream is ever open at a time (the "current stream"); on HTTP/2 many
// may be concurrently open, bounded by the peer's
// SETTINGS_MAX_CONCURRENT_STREAMS.
type Stream struct {
	ID          uint32
	State       State
	Method      string
	SendWindow  int64 // HTTP/2 only; unused (0) on HTTP/1 streams
	HasTrailers bool
}

// Registry tracks every stream on one connection and enforces allocation
// and concurrency-limit invariants. A Registry is owned exclusively by its
// Connection's reactor goroutine.
type Registry struct {
	streams       map[uint32]*Stream
	nextStreamID  uint32
	maxConcurrent uint32
	http1Current  uint32 // 0 when no HTTP/1 request is in flight
}

// NewRegistry returns an empty registry. maxConcurrent bounds the number of
// simultaneously OPEN/HALF_CLOSED_LOCAL streams (0 means unbounded, used
// before any peer SETTINGS has arrived).
func NewRegistry(maxConcurrent uint32) *Registry {
	return &Registry{
		streams:       make(map[uint32]*Stream),
		nextStreamID:  1,
		maxConcurrent: maxConcurrent,
	}
}

// SetMaxConcurrent updates the concurrency bound, e.g. after the peer's
// SETTINGS_MAX_CONCURRENT_STREAMS arrives.
func (r *Registry) SetMaxConcurrent(n uint32) { r.maxConcurrent = n }

// activeCount returns the number of streams presently counted against the
// concurrency limit.
func (r *Registry) activeCount() int {
	n := 0
	for _, s := range r.streams {
		if s.State == StateOpen || s.State == StateHalfClosedLocal {
			n++
		}
	}
	return n
}

// Open allocates a new stream with the next odd ID and registers it in
// StateOpen. It fails if the concurrency limit is reached or the 31-bit ID
// space is exhausted (the connection must then be replaced, per RFC 7540
// §5.1.1).
func (r *Registry) Open(method string) (*Stream, error) {
	if r.maxConcurrent > 0 && uint32(r.activeCount()) >= r.maxConcurrent {
		return nil, fmt.Errorf("stream: max concurrent streams (%d) reached", r.maxConcurrent)
	}
	if r.nextStreamID > maxClientStreamID {
		return nil, fmt.Errorf("stream: stream ID space exhausted, connection must be replaced")
	}

	id := r.nextStreamID
	r.nextStreamID += 2

	s := &Stream{ID: id, State: StateOpen, Method: method}
	r.streams[id] = s
	return s, nil
}

// ReserveHTTP1Stream registers stream 1 as the singleton HTTP/1 stream,
// used both for the first HTTP/1 request and, if an h2c upgrade is
// attempted and refused, for every subsequent HTTP/1 request in turn.
func (r *Registry) ReserveHTTP1Stream(method string) (*Stream, error) {
	if r.http1Current != 0 {
		return nil, fmt.Errorf("stream: an HTTP/1 request is already in flight")
	}
	s := &Stream{ID: 1, State: StateOpen, Method: method}
	r.streams[1] = s
	r.http1Current = 1
	return s, nil
}

// ReleaseHTTP1Stream closes out the current HTTP/1 stream and allows the
// next request to reuse the singleton slot (spec.md §4.6: one response in
// flight per HTTP/1 connection).
func (r *Registry) ReleaseHTTP1Stream() {
	if r.http1Current != 0 {
		if s, ok := r.streams[r.http1Current]; ok {
			s.State = StateClosed
		}
		r.http1Current = 0
	}
}

// ResetAfterUpgrade is called once an h2c upgrade to HTTP/2 is accepted
// (spec.md §4.6): stream 1 is re-registered as the implicit HTTP/2 stream
// created by the Upgrade request (RFC 7540 §3.2), and the next
// client-initiated stream continues at 3.
func (r *Registry) ResetAfterUpgrade(method string) *Stream {
	s := &Stream{ID: 1, State: StateHalfClosedLocal, Method: method}
	r.streams[1] = s
	r.http1Current = 0
	if r.nextStreamID < 3 {
		r.nextStreamID = 3
	}
	return s
}

// AdoptPushed registers a server-initiated PUSH_PROMISE stream so its later
// HEADERS/DATA frames are recognized instead of dropped (spec.md §4.3:
// "create a stream entry awaiting its HEADERS"). It reuses
// StateHalfClosedLocal, the same "client will not send, only receive" state
// already used for the implicit stream 1 an h2c upgrade creates
// (ResetAfterUpgrade) — a pushed stream is symmetric: the server will send
// headers/data and the client sends nothing back on it.
func (r *Registry) AdoptPushed(id uint32, method string) *Stream {
	s := &Stream{ID: id, State: StateHalfClosedLocal, Method: method}
	r.streams[id] = s
	return s
}

// Get looks up a stream by ID.
func (r *Registry) Get(id uint32) (*Stream, bool) {
	s, ok := r.streams[id]
	return s, ok
}

// Transition applies a state transition, ignoring no-op transitions out of
// a terminal state (closed/reset streams never reopen, per RFC 7540
// §5.1).
func (r *Registry) Transition(id uint32, to State) {
	s, ok := r.streams[id]
	if !ok {
		return
	}
	if s.State == StateClosed || s.State == StateReset {
		return
	}
	s.State = to
	if (to == StateClosed || to == StateReset) && id == r.http1Current {
		r.http1Current = 0
	}
}

// Delete removes a stream from the registry entirely, e.g. after its
// terminal Handler callback has fired and no further bookkeeping is
// needed.
func (r *Registry) Delete(id uint32) {
	delete(r.streams, id)
	if id == r.http1Current {
		r.http1Current = 0
	}
}

// AllOpenIDs returns the IDs of every stream not yet closed or reset, used
// when fanning out a connection-level failure (GOAWAY, transport error) to
// every in-flight stream (spec.md §4.10).
func (r *Registry) AllOpenIDs() []uint32 {
	var ids []uint32
	for id, s := range r.streams {
		if s.State != StateClosed && s.State != StateReset {
			ids = append(ids, id)
		}
	}
	return ids
}

// Count returns the total number of tracked streams (open or not yet
// garbage-collected).
func (r *Registry) Count() int { return len(r.streams) }
