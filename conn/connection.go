// Package conn implements the connection supervisor and HTTP version
// negotiator (spec.md C5/C10): the single reactor-driven object that owns
// one endpoint.Endpoint and drives it through HTTP/1.1 parsing, the h2c
// upgrade dance, or HTTP/2 framing, fanning out events to per-stream
// Handlers in the fixed order internal/stream.Dispatcher enforces.
//
// It generalizes github.com/WhileEndless/go-rawhttp's pkg/client.Client
// (the blocking, one-response-at-a-time HTTP/1.1 path) and pkg/http2.Client
// (the blocking HTTP/2 path) into one cooperative state machine that never
// blocks: every step runs to completion inside an endpoint.Callbacks
// method or a ScheduleLater task, exactly as spec.md §5 requires.
package conn

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/WhileEndless/go-rawhttp/v2/endpoint"
	"github.com/WhileEndless/go-rawhttp/v2/internal/auth"
	"github.com/WhileEndless/go-rawhttp/v2/internal/errs"
	"github.com/WhileEndless/go-rawhttp/v2/internal/h1"
	"github.com/WhileEndless/go-rawhttp/v2/internal/h2"
	"github.com/WhileEndless/go-rawhttp/v2/internal/stream"
	"golang.org/x/net/http2"
)

// ParseState is the connection-wide protocol state (spec.md §3 ParseState).
type ParseState int

const (
	StateIdle ParseState = iota
	StateHTTP1
	StateH2CUpgradePending
	StateHTTP2
)

// Header is one request header supplied by the caller.
type Header struct{ Name, Value string }

// request captures everything needed to (re)send a request, kept around
// so a single Digest retry can be issued without the caller resubmitting.
type request struct {
	method     string
	path       string
	authority  string
	scheme     string
	headers    []Header
	body       []byte
	handler    Handler
	retryCount    int  // number of auth retries already consumed (spec.md §6 Options.MaxAuthRetries)
	awaitingRetry bool // a challenge was matched; body is being drained before resubmission

	// awaitingInformational is set while a 1xx response (not itself
	// terminal) has been seen and its bodyless OnBodyEnd must be swallowed
	// rather than treated as the end of the stream; the real response still
	// follows on the same connection.
	awaitingInformational bool
	streamID      uint32
	dispatcher    *stream.Dispatcher
	bodyStarted   bool
	pendingBody   []byte // HTTP/2 only: body bytes not yet sent, held back by flow control
}

// Connection supervises one endpoint.Endpoint for its entire lifetime.
// Exactly one Connection exists per TCP/TLS connection. Do marshals the
// submission onto the endpoint's reactor goroutine via ScheduleLater and is
// safe to call from any goroutine; Close, Stats and the endpoint.Callbacks
// methods run on the calling goroutine and touch connection state directly.
type Connection struct {
	ep   endpoint.Endpoint
	opts *Options
	log  Logger

	state ParseState
	h1p   *h1.Parser
	h2e   *h2.Engine

	streams     *stream.Registry
	dispatchers map[uint32]*stream.Dispatcher
	requests    map[uint32]*request
	authCo      *auth.Coordinator

	peerSettings h2.Settings
	ownSettings  h2.Settings
	connSendWin  *h2.FlowWindow

	pendingUpgrade *request // the request used to attempt h2c, if any

	// goAway records a received GOAWAY: streams above lastStreamID are
	// failed immediately, but the transport itself stays open until every
	// stream at or below lastStreamID reaches a terminal state
	// (spec.md scenario #5), and no further streams may be opened.
	goAwayReceived     bool
	goAwayLastStreamID uint32

	// bytesSent/bytesReceived/streamsTotal/lastActivity back Stats()
	// (SPEC_FULL's PoolStats-shaped introspection, narrowed to one
	// connection).
	bytesSent     uint64
	bytesReceived uint64
	streamsTotal  uint64
	lastActivity  time.Time

	closedOnce sync.Once
	failedOnce bool
}

// Stats is a point-in-time snapshot of connection activity (SPEC_FULL
// Supplement #5, narrowing the teacher's pkg/transport.PoolStats /
// pkg/http2.ConnectionStats to a single connection).
type Stats struct {
	StreamsActive int
	StreamsTotal  uint64
	BytesSent     uint64
	BytesReceived uint64
	LastActivity  time.Time
}

// Stats returns a snapshot of this connection's activity counters.
func (c *Connection) Stats() Stats {
	return Stats{
		StreamsActive: len(c.streams.AllOpenIDs()),
		StreamsTotal:  c.streamsTotal,
		BytesSent:     c.bytesSent,
		BytesReceived: c.bytesReceived,
		LastActivity:  c.lastActivity,
	}
}

// send writes p via the endpoint, tracking it for Stats(). Used in place of
// a direct c.ep.Send everywhere the connection writes to the wire.
func (c *Connection) send(p []byte) error {
	err := c.ep.Send(p)
	if err == nil {
		c.bytesSent += uint64(len(p))
		c.lastActivity = time.Now()
	}
	return err
}

// NewConnection returns a Connection bound to ep. Call Start once ep is
// ready to begin delivering callbacks (e.g. immediately after
// netendpoint.Endpoint.Start, or synchronously for an in-memory test
// double).
func NewConnection(ep endpoint.Endpoint, opts *Options) *Connection {
	if opts == nil {
		opts = DefaultOptions()
	}
	log := opts.Logger
	if log == nil {
		log = NoopLogger
	}
	return &Connection{
		ep:          ep,
		opts:        opts,
		log:         log,
		state:       StateIdle,
		streams:     stream.NewRegistry(opts.MaxConcurrentStreams),
		dispatchers: map[uint32]*stream.Dispatcher{},
		requests:    map[uint32]*request{},
		authCo:      auth.NewCoordinator(opts.Credential),
		ownSettings: h2.Settings{
			HeaderTableSize:      opts.HTTP2.HeaderTableSize,
			MaxConcurrentStreams: opts.MaxConcurrentStreams,
			InitialWindowSize:    opts.HTTP2.InitialWindowSize,
			MaxFrameSize:         opts.HTTP2.MaxFrameSize,
		},
		connSendWin: h2.NewFlowWindow(h2.DefaultInitialWindowSize),
	}
}

// Do submits a new request. It is safe to call from any goroutine; the
// actual submission runs on the reactor goroutine. handler receives every
// event for this request per the Handler contract. The stream ID is not
// known synchronously (it may be deferred behind an h2c upgrade attempt);
// callers needing to correlate responses should do so via the handler
// instance itself, e.g. a closure capturing per-request state.
func (c *Connection) Do(method, path, authority, scheme string, headers []Header, body []byte, handler Handler) {
	if authority == "" {
		authority = c.opts.Host
	}
	c.ep.ScheduleLater(func() {
		c.submit(&request{
			method:    method,
			path:      path,
			authority: authority,
			scheme:    scheme,
			headers:   headers,
			body:      body,
			handler:   handler,
		})
	})
}

func (c *Connection) submit(req *request) {
	switch c.state {
	case StateHTTP2:
		if c.goAwayReceived {
			c.failStream(0, errs.NewShutdownError("connection is draining after GOAWAY, no new streams accepted"), req.handler)
			return
		}
		c.sendHTTP2Request(req)
	case StateHTTP1:
		c.sendHTTP1Request(req)
	case StateH2CUpgradePending:
		// Only one request may be outstanding while the upgrade settles.
		c.failStream(0, errs.NewProtocolError("request submitted while h2c upgrade is pending", nil), req.handler)
	default:
		c.failStream(0, errs.NewConnectionError("connection not yet established", nil), req.handler)
	}
}

// ---- endpoint.Callbacks ----

// OnConnected implements endpoint.Callbacks.
func (c *Connection) OnConnected() {
	if c.opts.Protocol == "h2" {
		c.beginHTTP2(c.currentOwnSettings())
		return
	}
	c.state = StateHTTP1
	c.h1p = h1.NewParser(c)
}

// OnSecurityEstablished implements endpoint.Callbacks.
func (c *Connection) OnSecurityEstablished(protocol string) {
	if protocol == "h2" {
		c.beginHTTP2(c.currentOwnSettings())
		return
	}
	c.state = StateHTTP1
	c.h1p = h1.NewParser(c)
}

// OnReceive implements endpoint.Callbacks.
func (c *Connection) OnReceive(p []byte) {
	c.bytesReceived += uint64(len(p))
	c.lastActivity = time.Now()
	switch c.state {
	case StateHTTP1, StateH2CUpgradePending:
		c.h1p.Feed(p)
	case StateHTTP2:
		c.h2e.Feed(p)
	}
}

// OnDisconnected implements endpoint.Callbacks.
func (c *Connection) OnDisconnected() {
	c.failAll(errs.NewConnectionError("connection closed", nil))
}

// OnError implements endpoint.Callbacks.
func (c *Connection) OnError(err error) {
	c.failAll(errs.NewIOError("transport", err))
}

// ---- HTTP/2 bootstrap ----

func (c *Connection) beginHTTP2(own h2.Settings) {
	c.state = StateHTTP2
	c.ownSettings = own
	c.h2e = h2.NewEngine(c.send, c, own.HeaderTableSize)
	c.h2e.SetDebug(c.log, h2.DebugFlags{
		Frames:   c.opts.HTTP2.Debug.LogFrames,
		Settings: c.opts.HTTP2.Debug.LogSettings,
		Headers:  c.opts.HTTP2.Debug.LogHeaders,
		Data:     c.opts.HTTP2.Debug.LogData,
	})
	if err := c.h2e.SendPreface(); err != nil {
		c.failAll(errs.NewIOError("write", err))
		return
	}
	if err := c.h2e.SendSettings(own); err != nil {
		c.failAll(errs.NewIOError("write", err))
	}
}

// ---- HTTP/1 request path ----

func (c *Connection) sendHTTP1Request(req *request) {
	s, err := c.streams.ReserveHTTP1Stream(req.method)
	if err != nil {
		c.failStream(0, errs.NewProtocolError(err.Error(), nil), req.handler)
		return
	}
	req.streamID = s.ID
	req.dispatcher = stream.NewDispatcher(s.ID)
	c.dispatchers[s.ID] = req.dispatcher
	c.requests[s.ID] = req
	c.streamsTotal++
	c.h1p.SetHeadRequest(strings.EqualFold(req.method, "HEAD"))

	headers := append([]Header(nil), req.headers...)
	if c.authCo.HasCredential() {
		if cred := c.authCo.Credential(); cred.IsProactive() {
			if v, ok := cred.ProactiveHeader(); ok {
				headers = append(headers, Header{Name: "Authorization", Value: v})
			}
		}
	}

	attemptUpgrade := c.opts.HTTP2.AllowH2C && c.opts.Protocol != "http/1.1" && c.streamsTotal == 1 && req.scheme != "https"
	if attemptUpgrade {
		settingsPayload := h2.EncodeClientSettingsPayload(c.currentOwnSettings())
		headers = append(headers,
			Header{Name: "Connection", Value: "Upgrade, HTTP2-Settings"},
			Header{Name: "Upgrade", Value: "h2c"},
			Header{Name: "HTTP2-Settings", Value: base64.RawURLEncoding.EncodeToString(settingsPayload)},
		)
		c.pendingUpgrade = req
		c.state = StateH2CUpgradePending
	}

	h1headers := make([]h1.Header, len(headers))
	for i, h := range headers {
		h1headers[i] = h1.Header{Name: h.Name, Value: h.Value}
	}
	wireReq := h1.Request{Method: req.method, Path: req.path, Host: req.authority, Headers: h1headers}
	if err := c.send(h1.WriteRequestHead(wireReq)); err != nil {
		c.failStream(s.ID, errs.NewIOError("write", err), req.handler)
		return
	}
	if len(req.body) > 0 {
		if err := c.send(req.body); err != nil {
			c.failStream(s.ID, errs.NewIOError("write", err), req.handler)
		}
	}
}

func (c *Connection) currentOwnSettings() h2.Settings {
	return h2.Settings{
		HeaderTableSize:      c.opts.HTTP2.HeaderTableSize,
		EnablePush:           false,
		MaxConcurrentStreams: c.opts.MaxConcurrentStreams,
		InitialWindowSize:    c.opts.HTTP2.InitialWindowSize,
		MaxFrameSize:         c.opts.HTTP2.MaxFrameSize,
	}
}

// ---- h1.Sink ----

// OnResponseHead implements h1.Sink.
func (c *Connection) OnResponseHead(httpVersion string, code int, reason string, headers []h1.Header) error {
	req, ok := c.requests[1]
	if !ok {
		return fmt.Errorf("conn: response with no in-flight HTTP/1 request")
	}

	if c.state == StateH2CUpgradePending {
		if code == 101 && hasUpgradeH2C(headers) {
			return c.acceptH2CUpgrade(req)
		}
		if code == 101 {
			// A 101 to something other than h2c: spec.md §4.5 case 3 has
			// no handler hook for an arbitrary protocol switch, so log and
			// continue reading the response as plain HTTP/1.1.
			c.log.Warnf("conn: ignoring 101 response with non-h2c Upgrade header")
		}
		// Server ignored (or doesn't support) the upgrade offer; continue
		// as plain HTTP/1.1 (RFC 7540 §3.2).
		c.state = StateHTTP1
		c.pendingUpgrade = nil
	}

	if familyOf(code) == StatusFamilyInformational {
		// 1xx is never the final response (a rejected-upgrade 101 included):
		// it carries no body and the real status line still follows on the
		// same stream, so it must not reach the handler or end the stream.
		req.awaitingInformational = true
		return nil
	}

	if code == 401 || code == 407 {
		if c.maybeRetryAuth(req, code, headers) {
			return nil
		}
	}

	d := req.dispatcher
	if err := d.Head(); err != nil {
		return err
	}
	resp := NewResponse(code, httpVersion)
	resp.Conn = c.connMetadata()
	c.dispatchHead(req.handler, resp)
	for _, h := range headers {
		if err := d.Header(); err != nil {
			return err
		}
		req.handler.Header(h.Name, h.Value)
	}
	return nil
}

// connMetadata returns transport metadata if the bound Endpoint reports it.
func (c *Connection) connMetadata() ConnMetadata {
	if me, ok := c.ep.(MetadataEndpoint); ok {
		return me.ConnMetadata()
	}
	return ConnMetadata{}
}

// hasUpgradeH2C reports whether headers include an "Upgrade: h2c" field
// (RFC 7540 §3.2 requires the 101 response to echo it before a client may
// treat cleartext HTTP/2 as accepted).
func hasUpgradeH2C(headers []h1.Header) bool {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Upgrade") && strings.EqualFold(strings.TrimSpace(h.Value), "h2c") {
			return true
		}
	}
	return false
}

func (c *Connection) dispatchHead(handler Handler, resp *Response) {
	if resp.Family == StatusFamilyClientError || resp.Family == StatusFamilyServerError {
		handler.Error(resp)
	} else {
		handler.Ok(resp)
	}
}

// maybeRetryAuth inspects a 401/407 for a challenge this connection's
// credential can answer — a Digest challenge, or a Bearer/OAuth
// invalid_token/expired challenge with a refresh callback configured — and,
// if the request has not exhausted Options.MaxAuthRetries, marks it for
// resubmission once its (to-be-discarded) body finishes draining. The
// actual resubmission is deferred to Connection.finishRetry, invoked from
// OnBodyEnd via ScheduleLater: mutating parser state (Reset) from inside a
// callback the parser's own Feed loop is still unwinding would corrupt its
// in-progress step.
func (c *Connection) maybeRetryAuth(req *request, code int, headers []h1.Header) bool {
	headerName := "Www-Authenticate"
	if code == 407 {
		headerName = "Proxy-Authenticate"
	}
	var values []string
	for _, h := range headers {
		if strings.EqualFold(h.Name, headerName) {
			values = append(values, h.Value)
		}
	}
	if len(values) == 0 {
		return false
	}
	value, ok := c.selectAuthRetryHeader(req, auth.ParseChallenges(values))
	if !ok {
		return false
	}
	req.retryCount++
	req.awaitingRetry = true
	req.headers = append(req.headers, Header{Name: "Authorization", Value: value})
	return true
}

// selectAuthRetryHeader renders a fresh Authorization header value for one
// of challenges, if the credential can answer one and req has retry budget
// remaining (spec.md §6 Options.MaxAuthRetries). Shared by the HTTP/1 and
// HTTP/2 request paths.
func (c *Connection) selectAuthRetryHeader(req *request, challenges []auth.Challenge) (string, bool) {
	if req.retryCount >= c.opts.MaxAuthRetries {
		return "", false
	}
	switch c.authCo.Credential().Kind {
	case auth.KindDigest:
		// A Digest credential does not change between attempts, so a
		// second challenge for the same request is not answered again.
		if req.retryCount > 0 {
			return "", false
		}
		for _, ch := range challenges {
			if !strings.EqualFold(ch.Scheme, "Digest") {
				continue
			}
			if value, err := c.authCo.BuildDigestAuthorization(ch, req.method, req.path); err == nil {
				return value, true
			}
		}
	case auth.KindBearer, auth.KindOAuth:
		for _, ch := range challenges {
			if !auth.IsRefreshableChallenge(ch) {
				continue
			}
			if err := c.authCo.RefreshBearerToken(); err != nil {
				c.log.Warnf("conn: bearer/oauth token refresh failed: %v", err)
				continue
			}
			if value, ok := c.authCo.Credential().ProactiveHeader(); ok {
				return value, true
			}
		}
	}
	return "", false
}

// finishRetry performs the resubmission maybeRetryAuth deferred.
func (c *Connection) finishRetry(req *request) {
	delete(c.requests, 1)
	c.streams.ReleaseHTTP1Stream()
	c.h1p.Reset()
	req.awaitingRetry = false
	c.sendHTTP1Request(req)
}

func (c *Connection) acceptH2CUpgrade(req *request) error {
	c.pendingUpgrade = nil
	s := c.streams.ResetAfterUpgrade(req.method)
	req.streamID = s.ID
	c.requests[s.ID] = req
	if s.ID != 1 {
		delete(c.requests, 1)
	}
	c.beginHTTP2(c.currentOwnSettings())
	return nil
}

// OnBodyChunk implements h1.Sink.
func (c *Connection) OnBodyChunk(p []byte) {
	req, ok := c.requests[1]
	if !ok || req.awaitingRetry {
		return
	}
	d := req.dispatcher
	if !req.bodyStarted {
		if err := d.StartBody(); err != nil {
			return
		}
		req.bodyStarted = true
		req.handler.StartResponseBody()
	}
	if err := d.BodyContent(); err != nil {
		return
	}
	req.handler.ResponseBodyContent(p)
}

// OnTrailer implements h1.Sink.
func (c *Connection) OnTrailer(name, value string) {
	req, ok := c.requests[1]
	if !ok || req.awaitingRetry {
		return
	}
	d := req.dispatcher
	if req.bodyStarted && d.EndBody() == nil {
		req.handler.EndResponseBody()
	}
	if err := d.Header(); err != nil {
		return
	}
	req.handler.Header(name, value)
}

// OnBodyEnd implements h1.Sink.
func (c *Connection) OnBodyEnd() {
	req, ok := c.requests[1]
	if !ok {
		return
	}
	if c.state == StateHTTP2 {
		// The 101 that accepted h2c ends HTTP/1 parsing; the request
		// continues as HTTP/2 stream 1 and finishes on that path.
		return
	}
	if req.awaitingInformational {
		// The 1xx we just "completed" carried no body and is not the real
		// response; reset the parser to read the next status line on this
		// same stream instead of treating the request as finished.
		req.awaitingInformational = false
		c.h1p.Reset()
		return
	}
	if req.awaitingRetry {
		c.ep.ScheduleLater(func() { c.finishRetry(req) })
		return
	}
	d := req.dispatcher
	if req.bodyStarted {
		if err := d.EndBody(); err == nil {
			req.handler.EndResponseBody()
		}
	}
	c.finishStream(1, req)
}

func (c *Connection) finishStream(id uint32, req *request) {
	if d, ok := c.dispatchers[id]; ok {
		if d.Terminal() == nil {
			req.handler.Close()
		}
	}
	c.streams.Transition(id, stream.StateClosed)
	c.streams.ReleaseHTTP1Stream()
	delete(c.requests, id)
	delete(c.dispatchers, id)
	if id == 1 {
		c.h1p.Reset()
	}
}

// OnParseError implements h1.Sink.
func (c *Connection) OnParseError(err *errs.Error) {
	if req, ok := c.requests[1]; ok {
		c.failStream(1, err, req.handler)
	}
	c.ep.Close()
}

// ---- HTTP/2 request path ----

func (c *Connection) sendHTTP2Request(req *request) {
	s, err := c.streams.Open(req.method)
	if err != nil {
		c.failStream(0, errs.NewProtocolError(err.Error(), nil), req.handler)
		return
	}
	req.streamID = s.ID
	req.dispatcher = stream.NewDispatcher(s.ID)
	c.dispatchers[s.ID] = req.dispatcher
	c.requests[s.ID] = req
	c.streamsTotal++
	s.SendWindow = int64(c.peerSettings.InitialWindowSize)
	if s.SendWindow == 0 {
		s.SendWindow = h2.DefaultInitialWindowSize
	}

	headers := append([]Header(nil), req.headers...)
	if c.authCo.HasCredential() {
		if cred := c.authCo.Credential(); cred.IsProactive() {
			if v, ok := cred.ProactiveHeader(); ok {
				headers = append(headers, Header{Name: "Authorization", Value: v})
			}
		}
	}
	h2headers := make([]h2.Header, len(headers))
	for i, h := range headers {
		h2headers[i] = h2.Header{Name: h.Name, Value: h.Value}
	}

	endStream := len(req.body) == 0
	if err := c.h2e.SendHeaders(s.ID, req.method, req.scheme, req.authority, req.path, h2headers, endStream); err != nil {
		c.failStream(s.ID, errs.NewIOError("write", err), req.handler)
		return
	}
	c.streams.Transition(s.ID, stream.StateHalfClosedLocal)
	if !endStream {
		req.pendingBody = req.body
		c.flushPendingBody(s.ID, req)
	}
}

// flushPendingBody writes as much of req.pendingBody as the stream's and
// connection's send windows currently allow, deferring (not erroring) the
// remainder when either window lacks credit (spec.md §9's flow-control open
// question resolution). OnWindowUpdate resumes the write once more credit
// arrives.
func (c *Connection) flushPendingBody(streamID uint32, req *request) {
	for len(req.pendingBody) > 0 {
		s, ok := c.streams.Get(streamID)
		if !ok {
			return
		}
		avail := s.SendWindow
		if connAvail := c.connSendWin.Available(); connAvail < avail {
			avail = connAvail
		}
		if avail <= 0 {
			return
		}
		n := int64(len(req.pendingBody))
		if n > avail {
			n = avail
		}
		chunk := req.pendingBody[:n]
		endStream := n == int64(len(req.pendingBody))
		if err := c.h2e.SendData(streamID, chunk, endStream); err != nil {
			c.failStream(streamID, errs.NewIOError("write", err), req.handler)
			return
		}
		s.SendWindow -= n
		c.connSendWin.Consume(n)
		req.pendingBody = req.pendingBody[n:]
	}
}

// ---- h2.Sink ----

// OnSettings implements h2.Sink.
func (c *Connection) OnSettings(s h2.Settings, ack bool) {
	if ack {
		return
	}
	oldInitial := c.peerSettings.InitialWindowSize
	if oldInitial == 0 {
		oldInitial = h2.DefaultInitialWindowSize
	}
	c.peerSettings = s
	if s.HeaderTableSize > 0 {
		c.h2e.SetPeerHeaderTableSize(s.HeaderTableSize)
	}
	if s.MaxConcurrentStreams > 0 {
		limit := s.MaxConcurrentStreams
		if own := c.opts.MaxConcurrentStreams; own > 0 && own < limit {
			limit = own
		}
		c.streams.SetMaxConcurrent(limit)
	}
	if s.InitialWindowSize > 0 {
		// RFC 7540 §6.9.2: the change applies to every open stream's send
		// window, not to the connection-level window.
		delta := int64(s.InitialWindowSize) - int64(oldInitial)
		for id := range c.requests {
			if st, ok := c.streams.Get(id); ok {
				st.SendWindow += delta
			}
		}
		c.resumePendingBodies()
	}
	if err := c.h2e.SendSettingsAck(); err != nil {
		c.log.Warnf("conn: failed to ack settings: %v", err)
	}
}

// OnHeaders implements h2.Sink.
func (c *Connection) OnHeaders(streamID uint32, status string, headers []h2.Header, endStream bool) error {
	req, ok := c.requests[streamID]
	if !ok {
		return nil // frame for a stream we no longer track; ignore
	}
	code, _ := strconv.Atoi(status)

	if code == 401 || code == 407 {
		hv := map[string][]string{}
		for _, h := range headers {
			lower := strings.ToLower(h.Name)
			hv[lower] = append(hv[lower], h.Value)
		}
		key := "www-authenticate"
		if code == 407 {
			key = "proxy-authenticate"
		}
		if values, ok := hv[key]; ok {
			if value, retryOk := c.selectAuthRetryHeader(req, auth.ParseChallenges(values)); retryOk {
				req.retryCount++
				req.headers = append(req.headers, Header{Name: "Authorization", Value: value})
				delete(c.requests, streamID)
				delete(c.dispatchers, streamID)
				c.streams.Transition(streamID, stream.StateClosed)
				c.streams.Delete(streamID)
				c.ep.ScheduleLater(func() { c.sendHTTP2Request(req) })
				return nil
			}
		}
	}

	d := req.dispatcher
	if req.bodyStarted || d.Header() == nil {
		// A HEADERS block after the response head carries trailers.
		if req.bodyStarted && d.EndBody() == nil {
			req.handler.EndResponseBody()
		}
		for _, h := range headers {
			if d.Header() == nil {
				req.handler.Header(h.Name, h.Value)
			}
		}
		if endStream {
			c.endHTTP2Stream(streamID, req)
		}
		return nil
	}
	if err := d.Head(); err != nil {
		return err
	}
	resp := NewResponse(code, "HTTP/2.0")
	resp.Conn = c.connMetadata()
	c.dispatchHead(req.handler, resp)
	for _, h := range headers {
		if err := d.Header(); err != nil {
			return err
		}
		req.handler.Header(h.Name, h.Value)
	}
	if endStream {
		c.endHTTP2Stream(streamID, req)
	}
	return nil
}

// OnData implements h2.Sink.
func (c *Connection) OnData(streamID uint32, data []byte, endStream bool) {
	req, ok := c.requests[streamID]
	if !ok {
		// Unknown or already-closed stream: RST_STREAM(STREAM_CLOSED)
		// before dropping (spec.md §4.3), rather than silently ignoring it.
		if err := c.h2e.SendRSTStream(streamID, http2.ErrCodeStreamClosed); err != nil {
			c.log.Warnf("conn: rst stream for unknown stream %d: %v", streamID, err)
		}
		return
	}
	d := req.dispatcher
	if !req.bodyStarted {
		if err := d.StartBody(); err == nil {
			req.bodyStarted = true
			req.handler.StartResponseBody()
		}
	}
	if len(data) > 0 {
		if err := d.BodyContent(); err == nil {
			req.handler.ResponseBodyContent(data)
		}
		n := uint32(len(data))
		if err := c.h2e.SendWindowUpdate(streamID, n); err != nil {
			c.log.Warnf("conn: window update (stream): %v", err)
		}
		if err := c.h2e.SendWindowUpdate(0, n); err != nil {
			c.log.Warnf("conn: window update (connection): %v", err)
		}
	}
	if endStream {
		c.endHTTP2Stream(streamID, req)
	}
}

func (c *Connection) endHTTP2Stream(streamID uint32, req *request) {
	d := req.dispatcher
	if req.bodyStarted {
		if err := d.EndBody(); err == nil {
			req.handler.EndResponseBody()
		}
	}
	if d.Terminal() == nil {
		req.handler.Close()
	}
	c.streams.Transition(streamID, stream.StateClosed)
	c.streams.Delete(streamID)
	delete(c.requests, streamID)
	delete(c.dispatchers, streamID)
	c.closeIfDrainedAfterGoAway()
}

// OnRSTStream implements h2.Sink.
func (c *Connection) OnRSTStream(streamID uint32, code http2.ErrCode) {
	if req, ok := c.requests[streamID]; ok {
		c.failStream(streamID, errs.NewStreamError(streamID, fmt.Sprintf("stream reset: %s", code), nil), req.handler)
	}
	c.streams.Transition(streamID, stream.StateReset)
	c.streams.Delete(streamID)
	c.closeIfDrainedAfterGoAway()
}

// OnGoAway implements h2.Sink. Per spec.md's graceful-shutdown scenario, the
// connection refuses new streams from here on but leaves the transport open
// until every stream at or below lastStreamID reaches a terminal state;
// streams above it were never seen by the server and fail immediately.
func (c *Connection) OnGoAway(lastStreamID uint32, code http2.ErrCode, debug []byte) {
	c.goAwayReceived = true
	c.goAwayLastStreamID = lastStreamID
	err := errs.NewShutdownError(fmt.Sprintf("server sent GOAWAY, last stream %d, code %s", lastStreamID, code))
	for id, req := range c.requests {
		if id > lastStreamID {
			c.failStream(id, err, req.handler)
		}
	}
	c.closeIfDrainedAfterGoAway()
}

// closeIfDrainedAfterGoAway closes the transport once GOAWAY has been
// received and every stream at or below goAwayLastStreamID has finished;
// streams above that ID are never outstanding here since OnGoAway fails them
// synchronously.
func (c *Connection) closeIfDrainedAfterGoAway() {
	if !c.goAwayReceived {
		return
	}
	for id := range c.requests {
		if id <= c.goAwayLastStreamID {
			return
		}
	}
	c.ep.Close()
}

// OnPing implements h2.Sink.
func (c *Connection) OnPing(ack bool, data [8]byte) {
	if ack {
		return
	}
	if err := c.h2e.SendPing(true, data); err != nil {
		c.log.Warnf("conn: ping ack: %v", err)
	}
}

// OnWindowUpdate implements h2.Sink.
func (c *Connection) OnWindowUpdate(streamID uint32, increment uint32) {
	if streamID == 0 {
		c.connSendWin.Increment(increment)
		c.resumePendingBodies()
		return
	}
	if s, ok := c.streams.Get(streamID); ok {
		s.SendWindow += int64(increment)
	}
	if req, ok := c.requests[streamID]; ok && len(req.pendingBody) > 0 {
		c.flushPendingBody(streamID, req)
	}
}

// resumePendingBodies retries every stream still holding body bytes back
// after the connection-level send window increases.
func (c *Connection) resumePendingBodies() {
	for id, req := range c.requests {
		if len(req.pendingBody) > 0 {
			c.flushPendingBody(id, req)
		}
	}
}

// OnPushPromise implements h2.Sink. Server push is refused by default
// (spec.md §4.4/§4.9): the promised stream is immediately reset and no
// Handler ever observes it unless Options.AcceptPush is set, in which case
// the owning request's handler is notified via PushPromise.
func (c *Connection) OnPushPromise(streamID, promisedID uint32, status string, headers []h2.Header) {
	if !c.opts.AcceptPush {
		if err := c.h2e.SendRSTStream(promisedID, http2.ErrCodeRefusedStream); err != nil {
			c.log.Warnf("conn: refusing push promise: %v", err)
		}
		return
	}
	req, ok := c.requests[streamID]
	if !ok {
		return
	}
	promise := &PushPromise{PromisedStreamID: promisedID}
	for _, h := range headers {
		switch h.Name {
		case ":method":
			promise.Method = h.Value
		case ":path":
			promise.Path = h.Value
		case ":authority":
			promise.Authority = h.Value
		case ":scheme":
			promise.Scheme = h.Value
		default:
			promise.Headers = append(promise.Headers, [2]string{h.Name, h.Value})
		}
	}

	// Register the promised stream so its HEADERS/DATA arrive on a tracked
	// stream rather than being dropped by OnHeaders'/OnData's not-found
	// branch (spec.md §4.3). Its events are fanned out to the initiating
	// request's handler, since Handler has no separate per-pushed-stream
	// instance concept.
	c.streams.AdoptPushed(promisedID, promise.Method)
	pushReq := &request{
		method:     promise.Method,
		path:       promise.Path,
		authority:  promise.Authority,
		scheme:     promise.Scheme,
		handler:    req.handler,
		streamID:   promisedID,
		dispatcher: stream.NewDispatcher(promisedID),
	}
	c.dispatchers[promisedID] = pushReq.dispatcher
	c.requests[promisedID] = pushReq

	req.handler.PushPromise(promise)
}

// OnFrameError implements h2.Sink.
func (c *Connection) OnFrameError(err error) {
	c.failAll(errs.NewProtocolError("HTTP/2 framing error", err))
	c.ep.Close()
}

// ---- shared teardown ----

func (c *Connection) failStream(id uint32, err error, handler Handler) {
	if handler == nil {
		return
	}
	d, ok := c.dispatchers[id]
	if !ok {
		d = stream.NewDispatcher(id)
	}
	if d.Terminal() == nil {
		handler.Failed(err)
	}
	delete(c.dispatchers, id)
	delete(c.requests, id)
}

// failAll fans out a connection-level failure to every stream that has not
// yet received its terminal callback (spec.md §4.10: exactly-once fan-out
// on disconnect).
func (c *Connection) failAll(err error) {
	if c.failedOnce {
		return
	}
	c.failedOnce = true
	for id, req := range c.requests {
		c.failStream(id, err, req.handler)
	}
}

// Close closes the underlying endpoint, failing any in-flight streams.
func (c *Connection) Close() {
	c.closedOnce.Do(func() {
		c.failAll(errs.NewCancelledError(0))
		c.ep.Close()
	})
}
