package conn

// Handler is the event-oriented response contract the engine drives per
// stream, in the fixed order spec.md §4.8 requires:
//
//	exactly one of Ok/Error
//	Header, once per response header
//	if a body is expected: StartResponseBody, zero or more
//	ResponseBodyContent, EndResponseBody
//	zero or more trailing Header calls (chunked/HTTP2 trailers)
//	exactly one terminal call: Close on success, Failed on failure
//
// PushPromise may additionally be delivered on HTTP/2 connections, and is
// rejected by default (see Options.AcceptPush).
//
// Implementations must not block: they run on the connection's reactor
// goroutine and a slow handler stalls every other stream on the connection.
type Handler interface {
	// Ok is called once the response status line/:status is known and
	// falls in the success/redirection range handling accepts, i.e. the
	// status code is not itself being treated as a failure condition.
	Ok(resp *Response)

	// Error is called instead of Ok when the response status indicates
	// an application-level error the caller must still read (4xx/5xx).
	// This is not a transport failure: body and headers still arrive.
	Error(resp *Response)

	// Header delivers one response header. Called after Ok/Error for
	// the main header block, and again after EndResponseBody for
	// chunked/HTTP2 trailers.
	Header(name, value string)

	// StartResponseBody is called once, only if a body is expected
	// (i.e. not HEAD, not 204/304/1xx, and not a zero-length
	// Content-Length body that completes immediately after headers).
	StartResponseBody()

	// ResponseBodyContent delivers one chunk of body bytes. The slice
	// is only valid for the duration of the call.
	ResponseBodyContent(p []byte)

	// EndResponseBody is called once after the last body chunk.
	EndResponseBody()

	// PushPromise is delivered on HTTP/2 connections when the peer
	// offers a pushed resource. The default Connection behaviour never
	// calls this (pushes are refused at the protocol level before a
	// handler would see them) unless push is explicitly enabled.
	PushPromise(promise *PushPromise)

	// Close is the terminal success callback: the stream completed
	// normally. No further callbacks follow for this stream.
	Close()

	// Failed is the terminal failure callback. No further callbacks
	// follow for this stream.
	Failed(err error)
}

// PushPromise describes a server-initiated HTTP/2 stream offered via
// PUSH_PROMISE.
type PushPromise struct {
	PromisedStreamID uint32
	Method           string
	Path             string
	Authority        string
	Scheme           string
	Headers          [][2]string
}

// StatusFamily classifies a response status code.
type StatusFamily int

const (
	StatusFamilyUnknown StatusFamily = iota
	StatusFamilyInformational
	StatusFamilySuccess
	StatusFamilyRedirection
	StatusFamilyClientError
	StatusFamilyServerError
)

func familyOf(code int) StatusFamily {
	switch {
	case code >= 100 && code < 200:
		return StatusFamilyInformational
	case code >= 200 && code < 300:
		return StatusFamilySuccess
	case code >= 300 && code < 400:
		return StatusFamilyRedirection
	case code >= 400 && code < 500:
		return StatusFamilyClientError
	case code >= 500 && code < 600:
		return StatusFamilyServerError
	default:
		return StatusFamilyUnknown
	}
}

// Response is delivered to the handler once the status line/:status is
// known. It carries status and connection metadata only and is not updated
// afterwards: response headers are delivered individually via
// Handler.Header and are not stored on this value or anywhere else in the
// Connection.
type Response struct {
	StatusCode  int
	Family      StatusFamily
	HTTPVersion string

	// Conn carries transport-level facts about the underlying connection
	// (SPEC_FULL's connection-metadata supplement), populated by Connection
	// from its Endpoint if the Endpoint implements MetadataEndpoint.
	Conn ConnMetadata
}

// NewResponse constructs a Response for the given status code and
// negotiated HTTP version string ("HTTP/1.0", "HTTP/1.1", "HTTP/2.0").
func NewResponse(statusCode int, httpVersion string) *Response {
	return &Response{
		StatusCode:  statusCode,
		Family:      familyOf(statusCode),
		HTTPVersion: httpVersion,
	}
}

// ConnMetadata carries transport-level facts a concrete endpoint.Endpoint
// may be able to report: the negotiated ALPN protocol, TLS parameters, and
// local/remote addressing. The teacher's client.Response and http2.Response
// both carry this; here the connection supervisor asks its Endpoint for it
// (via MetadataEndpoint) each time it builds a Response.
type ConnMetadata struct {
	LocalAddr          string
	RemoteAddr         string
	ConnectedIP        string
	ConnectedPort      int
	NegotiatedProtocol string
	TLS                bool
	TLSVersion         string
	TLSCipherSuite     string
	TLSServerName      string
}

// MetadataEndpoint is an optional capability an endpoint.Endpoint
// implementation may provide; netendpoint.Endpoint does. Connection type-
// asserts for it rather than depending on any concrete transport package.
type MetadataEndpoint interface {
	ConnMetadata() ConnMetadata
}
