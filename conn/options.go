package conn

import (
	"crypto/tls"
	"time"

	"github.com/WhileEndless/go-rawhttp/v2/internal/auth"
)

// Options configures a Connection. It narrows
// github.com/WhileEndless/go-rawhttp's client.Options (proxy/pooling/body-
// disk-spill fields removed; those concerns don't apply to a reactor-driven
// multiplexing engine) and folds in its http2.Options alongside the
// authentication and HTTP/2 flow-control surface spec.md §6 enumerates.
type Options struct {
	// Host is used for the Host header / :authority pseudo-header when
	// the caller does not set one explicitly.
	Host string

	// SNI overrides the TLS Server Name Indication value. Empty uses
	// Host. DisableSNI takes precedence over both.
	SNI        string
	DisableSNI bool

	// InsecureTLS skips certificate verification. Matches the teacher's
	// InsecureTLS override semantics: it always wins over TLSConfig's own
	// InsecureSkipVerify when both are set.
	InsecureTLS bool

	// TLSConfig, if non-nil, is used as the base TLS configuration;
	// ServerName/NextProtos/InsecureSkipVerify may still be adjusted per
	// SNI/DisableSNI/InsecureTLS above.
	TLSConfig *tls.Config

	// ClientCertFile/ClientKeyFile configure mTLS (PEM paths), mirroring
	// the teacher's pkg/http2/transport.go loadClientCertificate.
	ClientCertFile string
	ClientKeyFile  string

	// ConnTimeout bounds the TCP dial and TLS handshake.
	ConnTimeout time.Duration

	// ReadTimeout/WriteTimeout are carried on Options but neither Dial nor
	// Connection reads them: no read or write timeout is applied.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Protocol selects how the connection negotiates version: "auto"
	// (ALPN over TLS, h2c upgrade attempt over cleartext), "http/1.1"
	// (never attempt HTTP/2), or "h2" (go straight to the HTTP/2 preface,
	// for prior-knowledge cleartext HTTP/2).
	Protocol string

	// HTTP2 carries the client's own advertised SETTINGS plus the h2c
	// upgrade toggle.
	HTTP2 HTTP2Options

	// Credential configures the authentication coordinator (C9). The
	// zero value disables authentication.
	Credential auth.Credential

	// AcceptPush enables HTTP/2 server push; when false (the default),
	// every PUSH_PROMISE is rejected with RST_STREAM(REFUSED_STREAM)
	// before a Handler ever sees it (spec.md §4.4 Non-goals-adjacent).
	AcceptPush bool

	// MaxConcurrentStreams caps simultaneously open HTTP/2 streams this
	// client will initiate, independent of what the peer advertises (the
	// effective cap is the lower of the two).
	MaxConcurrentStreams uint32

	// MaxAuthRetries bounds how many times a single request may be
	// resubmitted in response to a 401/407 challenge. A Bearer/OAuth
	// invalid_token refresh-and-retry may repeat up to this many times; a
	// Digest challenge is answered at most once per request, since the
	// credential does not change between attempts. A non-negative integer;
	// 0 disables auth retry entirely.
	MaxAuthRetries int

	// Logger receives diagnostic events; a no-op logger is used if nil.
	Logger Logger
}

// HTTP2Options mirrors the teacher's pkg/http2.Options fields this engine
// still needs once reshaped around SETTINGS bookkeeping instead of a
// one-shot Do call.
type HTTP2Options struct {
	// AllowH2C enables the cleartext h2c upgrade dance (RFC 7540 §3.2)
	// for a "http" scheme connection when Protocol is "auto" ("h2" starts
	// with the HTTP/2 preface and never offers the upgrade).
	AllowH2C bool

	// HeaderTableSize is this client's SETTINGS_HEADER_TABLE_SIZE.
	HeaderTableSize uint32

	// InitialWindowSize is this client's SETTINGS_INITIAL_WINDOW_SIZE,
	// applied to every stream it opens.
	InitialWindowSize uint32

	// MaxFrameSize is this client's SETTINGS_MAX_FRAME_SIZE.
	MaxFrameSize uint32

	// Debug enables verbose frame-level logging via Options.Logger,
	// generalizing the teacher's single HTTP2Settings.Debug toggle into
	// per-category hooks so a caller can trace e.g. only SETTINGS
	// exchanges without drowning in DATA frame noise.
	Debug DebugOptions
}

// DebugOptions selects which categories of HTTP/2 frame activity are
// logged at Debugf level on Options.Logger.
type DebugOptions struct {
	LogFrames   bool // every frame type/stream ID as it is sent/received
	LogSettings bool // SETTINGS frames, including negotiated values
	LogHeaders  bool // HEADERS/PUSH_PROMISE/CONTINUATION, decoded fields
	LogData     bool // DATA frames, length and flow-control bookkeeping
}

// DefaultOptions returns sensible defaults, matching the teacher's
// DefaultOptions() shape but scoped to this engine's surface.
func DefaultOptions() *Options {
	return &Options{
		Protocol:             "auto",
		ConnTimeout:          10 * time.Second,
		MaxConcurrentStreams: 100,
		MaxAuthRetries:       3,
		HTTP2: HTTP2Options{
			AllowH2C:          true,
			HeaderTableSize:   4096,
			InitialWindowSize: 65535,
			MaxFrameSize:      16384,
		},
	}
}
