// Package rawhttp provides an asynchronous, reactor-driven client engine
// for HTTP/1.1 and HTTP/2 (including h2c cleartext upgrade), with
// event-oriented response dispatch and Basic/Bearer/Digest/OAuth
// authentication. One Connection multiplexes every request issued against
// it; HTTP/1.1 connections process one request at a time, HTTP/2
// connections process many concurrently.
package rawhttp

import (
	"context"
	"time"

	"github.com/WhileEndless/go-rawhttp/v2/conn"
	"github.com/WhileEndless/go-rawhttp/v2/endpoint"
	"github.com/WhileEndless/go-rawhttp/v2/internal/auth"
	"github.com/WhileEndless/go-rawhttp/v2/internal/errs"
	"github.com/WhileEndless/go-rawhttp/v2/netendpoint"
)

// Version is the current version of this library.
const Version = "1.0.0"

// Re-export key types so callers need only import this root package for
// everyday use.
type (
	// Options controls connection-level behavior: TLS/SNI, timeouts,
	// protocol selection, HTTP/2 SETTINGS, and authentication.
	Options = conn.Options

	// HTTP2Options configures HTTP/2-specific negotiation.
	HTTP2Options = conn.HTTP2Options

	// Handler receives response events for one request, in the fixed
	// order documented on conn.Handler.
	Handler = conn.Handler

	// Response carries a decoded status line/:status.
	Response = conn.Response

	// PushPromise describes a server-initiated HTTP/2 stream offer.
	PushPromise = conn.PushPromise

	// Connection is the per-connection protocol engine.
	Connection = conn.Connection

	// Header is one request header.
	Header = conn.Header

	// Logger receives diagnostic events.
	Logger = conn.Logger

	// Credential configures authentication (Basic/Bearer/Digest/OAuth).
	Credential = auth.Credential

	// RefreshFunc obtains a fresh access token for a Bearer/OAuth
	// credential once a challenge reports it invalid or expired.
	RefreshFunc = auth.RefreshFunc

	// Error is a structured, categorized error.
	Error = errs.Error
)

// Re-export authentication credential kinds.
const (
	CredentialNone   = auth.KindNone
	CredentialBasic  = auth.KindBasic
	CredentialBearer = auth.KindBearer
	CredentialDigest = auth.KindDigest
	CredentialOAuth  = auth.KindOAuth
)

// Re-export error type constants.
const (
	ErrorTypeDNS        = errs.ErrorTypeDNS
	ErrorTypeConnection = errs.ErrorTypeConnection
	ErrorTypeTLS        = errs.ErrorTypeTLS
	ErrorTypeTimeout    = errs.ErrorTypeTimeout
	ErrorTypeProtocol   = errs.ErrorTypeProtocol
	ErrorTypeIO         = errs.ErrorTypeIO
	ErrorTypeValidation = errs.ErrorTypeValidation
	ErrorTypeStream     = errs.ErrorTypeStream
	ErrorTypeAuth       = errs.ErrorTypeAuth
	ErrorTypeCancelled  = errs.ErrorTypeCancelled
	ErrorTypeShutdown   = errs.ErrorTypeShutdown
)

// DefaultOptions returns sensible defaults: auto protocol negotiation
// (ALPN over TLS, h2c upgrade attempt over cleartext), a 10s connect
// timeout, and HTTP/2 push disabled.
func DefaultOptions() *Options { return conn.DefaultOptions() }

// BasicCredential builds a proactive Basic auth credential (RFC 7617).
func BasicCredential(username, password string) Credential {
	return Credential{Kind: auth.KindBasic, Username: username, Password: password}
}

// BearerCredential builds a proactive Bearer token credential (RFC 6750)
// with no known expiry and no refresh capability: a 401 challenging it as
// invalid_token/expired simply surfaces as a failure. Use
// BearerCredentialWithRefresh to enable the challenge-driven retry.
func BearerCredential(token string) Credential {
	return Credential{Kind: auth.KindBearer, Token: token}
}

// BearerCredentialWithRefresh builds a Bearer credential that withholds its
// Authorization header once expiry has passed, and invokes refresh to
// obtain a new token when a challenge reports it invalid_token or expired
// (spec.md §4.9). A zero expiry means the token's lifetime is unknown;
// ProactiveHeader then always attaches it.
func BearerCredentialWithRefresh(token string, expiry time.Time, refresh RefreshFunc) Credential {
	return Credential{Kind: auth.KindBearer, Token: token, Expiry: expiry, Refresh: refresh}
}

// DigestCredential builds a challenge-based Digest credential (RFC 7616).
func DigestCredential(username, password string) Credential {
	return Credential{Kind: auth.KindDigest, Username: username, Password: password}
}

// OAuthCredential builds a proactive OAuth 2.0 bearer credential (RFC 6749),
// attached the same way as Bearer but carrying the refresh-token/client/
// endpoint/scope fields a RefreshFunc needs to hit the token endpoint.
// expiry may be the zero value if unknown.
func OAuthCredential(token string, expiry time.Time, refreshToken, clientID, tokenEndpoint, scope string, refresh RefreshFunc) Credential {
	return Credential{
		Kind:          auth.KindOAuth,
		Token:         token,
		Expiry:        expiry,
		RefreshToken:  refreshToken,
		ClientID:      clientID,
		TokenEndpoint: tokenEndpoint,
		Scope:         scope,
		Refresh:       refresh,
	}
}

// Dial connects to host:port and returns a ready-to-use Connection. scheme
// is "http" or "https"; for "https" the connection offers ALPN for both
// "h2" and "http/1.1" unless opts.Protocol pins one explicitly.
func Dial(ctx context.Context, scheme, host string, port int, opts *Options) (*Connection, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	dialOpts := netendpoint.DialOptions{
		ConnTimeout:    opts.ConnTimeout,
		SNI:            opts.SNI,
		DisableSNI:     opts.DisableSNI,
		InsecureTLS:    opts.InsecureTLS,
		TLSConfig:      opts.TLSConfig,
		ClientCertFile: opts.ClientCertFile,
		ClientKeyFile:  opts.ClientKeyFile,
	}
	if scheme == "https" {
		switch opts.Protocol {
		case "http/1.1":
			dialOpts.ALPNProtocols = []string{"http/1.1"}
		case "h2":
			dialOpts.ALPNProtocols = []string{"h2"}
		default:
			dialOpts.ALPNProtocols = []string{"h2", "http/1.1"}
		}
	}

	ep, _, err := netendpoint.Dial(ctx, host, port, dialOpts)
	if err != nil {
		return nil, err
	}

	if opts.Host == "" {
		opts.Host = host
	}
	c := conn.NewConnection(asEndpoint(ep), opts)
	ep.Start(c)
	return c, nil
}

// asEndpoint exists only to make the dependency on endpoint.Endpoint
// explicit at the call site above; *netendpoint.Endpoint already satisfies
// it structurally.
func asEndpoint(ep *netendpoint.Endpoint) endpoint.Endpoint { return ep }
