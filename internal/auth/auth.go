// Package auth implements the authentication coordinator (spec.md C9):
// proactive attachment of Basic/Bearer/OAuth credentials, and
// challenge-driven Digest retry on a 401/407. Basic's "base64(user:pass)"
// encoding follows the same construction as
// github.com/WhileEndless/go-rawhttp's pkg/transport.connectToProxy, which
// is the only authentication logic present in the teacher; Digest itself
// has no counterpart in the teacher or the rest of the example pack (grep
// across _examples/ turns up no RFC 7616 implementation), so it is built
// directly against RFC 7616 using the standard library hashes named there
// (see DESIGN.md).
package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// Kind identifies a credential's scheme.
type Kind int

const (
	KindNone Kind = iota
	KindBasic
	KindBearer
	KindDigest
	KindOAuth
)

// RefreshFunc obtains a fresh access token for a Bearer/OAuth credential,
// e.g. by hitting an OAuth 2.0 token endpoint out-of-band with the
// credential's RefreshToken/ClientID/TokenEndpoint/Scope. The engine itself
// never dials the token endpoint; this closure is supplied by the caller
// and invoked only when a challenge reports invalid_token/expired
// (spec.md §4.9).
type RefreshFunc func() (token string, expiry time.Time, err error)

// Credential is the tagged union of supported authentication schemes
// (spec.md §3, §4.9).
type Credential struct {
	Kind Kind

	// Basic
	Username string
	Password string

	// Bearer / OAuth: both attach as "Authorization: Bearer <token>"; the
	// distinction spec.md draws is purely about how the token was
	// obtained (OAuth 2.0 token endpoint vs. caller-supplied), not how it
	// is attached. Expiry, if set, makes ProactiveHeader withhold the
	// header once the token has expired rather than sending it and
	// waiting on a challenge.
	Token  string
	Expiry time.Time

	// OAuth-specific descriptive fields (spec.md §6: "OAuth(access,
	// refresh,client,endpoint[,scope])"), carried through for a
	// caller-supplied Refresh closure to use; the engine never reads them
	// itself beyond passing them along on the Credential value.
	RefreshToken  string
	ClientID      string
	TokenEndpoint string
	Scope         string

	// Refresh is invoked when a Bearer/OAuth challenge indicates
	// invalid_token or expired (RFC 6750 §3) and the request has not
	// already exhausted its retry budget. A nil Refresh means such a
	// challenge simply surfaces as a failure.
	Refresh RefreshFunc
}

// IsProactive reports whether the credential is attached to every request
// up front rather than waiting for a challenge (spec.md §4.9: Basic,
// Bearer and OAuth are proactive; Digest is challenge-based only).
func (c Credential) IsProactive() bool {
	return c.Kind == KindBasic || c.Kind == KindBearer || c.Kind == KindOAuth
}

// tokenExpired reports whether a Bearer/OAuth token's Expiry has passed.
// A zero Expiry means "no expiry known", i.e. never expired.
func (c Credential) tokenExpired() bool {
	return !c.Expiry.IsZero() && !time.Now().Before(c.Expiry)
}

// ProactiveHeader renders the Authorization header value for a proactive
// credential. It returns ok=false for Digest, which has no proactive form,
// and for a Bearer/OAuth credential whose token is empty or has expired
// (spec.md §4.9: "apply only if a valid token is available") — the request
// then goes out unauthenticated and relies on the challenge-driven refresh
// path instead.
func (c Credential) ProactiveHeader() (value string, ok bool) {
	switch c.Kind {
	case KindBasic:
		enc := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
		return "Basic " + enc, true
	case KindBearer, KindOAuth:
		if c.Token == "" || c.tokenExpired() {
			return "", false
		}
		return "Bearer " + c.Token, true
	default:
		return "", false
	}
}

// IsRefreshableChallenge reports whether ch is a Bearer challenge signaling
// an expired or invalid token (RFC 6750 §3: error="invalid_token"), the
// trigger for a Bearer/OAuth refresh-and-retry.
func IsRefreshableChallenge(ch Challenge) bool {
	if !strings.EqualFold(ch.Scheme, "Bearer") {
		return false
	}
	switch strings.ToLower(ch.Params["error"]) {
	case "invalid_token", "expired":
		return true
	default:
		return false
	}
}

// Challenge is a parsed WWW-Authenticate/Proxy-Authenticate challenge
// (RFC 7235 §4.1/§4.3).
type Challenge struct {
	Scheme string // "Digest", "Basic", ...
	Params map[string]string
}

// ParseChallenges splits a (possibly multi-valued) WWW-Authenticate header
// into its per-scheme challenges. Servers may offer several schemes; the
// Connection answers the first one its credential can handle.
func ParseChallenges(headerValues []string) []Challenge {
	var out []Challenge
	for _, raw := range headerValues {
		out = append(out, parseOneChallenge(raw)...)
	}
	return out
}

// parseOneChallenge parses one header value, which may itself concatenate
// multiple challenges separated by a comma followed by a scheme token.
func parseOneChallenge(raw string) []Challenge {
	var out []Challenge
	rest := strings.TrimSpace(raw)
	for rest != "" {
		sp := strings.IndexAny(rest, " \t")
		var scheme, remainder string
		if sp < 0 {
			scheme, remainder = rest, ""
		} else {
			scheme, remainder = rest[:sp], strings.TrimSpace(rest[sp+1:])
		}
		params, tail := parseParams(remainder)
		out = append(out, Challenge{Scheme: scheme, Params: params})
		rest = strings.TrimSpace(tail)
	}
	return out
}

// parseParams consumes "key=value, key=\"value\", ..." pairs until it hits
// a token that starts the next scheme (no '=' before the next comma), and
// returns the unconsumed remainder.
func parseParams(s string) (map[string]string, string) {
	params := map[string]string{}
	for {
		s = strings.TrimSpace(s)
		if s == "" {
			return params, ""
		}
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			return params, s
		}
		if strings.ContainsAny(strings.TrimSpace(s[:eq]), " \t") {
			// a scheme token precedes this parameter: the next challenge starts here
			return params, s
		}
		key := strings.TrimSpace(s[:eq])
		rest := strings.TrimSpace(s[eq+1:])
		var value string
		if strings.HasPrefix(rest, "\"") {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				value = strings.Trim(rest, "\"")
				rest = ""
			} else {
				value = rest[1 : 1+end]
				rest = strings.TrimPrefix(rest[1+end+1:], ",")
			}
		} else {
			comma := strings.IndexByte(rest, ',')
			if comma < 0 {
				value = rest
				rest = ""
			} else {
				value = rest[:comma]
				rest = rest[comma+1:]
			}
		}
		params[strings.ToLower(key)] = strings.TrimSpace(value)
		if strings.TrimSpace(rest) != "" && !strings.Contains(rest, "=") {
			// what remains is the next scheme token, not more params
			return params, rest
		}
		s = rest
	}
}

// Coordinator tracks per-credential retry state and renders Authorization
// headers. Exactly one Coordinator exists per Connection (spec.md §4.9).
type Coordinator struct {
	cred Credential

	digestNC     uint32            // nonce-count, incremented per Digest use
	digestNonces map[string]uint32 // nonce -> nc; allocated empty and not read or written afterwards
}

// NewCoordinator returns a Coordinator for the given credential. A zero
// Credential (KindNone) disables authentication entirely.
func NewCoordinator(cred Credential) *Coordinator {
	return &Coordinator{cred: cred, digestNonces: map[string]uint32{}}
}

// Credential returns the configured credential.
func (c *Coordinator) Credential() Credential { return c.cred }

// HasCredential reports whether any authentication is configured.
func (c *Coordinator) HasCredential() bool { return c.cred.Kind != KindNone }

// BuildDigestAuthorization computes the Authorization header value for a
// Digest challenge (RFC 7616), given the request method and request-target
// the challenge applies to.
func (c *Coordinator) BuildDigestAuthorization(ch Challenge, method, uri string) (string, error) {
	if c.cred.Kind != KindDigest {
		return "", fmt.Errorf("auth: no digest credential configured")
	}
	c.digestNC++
	return buildDigestHeader(c.cred.Username, c.cred.Password, method, uri, ch, c.digestNC)
}

// RefreshBearerToken invokes the configured Credential.Refresh callback and
// updates the coordinator's credential with the new token/expiry in place
// (spec.md §4.9: Bearer/OAuth invalid_token/expired retry). Subsequent
// Credential()/ProactiveHeader() calls see the refreshed token.
func (c *Coordinator) RefreshBearerToken() error {
	if c.cred.Kind != KindBearer && c.cred.Kind != KindOAuth {
		return fmt.Errorf("auth: no bearer/oauth credential configured")
	}
	if c.cred.Refresh == nil {
		return fmt.Errorf("auth: challenge requires a token refresh but no refresh callback is configured")
	}
	token, expiry, err := c.cred.Refresh()
	if err != nil {
		return fmt.Errorf("auth: refreshing token: %w", err)
	}
	c.cred.Token = token
	c.cred.Expiry = expiry
	return nil
}
