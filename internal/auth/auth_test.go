package auth

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"
)

func TestProactiveHeaderBasic(t *testing.T) {
	c := Credential{Kind: KindBasic, Username: "alice", Password: "secret"}
	value, ok := c.ProactiveHeader()
	if !ok {
		t.Fatalf("ProactiveHeader() ok = false, want true")
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:secret"))
	if value != want {
		t.Fatalf("ProactiveHeader() = %q, want %q", value, want)
	}
}

func TestProactiveHeaderBearerAndOAuth(t *testing.T) {
	for _, kind := range []Kind{KindBearer, KindOAuth} {
		c := Credential{Kind: kind, Token: "tok123"}
		value, ok := c.ProactiveHeader()
		if !ok || value != "Bearer tok123" {
			t.Fatalf("ProactiveHeader() = %q, %v, want %q, true", value, ok, "Bearer tok123")
		}
	}
}

func TestProactiveHeaderBearerExpiredTokenWithheld(t *testing.T) {
	c := Credential{Kind: KindBearer, Token: "stale-token", Expiry: time.Now().Add(-time.Minute)}
	if _, ok := c.ProactiveHeader(); ok {
		t.Fatalf("ProactiveHeader() ok = true for an expired token, want false")
	}
}

func TestProactiveHeaderBearerUnexpiredTokenAttached(t *testing.T) {
	c := Credential{Kind: KindBearer, Token: "fresh-token", Expiry: time.Now().Add(time.Hour)}
	value, ok := c.ProactiveHeader()
	if !ok || value != "Bearer fresh-token" {
		t.Fatalf("ProactiveHeader() = %q, %v, want %q, true", value, ok, "Bearer fresh-token")
	}
}

func TestIsRefreshableChallenge(t *testing.T) {
	if !IsRefreshableChallenge(Challenge{Scheme: "Bearer", Params: map[string]string{"error": "invalid_token"}}) {
		t.Fatalf("invalid_token challenge should be refreshable")
	}
	if !IsRefreshableChallenge(Challenge{Scheme: "bearer", Params: map[string]string{"error": "Expired"}}) {
		t.Fatalf("expired challenge should be refreshable (case-insensitive scheme/value)")
	}
	if IsRefreshableChallenge(Challenge{Scheme: "Bearer", Params: map[string]string{"error": "insufficient_scope"}}) {
		t.Fatalf("insufficient_scope is not a refreshable error")
	}
	if IsRefreshableChallenge(Challenge{Scheme: "Digest", Params: map[string]string{"error": "invalid_token"}}) {
		t.Fatalf("non-Bearer scheme should never be refreshable")
	}
}

func TestRefreshBearerTokenUpdatesCredential(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	co := NewCoordinator(Credential{
		Kind:  KindBearer,
		Token: "old",
		Refresh: func() (string, time.Time, error) {
			return "new", expiry, nil
		},
	})
	if err := co.RefreshBearerToken(); err != nil {
		t.Fatalf("RefreshBearerToken() error = %v", err)
	}
	got := co.Credential()
	if got.Token != "new" || !got.Expiry.Equal(expiry) {
		t.Fatalf("Credential() after refresh = %+v", got)
	}
}

func TestRefreshBearerTokenPropagatesCallbackError(t *testing.T) {
	co := NewCoordinator(Credential{
		Kind: KindOAuth,
		Refresh: func() (string, time.Time, error) {
			return "", time.Time{}, errors.New("token endpoint unreachable")
		},
	})
	if err := co.RefreshBearerToken(); err == nil {
		t.Fatalf("expected an error when the refresh callback fails")
	}
}

func TestRefreshBearerTokenRequiresCallback(t *testing.T) {
	co := NewCoordinator(Credential{Kind: KindBearer, Token: "x"})
	if err := co.RefreshBearerToken(); err == nil {
		t.Fatalf("expected an error when no refresh callback is configured")
	}
}

func TestRefreshBearerTokenRejectsNonBearerCredential(t *testing.T) {
	co := NewCoordinator(Credential{Kind: KindDigest, Username: "u", Password: "p"})
	if err := co.RefreshBearerToken(); err == nil {
		t.Fatalf("expected an error refreshing a non-bearer/oauth credential")
	}
}

func TestProactiveHeaderDigestNotProactive(t *testing.T) {
	c := Credential{Kind: KindDigest, Username: "a", Password: "b"}
	if c.IsProactive() {
		t.Fatalf("Digest must not be proactive")
	}
	if _, ok := c.ProactiveHeader(); ok {
		t.Fatalf("Digest has no proactive header form")
	}
}

func TestParseChallengesSingleDigest(t *testing.T) {
	header := `Digest realm="test@host", nonce="abc123", qop="auth", opaque="xyz"`
	challenges := ParseChallenges([]string{header})
	if len(challenges) != 1 {
		t.Fatalf("len(challenges) = %d, want 1", len(challenges))
	}
	ch := challenges[0]
	if ch.Scheme != "Digest" {
		t.Fatalf("Scheme = %q, want %q", ch.Scheme, "Digest")
	}
	if ch.Params["realm"] != "test@host" || ch.Params["nonce"] != "abc123" || ch.Params["qop"] != "auth" {
		t.Fatalf("Params = %v", ch.Params)
	}
}

func TestParseChallengesMultiScheme(t *testing.T) {
	header := `Basic realm="simple", Digest realm="secure", nonce="n1", qop="auth"`
	challenges := ParseChallenges([]string{header})
	if len(challenges) != 2 {
		t.Fatalf("len(challenges) = %d, want 2: %+v", len(challenges), challenges)
	}
	if challenges[0].Scheme != "Basic" || challenges[1].Scheme != "Digest" {
		t.Fatalf("schemes = %q, %q", challenges[0].Scheme, challenges[1].Scheme)
	}
	if challenges[1].Params["nonce"] != "n1" {
		t.Fatalf("Digest nonce = %q, want %q", challenges[1].Params["nonce"], "n1")
	}
}

func TestIsStale(t *testing.T) {
	ch := Challenge{Params: map[string]string{"stale": "true"}}
	if !IsStale(ch) {
		t.Fatalf("IsStale() = false, want true")
	}
	ch2 := Challenge{Params: map[string]string{}}
	if IsStale(ch2) {
		t.Fatalf("IsStale() = true, want false")
	}
}

var digestFieldRe = regexp.MustCompile(`(\w+)=(?:"([^"]*)"|([^,\s]+))`)

func parseDigestHeader(header string) map[string]string {
	fields := map[string]string{}
	for _, m := range digestFieldRe.FindAllStringSubmatch(header, -1) {
		key := m[1]
		val := m[2]
		if val == "" {
			val = m[3]
		}
		fields[key] = val
	}
	return fields
}

func TestBuildDigestAuthorizationSelfConsistent(t *testing.T) {
	co := NewCoordinator(Credential{Kind: KindDigest, Username: "Mufasa", Password: "Circle Of Life"})
	ch := Challenge{
		Scheme: "Digest",
		Params: map[string]string{
			"realm": "testrealm@host.com",
			"nonce": "dcd98b7102dd2f0e8b11d0f600bfb0c093",
			"qop":   "auth",
		},
	}
	header, err := co.BuildDigestAuthorization(ch, "GET", "/dir/index.html")
	if err != nil {
		t.Fatalf("BuildDigestAuthorization() error = %v", err)
	}
	fields := parseDigestHeader(header)
	if fields["username"] != "Mufasa" || fields["realm"] != "testrealm@host.com" {
		t.Fatalf("fields = %v", fields)
	}
	if fields["nc"] != "00000001" {
		t.Fatalf("nc = %q, want %q", fields["nc"], "00000001")
	}

	ha1 := md5hex("Mufasa:testrealm@host.com:Circle Of Life")
	ha2 := md5hex("GET:/dir/index.html")
	want := md5hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, fields["nonce"], fields["nc"], fields["cnonce"], fields["qop"], ha2))
	if fields["response"] != want {
		t.Fatalf("response = %q, want %q (recomputed from emitted cnonce)", fields["response"], want)
	}
}

func TestBuildDigestAuthorizationIncrementsNC(t *testing.T) {
	co := NewCoordinator(Credential{Kind: KindDigest, Username: "u", Password: "p"})
	ch := Challenge{Params: map[string]string{"realm": "r", "nonce": "n", "qop": "auth"}}

	h1, err := co.BuildDigestAuthorization(ch, "GET", "/")
	if err != nil {
		t.Fatalf("first BuildDigestAuthorization() error = %v", err)
	}
	h2, err := co.BuildDigestAuthorization(ch, "GET", "/")
	if err != nil {
		t.Fatalf("second BuildDigestAuthorization() error = %v", err)
	}
	f1 := parseDigestHeader(h1)
	f2 := parseDigestHeader(h2)
	if f1["nc"] != "00000001" || f2["nc"] != "00000002" {
		t.Fatalf("nc sequence = %q, %q, want 00000001, 00000002", f1["nc"], f2["nc"])
	}
}

func TestBuildDigestAuthorizationRejectsNonDigestCredential(t *testing.T) {
	co := NewCoordinator(Credential{Kind: KindBasic, Username: "u", Password: "p"})
	_, err := co.BuildDigestAuthorization(Challenge{}, "GET", "/")
	if err == nil {
		t.Fatalf("expected an error building a digest header for a non-digest credential")
	}
}

func TestSelectQopPrefersAuthOverAuthInt(t *testing.T) {
	if got := selectQop("auth-int,auth"); got != "auth" {
		t.Fatalf("selectQop() = %q, want %q", got, "auth")
	}
	if got := selectQop("auth-int"); got != "auth-int" {
		t.Fatalf("selectQop() = %q, want %q", got, "auth-int")
	}
	if got := selectQop(""); got != "" {
		t.Fatalf("selectQop() = %q, want empty", got)
	}
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
