package auth

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// buildDigestHeader computes the Authorization header value for an RFC
// 7616 Digest challenge, supporting MD5, SHA-256 and SHA-512-256 (with
// their "-sess" session variants) and both "auth" and "auth-int" qop
// values (auth-int falls back to an empty entity-body hash, since request
// bodies are not buffered by this engine; see spec.md §4.9 Non-goals).
func buildDigestHeader(username, password, method, uri string, ch Challenge, nc uint32) (string, error) {
	realm := ch.Params["realm"]
	nonce := ch.Params["nonce"]
	opaque := ch.Params["opaque"]
	qop := selectQop(ch.Params["qop"])

	algorithm := ch.Params["algorithm"]
	if algorithm == "" {
		algorithm = "MD5"
	}
	newHash, sess := algorithmHash(algorithm)
	if newHash == nil {
		return "", fmt.Errorf("auth: unsupported digest algorithm %q", algorithm)
	}

	cnonce, err := generateCNonce()
	if err != nil {
		return "", err
	}

	ha1 := digestHex(newHash, fmt.Sprintf("%s:%s:%s", username, realm, password))
	if sess {
		ha1 = digestHex(newHash, fmt.Sprintf("%s:%s:%s", ha1, nonce, cnonce))
	}

	var ha2 string
	if qop == "auth-int" {
		emptyBodyHash := digestHex(newHash, "")
		ha2 = digestHex(newHash, fmt.Sprintf("%s:%s:%s", method, uri, emptyBodyHash))
	} else {
		ha2 = digestHex(newHash, fmt.Sprintf("%s:%s", method, uri))
	}

	ncStr := fmt.Sprintf("%08x", nc)

	var response string
	if qop != "" {
		response = digestHex(newHash, fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, ncStr, cnonce, qop, ha2))
	} else {
		response = digestHex(newHash, fmt.Sprintf("%s:%s:%s", ha1, nonce, ha2))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		username, realm, nonce, uri, response)
	if algorithm != "" {
		fmt.Fprintf(&b, `, algorithm=%s`, algorithm)
	}
	if opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, opaque)
	}
	if qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, qop, ncStr, cnonce)
	}
	return b.String(), nil
}

// selectQop picks "auth" over "auth-int" when the server offers both
// (spec.md's auth model never buffers request bodies for hashing).
func selectQop(offered string) string {
	if offered == "" {
		return ""
	}
	options := strings.Split(offered, ",")
	hasAuth, hasAuthInt := false, false
	for _, o := range options {
		switch strings.TrimSpace(o) {
		case "auth":
			hasAuth = true
		case "auth-int":
			hasAuthInt = true
		}
	}
	if hasAuth {
		return "auth"
	}
	if hasAuthInt {
		return "auth-int"
	}
	return ""
}

// algorithmHash maps an RFC 7616 algorithm token to a hash constructor and
// whether it is the "-sess" session variant.
func algorithmHash(algorithm string) (func() hash.Hash, bool) {
	base := algorithm
	sess := false
	if strings.HasSuffix(strings.ToLower(algorithm), "-sess") {
		sess = true
		base = algorithm[:len(algorithm)-len("-sess")]
	}
	switch strings.ToUpper(base) {
	case "MD5":
		return md5.New, sess
	case "SHA-256":
		return sha256.New, sess
	case "SHA-512-256":
		return sha512.New512_256, sess
	default:
		return nil, sess
	}
}

func digestHex(newHash func() hash.Hash, s string) string {
	h := newHash()
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}

// generateCNonce returns a random client nonce as required by RFC 7616
// §3.4 (the value is opaque to the server, only uniqueness matters).
func generateCNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generating cnonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IsStale reports whether a challenge carries stale=true, signalling the
// coordinator should retry with a fresh nonce from the same challenge
// rather than surfacing an AuthenticationFailure (RFC 7616 §3.3).
func IsStale(ch Challenge) bool {
	return strings.EqualFold(ch.Params["stale"], "true")
}
