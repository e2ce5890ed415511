// Package netendpoint provides a concrete net.Conn-backed endpoint.Endpoint
// (spec.md §6): it dials, optionally performs a TLS handshake with ALPN
// negotiation, and drives Connection callbacks from its own reactor
// goroutine. Grounded on github.com/WhileEndless/go-rawhttp's
// pkg/transport/transport.go (connectTCP/upgradeTLS) with proxying and
// connection pooling stripped, since those concerns fall outside this
// engine's scope.
package netendpoint

import "crypto/tls"

// TLS/SSL protocol version constants, carried over unchanged from the
// teacher's pkg/tlsconfig so callers configuring Options.TLSConfig can
// reference them without importing crypto/tls directly.
const (
	VersionTLS10 uint16 = tls.VersionTLS10
	VersionTLS11 uint16 = tls.VersionTLS11
	VersionTLS12 uint16 = tls.VersionTLS12
	VersionTLS13 uint16 = tls.VersionTLS13
)

// VersionProfile names a recommended [Min, Max] TLS version range.
type VersionProfile struct {
	Min         uint16
	Max         uint16
	Description string
}

var (
	ProfileModern = VersionProfile{VersionTLS13, VersionTLS13, "TLS 1.3 only"}
	ProfileSecure = VersionProfile{VersionTLS12, VersionTLS13, "TLS 1.2+, recommended default"}
)

// ApplyVersionProfile sets cfg's version bounds from profile.
func ApplyVersionProfile(cfg *tls.Config, profile VersionProfile) {
	cfg.MinVersion = profile.Min
	cfg.MaxVersion = profile.Max
}

// secureCipherSuites are the ECDHE+AEAD suites offered for TLS 1.2
// connections; TLS 1.3 negotiates its own suites automatically.
var secureCipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
}

// ApplySecureCipherSuites restricts cfg to secureCipherSuites when its
// minimum version is TLS 1.2; TLS 1.3 ignores CipherSuites entirely.
func ApplySecureCipherSuites(cfg *tls.Config) {
	if cfg.MinVersion >= VersionTLS13 {
		cfg.CipherSuites = nil
		return
	}
	cfg.CipherSuites = secureCipherSuites
}

// ConfigureSNI applies Server Name Indication to cfg following the same
// priority order as the teacher's transport.ConfigureSNI: an explicit
// cfg.ServerName wins, then disableSNI (leave empty), then customSNI, then
// fallbackHost.
func ConfigureSNI(cfg *tls.Config, customSNI string, disableSNI bool, fallbackHost string) {
	if cfg.ServerName != "" {
		return
	}
	if disableSNI {
		return
	}
	if customSNI != "" {
		cfg.ServerName = customSNI
		return
	}
	cfg.ServerName = fallbackHost
}

// LoadClientCertificate loads a PEM certificate/key pair for mutual TLS, or
// returns (nil, nil) if both paths are empty.
func LoadClientCertificate(certFile, keyFile string) (*tls.Certificate, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return &cert, nil
}
