package netendpoint

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/WhileEndless/go-rawhttp/v2/conn"
	"github.com/WhileEndless/go-rawhttp/v2/endpoint"
	"golang.org/x/net/idna"
)

// DialOptions configures Dial. ALPNProtocols, when non-empty, requests a
// TLS handshake with ALPN negotiation over those protocols in priority
// order (e.g. []string{"h2", "http/1.1"}); a nil/empty slice dials plain
// TCP with no TLS at all.
type DialOptions struct {
	ConnTimeout    time.Duration
	ALPNProtocols  []string
	SNI            string
	DisableSNI     bool
	InsecureTLS    bool
	TLSConfig      *tls.Config
	CustomCACerts  [][]byte
	ClientCertFile string
	ClientKeyFile  string
}

// Metadata reports what Dial negotiated, mirroring the subset of the
// teacher's ConnectionMetadata this engine surfaces (spec.md's
// SUPPLEMENTED FEATURES: connection metadata).
type Metadata struct {
	LocalAddr          string
	RemoteAddr         string
	TLS                bool
	TLSVersion         string
	TLSCipherSuite     string
	NegotiatedProtocol string // ALPN result, "" if not negotiated
	TLSServerName      string // SNI value actually sent, "" if TLS was not used
}

// Endpoint is a net.Conn-backed endpoint.Endpoint. All Callbacks methods
// are invoked from a single internal goroutine that also drains
// ScheduleLater tasks, so delivery is always serialized as
// endpoint.Callbacks requires.
type Endpoint struct {
	conn net.Conn
	cb   endpoint.Callbacks
	meta Metadata

	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// Dial connects to host:port, optionally performing a TLS+ALPN handshake,
// and returns an Endpoint paired with the metadata the handshake produced.
// Callbacks fire only after Start is called, so the caller can finish
// wiring up its Connection before any event is delivered.
func Dial(ctx context.Context, host string, port int, opts DialOptions) (*Endpoint, Metadata, error) {
	normalizedHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		normalizedHost = host
	}
	addr := fmt.Sprintf("%s:%d", normalizedHost, port)

	timeout := opts.ConnTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{}
	rawConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("netendpoint: dial %s: %w", addr, err)
	}

	meta := Metadata{LocalAddr: rawConn.LocalAddr().String(), RemoteAddr: rawConn.RemoteAddr().String()}

	conn := net.Conn(rawConn)
	if len(opts.ALPNProtocols) > 0 {
		tlsConn, tlsMeta, err := upgradeTLS(dialCtx, rawConn, normalizedHost, opts)
		if err != nil {
			rawConn.Close()
			return nil, Metadata{}, fmt.Errorf("netendpoint: TLS handshake with %s: %w", addr, err)
		}
		conn = tlsConn
		meta.TLS = true
		meta.TLSVersion = tlsMeta.TLSVersion
		meta.TLSCipherSuite = tlsMeta.TLSCipherSuite
		meta.NegotiatedProtocol = tlsMeta.NegotiatedProtocol
		meta.TLSServerName = tlsMeta.TLSServerName
	}

	e := &Endpoint{
		conn:  conn,
		meta:  meta,
		tasks: make(chan func(), 64),
		done:  make(chan struct{}),
	}
	return e, meta, nil
}

// upgradeTLS performs the handshake, grounded on the teacher's
// transport.upgradeTLS (proxy-CONNECT and connection-pool bookkeeping
// removed).
func upgradeTLS(ctx context.Context, conn net.Conn, host string, opts DialOptions) (*tls.Conn, Metadata, error) {
	var cfg *tls.Config
	if opts.TLSConfig != nil {
		cfg = opts.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		ApplySecureCipherSuites(cfg)
	}
	if opts.InsecureTLS {
		cfg.InsecureSkipVerify = true
	}
	cfg.NextProtos = opts.ALPNProtocols

	if len(opts.CustomCACerts) > 0 {
		pool := x509.NewCertPool()
		for i, pem := range opts.CustomCACerts {
			if !pool.AppendCertsFromPEM(pem) {
				return nil, Metadata{}, fmt.Errorf("parsing custom CA certificate at index %d", i)
			}
		}
		cfg.RootCAs = pool
	}

	ConfigureSNI(cfg, opts.SNI, opts.DisableSNI, host)

	if cert, err := LoadClientCertificate(opts.ClientCertFile, opts.ClientKeyFile); err != nil {
		return nil, Metadata{}, err
	} else if cert != nil {
		cfg.Certificates = append(cfg.Certificates, *cert)
	}

	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, Metadata{}, err
	}

	state := tlsConn.ConnectionState()
	meta := Metadata{
		TLS:                true,
		TLSVersion:         tlsVersionName(state.Version),
		TLSCipherSuite:     tls.CipherSuiteName(state.CipherSuite),
		NegotiatedProtocol: state.NegotiatedProtocol,
		TLSServerName:      cfg.ServerName,
	}
	return tlsConn, meta, nil
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return "unknown"
	}
}

// Start launches the reactor goroutine (which serializes Callbacks
// delivery and ScheduleLater tasks) and the reader goroutine (which only
// ever hands received bytes to the reactor goroutine, never calling cb
// itself). Start must be called exactly once, after the caller has
// finished constructing its Connection.
func (e *Endpoint) Start(cb endpoint.Callbacks) {
	e.cb = cb
	go e.reactorLoop()
	go e.readLoop()
	e.enqueue(func() {
		cb.OnConnected()
		if e.meta.TLS {
			cb.OnSecurityEstablished(e.meta.NegotiatedProtocol)
		}
	})
}

func (e *Endpoint) reactorLoop() {
	for {
		select {
		case fn := <-e.tasks:
			fn()
		case <-e.done:
			return
		}
	}
}

func (e *Endpoint) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.enqueue(func() { e.cb.OnReceive(chunk) })
		}
		if err != nil {
			e.enqueue(func() { e.cb.OnError(err) })
			e.teardown()
			return
		}
	}
}

func (e *Endpoint) enqueue(fn func()) {
	select {
	case e.tasks <- fn:
	case <-e.done:
	}
}

func (e *Endpoint) teardown() {
	e.once.Do(func() {
		e.conn.Close()
		e.enqueue(func() { e.cb.OnDisconnected() })
		close(e.done)
	})
}

// Send implements endpoint.Endpoint.
func (e *Endpoint) Send(p []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return endpoint.ErrClosed
	}
	e.mu.Unlock()

	data := make([]byte, len(p))
	copy(data, p)
	done := make(chan error, 1)
	e.enqueue(func() {
		_, err := e.conn.Write(data)
		done <- err
	})
	select {
	case err := <-done:
		return err
	case <-e.done:
		return endpoint.ErrClosed
	}
}

// Close implements endpoint.Endpoint.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.teardown()
	return nil
}

// IsOpen implements endpoint.Endpoint.
func (e *Endpoint) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.closed
}

// ScheduleLater implements endpoint.Endpoint.
func (e *Endpoint) ScheduleLater(fn func()) {
	e.enqueue(fn)
}

// Metadata returns what Dial/upgradeTLS negotiated.
func (e *Endpoint) Metadata() Metadata { return e.meta }

// ConnMetadata implements conn.MetadataEndpoint, threading the handshake
// metadata Dial computed onto every conn.Response (SPEC_FULL's connection-
// metadata supplement).
func (e *Endpoint) ConnMetadata() conn.ConnMetadata {
	ip, port := splitHostPort(e.meta.RemoteAddr)
	return conn.ConnMetadata{
		LocalAddr:          e.meta.LocalAddr,
		RemoteAddr:         e.meta.RemoteAddr,
		ConnectedIP:        ip,
		ConnectedPort:      port,
		NegotiatedProtocol: e.meta.NegotiatedProtocol,
		TLS:                e.meta.TLS,
		TLSVersion:         e.meta.TLSVersion,
		TLSCipherSuite:     e.meta.TLSCipherSuite,
		TLSServerName:      e.meta.TLSServerName,
	}
}

// splitHostPort extracts the IP and numeric port from a net.Conn address
// string, returning a zero port if the address has no parseable port part.
func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
