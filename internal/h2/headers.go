// Package h2 implements the HTTP/2 frame-level engine (spec.md C3/C4):
// HPACK header encode/decode, SETTINGS/flow-control bookkeeping, and
// reading/writing frames via golang.org/x/net/http2. It is grounded on
// github.com/WhileEndless/go-rawhttp's pkg/http2 package (Converter's
// pseudo-header ordering, Client.sendFrame's encoder usage, and
// readResponse's frame switch), restructured around a push-driven Sink so
// frames are processed as bytes arrive rather than read in a blocking loop.
package h2

import (
	"sort"
	"strings"

	"golang.org/x/net/http2/hpack"
)

// Header is one HTTP/2 header field in decoded form.
type Header struct{ Name, Value string }

// pseudoOrder is the canonical encode order for request pseudo-headers,
// matching RFC 7540 §8.1.2.3 convention and the teacher's Converter.
var pseudoOrder = []string{":method", ":scheme", ":authority", ":path"}

// connectionSpecific headers are forbidden on an HTTP/2 connection (RFC
// 7540 §8.1.2.2) and are dropped by the encoder rather than sent.
var connectionSpecific = map[string]bool{
	"connection":        true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"transfer-encoding": true,
	"upgrade":           true,
	"host":              true, // replaced by :authority
}

// HeaderCodec owns the per-connection HPACK encoder/decoder state. HPACK is
// connection-scoped (RFC 7541 §1.1), so exactly one HeaderCodec exists per
// Connection regardless of how many concurrent streams it multiplexes.
type HeaderCodec struct {
	enc    *hpack.Encoder
	encBuf strings.Builder
	dec    *hpack.Decoder
}

// NewHeaderCodec returns a codec with the given initial dynamic table size
// (HEADER_TABLE_SIZE, RFC 7541 §4.2).
func NewHeaderCodec(tableSize uint32) *HeaderCodec {
	c := &HeaderCodec{}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.enc.SetMaxDynamicTableSize(tableSize)
	c.dec = hpack.NewDecoder(tableSize, nil)
	return c
}

// SetPeerTableSize applies a SETTINGS_HEADER_TABLE_SIZE the peer advertised
// for our encoder (the size the peer's decoder is willing to hold).
func (c *HeaderCodec) SetPeerTableSize(size uint32) {
	c.enc.SetMaxDynamicTableSize(size)
}

// EncodeRequestHeaders renders a request's pseudo- and regular headers into
// one HPACK block, omitting hop-by-hop/connection-specific fields. Pseudo-
// headers are written first, in canonical order (RFC 7540 §8.1.2.1).
func (c *HeaderCodec) EncodeRequestHeaders(method, scheme, authority, path string, headers []Header) ([]byte, error) {
	c.encBuf.Reset()
	pseudo := map[string]string{":method": method, ":scheme": scheme, ":authority": authority, ":path": path}
	for _, name := range pseudoOrder {
		if err := c.enc.WriteField(hpack.HeaderField{Name: name, Value: pseudo[name]}); err != nil {
			return nil, err
		}
	}
	for _, h := range headers {
		lower := strings.ToLower(h.Name)
		if strings.HasPrefix(lower, ":") || connectionSpecific[lower] {
			continue
		}
		if err := c.enc.WriteField(hpack.HeaderField{Name: lower, Value: h.Value}); err != nil {
			return nil, err
		}
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.String())
	return out, nil
}

// EncodeResponseHeaders is used only for completeness in tests/stubs that
// emulate a server peer; real clients never encode :status.
func (c *HeaderCodec) EncodeResponseHeaders(status string, headers []Header) ([]byte, error) {
	c.encBuf.Reset()
	if err := c.enc.WriteField(hpack.HeaderField{Name: ":status", Value: status}); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(headers))
	byName := map[string]string{}
	for _, h := range headers {
		names = append(names, strings.ToLower(h.Name))
		byName[strings.ToLower(h.Name)] = h.Value
	}
	sort.Strings(names)
	for _, n := range names {
		if err := c.enc.WriteField(hpack.HeaderField{Name: n, Value: byName[n]}); err != nil {
			return nil, err
		}
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.String())
	return out, nil
}

// Decode decodes one concatenated HEADERS(+CONTINUATION) block. It
// separates the leading :status pseudo-header (if present) from the
// remaining ordered fields.
func (c *HeaderCodec) Decode(block []byte) (status string, fields []Header, err error) {
	hfs, err := c.dec.DecodeFull(block)
	if err != nil {
		return "", nil, err
	}
	fields = make([]Header, 0, len(hfs))
	for _, hf := range hfs {
		if hf.Name == ":status" {
			status = hf.Value
			continue
		}
		if strings.HasPrefix(hf.Name, ":") {
			continue // response pseudo-headers other than :status are unused
		}
		fields = append(fields, Header{Name: hf.Name, Value: hf.Value})
	}
	return status, fields, nil
}
