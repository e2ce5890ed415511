package h1

import (
	"fmt"
	"strings"
)

// Request describes an outbound HTTP/1.1 request, independent of how its
// body is supplied.
type Request struct {
	Method  string
	Path    string // request-target, e.g. "/a/b?c=d"
	Host    string
	Headers []Header
}

// WriteRequestHead serializes the request line and headers (but not the
// body) in the style of github.com/WhileEndless/go-rawhttp's
// pkg/client.buildRequest, adding Host first if absent from Headers and
// always appending the blank line that terminates the header block.
func WriteRequestHead(r Request) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", r.Method, r.Path)

	hasHost := false
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, "Host") {
			hasHost = true
			break
		}
	}
	if !hasHost {
		fmt.Fprintf(&b, "Host: %s\r\n", r.Host)
	}
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// EncodeChunk frames one chunk of a chunked-transfer request body:
// "<hex-length>\r\n<data>\r\n". An empty p yields nothing; use
// EncodeLastChunk for the terminal zero-length chunk.
func EncodeChunk(p []byte) []byte {
	if len(p) == 0 {
		return nil
	}
	head := fmt.Sprintf("%x\r\n", len(p))
	out := make([]byte, 0, len(head)+len(p)+2)
	out = append(out, head...)
	out = append(out, p...)
	out = append(out, '\r', '\n')
	return out
}

// EncodeLastChunk returns the terminal chunk that closes a chunked body,
// optionally carrying trailers.
func EncodeLastChunk(trailers []Header) []byte {
	var b strings.Builder
	b.WriteString("0\r\n")
	for _, h := range trailers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
