package h1

import (
	"strings"
	"testing"

	"github.com/WhileEndless/go-rawhttp/v2/internal/errs"
)

// recordingSink captures every event the parser emits, in order, so tests
// can assert both content and ordering.
type recordingSink struct {
	events []string
	status int
	body   []byte
	err    *errs.Error
}

func (r *recordingSink) OnResponseHead(httpVersion string, code int, reason string, headers []Header) error {
	r.status = code
	r.events = append(r.events, "head:"+httpVersion)
	for _, h := range headers {
		r.events = append(r.events, "header:"+h.Name+"="+h.Value)
	}
	return nil
}

func (r *recordingSink) OnBodyChunk(p []byte) {
	r.body = append(r.body, p...)
	r.events = append(r.events, "chunk")
}

func (r *recordingSink) OnBodyEnd() {
	r.events = append(r.events, "end")
}

func (r *recordingSink) OnTrailer(name, value string) {
	r.events = append(r.events, "trailer:"+name+"="+value)
}

func (r *recordingSink) OnParseError(err *errs.Error) {
	r.err = err
}

func TestParserContentLength(t *testing.T) {
	sink := &recordingSink{}
	p := NewParser(sink)

	raw := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain\r\n\r\nhello"
	p.Feed([]byte(raw))

	if sink.status != 200 {
		t.Fatalf("status = %d, want 200", sink.status)
	}
	if string(sink.body) != "hello" {
		t.Fatalf("body = %q, want %q", sink.body, "hello")
	}
	if !p.Done() {
		t.Fatalf("parser should be Done after a complete Content-Length body")
	}
	if sink.events[len(sink.events)-1] != "end" {
		t.Fatalf("last event = %q, want %q", sink.events[len(sink.events)-1], "end")
	}
}

func TestParserIncrementalFeed(t *testing.T) {
	sink := &recordingSink{}
	p := NewParser(sink)

	raw := "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n0123456789"
	for i := 0; i < len(raw); i++ {
		p.Feed([]byte{raw[i]})
	}
	if string(sink.body) != "0123456789" {
		t.Fatalf("body = %q, want %q", sink.body, "0123456789")
	}
	if !p.Done() {
		t.Fatalf("parser should be Done once every byte has been fed")
	}
}

func TestParserChunkedBody(t *testing.T) {
	sink := &recordingSink{}
	p := NewParser(sink)

	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	p.Feed([]byte(raw))

	if string(sink.body) != "Wikipedia" {
		t.Fatalf("body = %q, want %q", sink.body, "Wikipedia")
	}
	if !p.Done() {
		t.Fatalf("parser should be Done after the terminal chunk")
	}
}

func TestParserChunkedTrailers(t *testing.T) {
	sink := &recordingSink{}
	p := NewParser(sink)

	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"3\r\nabc\r\n0\r\nX-Checksum: deadbeef\r\n\r\n"
	p.Feed([]byte(raw))

	found := false
	for _, e := range sink.events {
		if e == "trailer:X-Checksum=deadbeef" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected trailer event, got %v", sink.events)
	}
}

func TestParserNoBodyOn204(t *testing.T) {
	sink := &recordingSink{}
	p := NewParser(sink)
	p.Feed([]byte("HTTP/1.1 204 No Content\r\nX-Foo: bar\r\n\r\n"))

	if !p.Done() {
		t.Fatalf("204 response should be immediately Done")
	}
	for _, e := range sink.events {
		if e == "chunk" {
			t.Fatalf("204 response must not produce body chunks")
		}
	}
}

func TestParserHeadRequestNoBody(t *testing.T) {
	sink := &recordingSink{}
	p := NewParser(sink)
	p.SetHeadRequest(true)
	// A HEAD response may still carry Content-Length, but no body bytes.
	p.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n"))

	if !p.Done() {
		t.Fatalf("HEAD response should complete without reading a body")
	}
}

func TestParserCloseDelimitedBody(t *testing.T) {
	sink := &recordingSink{}
	p := NewParser(sink)
	p.Feed([]byte("HTTP/1.1 200 OK\r\nConnection: close\r\n\r\nsome data"))
	if p.Done() {
		t.Fatalf("close-delimited body should not be Done until NotifyClose")
	}
	p.NotifyClose()
	if !p.Done() {
		t.Fatalf("close-delimited body should be Done after NotifyClose")
	}
	if string(sink.body) != "some data" {
		t.Fatalf("body = %q, want %q", sink.body, "some data")
	}
}

func TestParserMalformedStatusLine(t *testing.T) {
	sink := &recordingSink{}
	p := NewParser(sink)
	p.Feed([]byte("not a status line\r\n"))
	if sink.err == nil {
		t.Fatalf("expected a parse error for a malformed status line")
	}
	if sink.err.Type != errs.ErrorTypeProtocol {
		t.Fatalf("error type = %v, want %v", sink.err.Type, errs.ErrorTypeProtocol)
	}
}

func TestParserObsFoldHeader(t *testing.T) {
	sink := &recordingSink{}
	p := NewParser(sink)
	raw := "HTTP/1.1 200 OK\r\nX-Long: part-one\r\n part-two\r\nContent-Length: 0\r\n\r\n"
	p.Feed([]byte(raw))

	var got string
	for _, e := range sink.events {
		if strings.HasPrefix(e, "header:X-Long=") {
			got = strings.TrimPrefix(e, "header:X-Long=")
		}
	}
	if got != "part-one part-two" {
		t.Fatalf("folded header value = %q, want %q", got, "part-one part-two")
	}
}

func TestParserReset(t *testing.T) {
	sink := &recordingSink{}
	p := NewParser(sink)
	p.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi"))
	if !p.Done() {
		t.Fatalf("first response should be Done")
	}
	p.Reset()
	sink.body = nil
	p.Feed([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nyo"))
	if string(sink.body) != "yo" {
		t.Fatalf("second response body = %q, want %q", sink.body, "yo")
	}
}
