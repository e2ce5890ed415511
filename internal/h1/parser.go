// Package h1 implements the incremental HTTP/1.1 status-line/header/body
// parser (spec.md C2, §4.2) and the HTTP/1 request writer (C7's HTTP/1
// half). It is generalized from github.com/WhileEndless/go-rawhttp's
// pkg/client/client.go readLine/readHeaders/readBody/readChunkedBody, which
// parse a single blocking response off a bufio.Reader; here the same
// line-and-body state machine instead drives off a byte-streaming buffer
// fed incrementally by Connection.OnReceive, since the core never blocks on
// I/O.
package h1

import (
	"strconv"
	"strings"

	"github.com/WhileEndless/go-rawhttp/v2/internal/buffer"
	"github.com/WhileEndless/go-rawhttp/v2/internal/errs"
)

// State is the HTTP/1 parser state (spec.md §3 ParseState, HTTP/1 subset).
type State int

const (
	StateIdle State = iota
	StateStatusLine
	StateHeaders
	StateBody
	StateChunkSize
	StateChunkData
	StateChunkTrailer
	StateDone
)

const maxHeaderBytes = 64 * 1024

// Header is one response header in wire order.
type Header struct{ Name, Value string }

// Sink receives parse events. Implemented by the connection supervisor.
type Sink interface {
	// OnResponseHead is called once the full header block (status line +
	// headers, terminated by the blank line) has been parsed.
	OnResponseHead(httpVersion string, code int, reason string, headers []Header) error
	// OnBodyChunk delivers one chunk of body bytes as they arrive.
	OnBodyChunk(p []byte)
	// OnBodyEnd is called once the body (or its absence) is complete.
	OnBodyEnd()
	// OnTrailer delivers one chunked-trailer header, called after the
	// final chunk and before OnBodyEnd.
	OnTrailer(name, value string)
	// OnParseError reports a fatal parse failure; the connection closes.
	OnParseError(err *errs.Error)
}

// Parser is an incremental, byte-streaming HTTP/1.1 response parser. One
// Parser instance is reused across the keep-alive lifetime of a connection;
// Reset prepares it for the next response.
type Parser struct {
	buf   *buffer.Growing
	state State
	sink  Sink

	headMethod bool // true if the request for this response used HEAD

	// accumulated header-block state
	version string
	code    int
	reason  string
	headers []Header
	total   int // bytes consumed by the header block so far

	// body framing state, set once headers complete
	chunked        bool
	closeDelimited bool
	remaining      int64
	noBody         bool
}

// NewParser returns a Parser that reports events to sink.
func NewParser(sink Sink) *Parser {
	return &Parser{buf: buffer.New(4096), sink: sink, state: StateStatusLine}
}

// Reset prepares the parser for the next response on the same connection.
// Any unconsumed bytes (pipelined data) are preserved.
func (p *Parser) Reset() {
	p.buf.Compact()
	p.state = StateStatusLine
	p.version = ""
	p.code = 0
	p.reason = ""
	p.headers = nil
	p.total = 0
	p.chunked = false
	p.closeDelimited = false
	p.remaining = 0
	p.noBody = false
}

// SetHeadRequest tells the parser the in-flight request used the HEAD
// method, which suppresses body framing regardless of headers.
func (p *Parser) SetHeadRequest(v bool) {
	p.headMethod = v
}

// Feed appends newly received bytes and drives the state machine as far as
// it can go with the data available, calling Sink methods for each
// completed event. It returns nothing: parse errors, and errors the sink
// returns from OnResponseHead, are reported via OnParseError (the
// connection is expected to close).
func (p *Parser) Feed(data []byte) {
	p.buf.Append(data)
	for p.step() {
	}
	p.buf.Compact()
}

// NotifyClose signals that the transport disconnected while a close-
// delimited body was being read (§4.2.1 body framing policy (b)).
func (p *Parser) NotifyClose() {
	if p.state == StateBody && p.closeDelimited {
		p.sink.OnBodyEnd()
		p.state = StateDone
	}
}

// step attempts one unit of progress; it returns true if it made progress
// and should be called again, false if more data is needed.
func (p *Parser) step() bool {
	switch p.state {
	case StateStatusLine:
		return p.stepStatusLine()
	case StateHeaders:
		return p.stepHeaders()
	case StateBody:
		return p.stepBody()
	case StateChunkSize:
		return p.stepChunkSize()
	case StateChunkData:
		return p.stepChunkData()
	case StateChunkTrailer:
		return p.stepChunkTrailer()
	default:
		return false
	}
}

func (p *Parser) readLine() (string, bool) {
	idx := p.buf.IndexCRLF()
	if idx < 0 {
		if p.buf.Len() > maxHeaderBytes {
			p.fail("line exceeds maximum size", nil)
		}
		return "", false
	}
	line := string(p.buf.Bytes()[:idx])
	p.buf.Advance(idx + 2)
	return line, true
}

func (p *Parser) fail(msg string, cause error) {
	p.state = StateDone
	p.sink.OnParseError(errs.NewProtocolError(msg, cause))
}

func (p *Parser) stepStatusLine() bool {
	line, ok := p.readLine()
	if !ok {
		return false
	}
	// "version SP code SP reason", splitting on the first two spaces.
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		p.fail("malformed status line", nil)
		return false
	}
	code, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		p.fail("non-numeric status code", err)
		return false
	}
	p.version = parts[0]
	p.code = code
	if len(parts) == 3 {
		p.reason = parts[2]
	}
	p.state = StateHeaders
	return true
}

func (p *Parser) stepHeaders() bool {
	line, ok := p.readLine()
	if !ok {
		return false
	}
	p.total += len(line) + 2
	if p.total > maxHeaderBytes {
		p.fail("headers exceed maximum size", nil)
		return false
	}
	if line == "" {
		// Header block complete: dispatch head, then decide framing.
		if err := p.sink.OnResponseHead(p.version, p.code, p.reason, p.headers); err != nil {
			p.fail("dispatch failure", err)
			return false
		}
		p.decideFraming()
		return true
	}
	if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
		// RFC 7230 §3.2.4 obs-fold continuation.
		if len(p.headers) == 0 {
			return true
		}
		last := &p.headers[len(p.headers)-1]
		last.Value += " " + strings.TrimSpace(line)
		return true
	}
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return true
	}
	name := strings.TrimSpace(line[:idx])
	value := strings.TrimSpace(line[idx+1:])
	p.headers = append(p.headers, Header{Name: name, Value: value})
	return true
}

func headerValue(headers []Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// decideFraming implements spec.md §4.2.1: Transfer-Encoding:chunked beats
// Content-Length; 204/304/1xx and HEAD never have a body.
func (p *Parser) decideFraming() {
	if p.headMethod || (p.code >= 100 && p.code < 200) || p.code == 204 || p.code == 304 {
		p.noBody = true
		p.state = StateDone
		p.sink.OnBodyEnd()
		return
	}

	if te, ok := headerValue(p.headers, "Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		p.chunked = true
		p.state = StateChunkSize
		return
	}

	if cl, ok := headerValue(p.headers, "Content-Length"); ok {
		length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || length < 0 {
			p.fail("invalid content-length", err)
			return
		}
		p.remaining = length
		if length == 0 {
			p.state = StateDone
			p.sink.OnBodyEnd()
			return
		}
		p.state = StateBody
		return
	}

	// Neither chunked nor Content-Length: read until the connection closes.
	p.closeDelimited = true
	p.state = StateBody
}

func (p *Parser) stepBody() bool {
	if p.closeDelimited {
		if p.buf.Len() == 0 {
			return false
		}
		p.sink.OnBodyChunk(p.buf.Bytes())
		p.buf.Advance(p.buf.Len())
		return false
	}

	avail := p.buf.Len()
	if avail == 0 {
		return false
	}
	n := avail
	if int64(n) > p.remaining {
		n = int(p.remaining)
	}
	if n > 0 {
		p.sink.OnBodyChunk(p.buf.Bytes()[:n])
		p.buf.Advance(n)
		p.remaining -= int64(n)
	}
	if p.remaining == 0 {
		p.state = StateDone
		p.sink.OnBodyEnd()
		return avail > n // more data may be pipelined, but StateDone stops processing
	}
	return n > 0
}

func (p *Parser) stepChunkSize() bool {
	line, ok := p.readLine()
	if !ok {
		return false
	}
	sizeStr := line
	if idx := strings.IndexByte(sizeStr, ';'); idx >= 0 {
		sizeStr = sizeStr[:idx]
	}
	size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 16, 64)
	if err != nil || size < 0 {
		p.fail("invalid chunk size", err)
		return false
	}
	if size == 0 {
		p.state = StateChunkTrailer
		return true
	}
	p.remaining = size
	p.state = StateChunkData
	return true
}

func (p *Parser) stepChunkData() bool {
	avail := p.buf.Len()
	if avail == 0 {
		return false
	}
	n := avail
	if int64(n) > p.remaining {
		n = int(p.remaining)
	}
	if n > 0 {
		p.sink.OnBodyChunk(p.buf.Bytes()[:n])
		p.buf.Advance(n)
		p.remaining -= int64(n)
	}
	if p.remaining > 0 {
		return n > 0
	}
	// Consume the trailing CRLF after the chunk data.
	if p.buf.Len() < 2 {
		return false
	}
	if p.buf.Bytes()[0] != '\r' || p.buf.Bytes()[1] != '\n' {
		p.fail("missing CRLF after chunk data", nil)
		return false
	}
	p.buf.Advance(2)
	p.state = StateChunkSize
	return true
}

func (p *Parser) stepChunkTrailer() bool {
	line, ok := p.readLine()
	if !ok {
		return false
	}
	if line == "" {
		p.state = StateDone
		p.sink.OnBodyEnd()
		return true
	}
	idx := strings.IndexByte(line, ':')
	if idx >= 0 {
		p.sink.OnTrailer(strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]))
	}
	return true
}

// Done reports whether the current response has fully completed.
func (p *Parser) Done() bool { return p.state == StateDone }
