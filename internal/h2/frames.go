package h2

import (
	"encoding/binary"
	"io"

	"github.com/WhileEndless/go-rawhttp/v2/internal/buffer"
	"golang.org/x/net/http2"
)

// ClientPreface is the fixed connection preface a client must send before
// the first SETTINGS frame (RFC 7540 §3.5).
const ClientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// frameHeaderLen is the fixed 9-octet HTTP/2 frame header size.
const frameHeaderLen = 9

// Sink receives decoded frame events. Implemented by the connection
// supervisor; see github.com/WhileEndless/go-rawhttp's pkg/http2.Client.
// readResponse for the frame-type switch this generalizes from a single
// blocking read loop into push-style callbacks.
type Sink interface {
	OnSettings(s Settings, ack bool)
	OnHeaders(streamID uint32, status string, headers []Header, endStream bool) error
	OnData(streamID uint32, data []byte, endStream bool)
	OnRSTStream(streamID uint32, code http2.ErrCode)
	OnGoAway(lastStreamID uint32, code http2.ErrCode, debug []byte)
	OnPing(ack bool, data [8]byte)
	OnWindowUpdate(streamID uint32, increment uint32)
	OnPushPromise(streamID, promisedID uint32, status string, headers []Header)
	OnFrameError(err error)
}

// sender is the minimal write surface the Engine needs; satisfied by
// endpoint.Endpoint.Send.
type sender func(p []byte) error

// DebugLogger receives frame-level trace output; conn.Logger satisfies this
// by having the same Debugf method, so the connection supervisor can pass
// its own Logger straight through without this package importing conn.
type DebugLogger interface {
	Debugf(format string, args ...any)
}

// DebugFlags selects which categories of frame activity SetDebug logs
// (SPEC_FULL's per-category Debug.LogFrames/LogSettings/LogHeaders/LogData
// supplement, generalizing the teacher's single HTTP2Settings.Debug toggle).
type DebugFlags struct {
	Frames   bool
	Settings bool
	Headers  bool
	Data     bool
}

// Engine drives HTTP/2 framing for one connection: it decodes frames fed in
// via Feed (pushed as bytes arrive from the transport) and dispatches
// events to Sink, and it renders outbound frames directly onto the
// transport via the sender given to NewEngine.
//
// golang.org/x/net/http2.Framer is built around a blocking io.Reader, so
// Engine only invokes ReadFrame once a complete frame is already buffered
// (checked via the 9-byte frame header's length field), feeding the
// Framer a reader that serves exactly the buffered bytes. This keeps
// the engine non-blocking without forking the upstream Framer.
type Engine struct {
	codec  *HeaderCodec
	framer *http2.Framer
	feed   *feedReader
	send   sender
	sink   Sink

	debugLog   DebugLogger
	debugFlags DebugFlags

	// continuation assembly for a HEADERS/PUSH_PROMISE sequence split
	// across CONTINUATION frames (RFC 7540 §6.10).
	assembling   bool
	asmStreamID  uint32
	asmPromised  uint32
	asmIsPush    bool
	asmBlock     []byte
	asmEndStream bool
}

type feedReader struct{ buf *buffer.Growing }

func (r *feedReader) Read(p []byte) (int, error) {
	n := copy(p, r.buf.Bytes())
	if n == 0 {
		return 0, io.EOF
	}
	r.buf.Advance(n)
	return n, nil
}

// NewEngine returns an Engine that writes outbound frames via send and
// reports inbound frame events to sink. tableSize is the initial HPACK
// dynamic table size for both directions.
func NewEngine(send sender, sink Sink, tableSize uint32) *Engine {
	e := &Engine{
		codec: NewHeaderCodec(tableSize),
		feed:  &feedReader{buf: buffer.New(16384)},
		send:  send,
		sink:  sink,
	}
	e.framer = http2.NewFramer(writerFunc(send), e.feed)
	e.framer.AllowIllegalWrites = false
	return e
}

// SetDebug enables per-category frame tracing on log, gated by flags. A nil
// log disables tracing regardless of flags.
func (e *Engine) SetDebug(log DebugLogger, flags DebugFlags) {
	e.debugLog = log
	e.debugFlags = flags
}

// writerFunc adapts a sender into an io.Writer.
type writerFunc func([]byte) error

func (f writerFunc) Write(p []byte) (int, error) {
	if err := f(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SendPreface writes the fixed client connection preface.
func (e *Engine) SendPreface() error { return e.send([]byte(ClientPreface)) }

// Feed appends newly received bytes and decodes as many complete frames as
// are now buffered, dispatching each to Sink.
func (e *Engine) Feed(data []byte) {
	e.feed.buf.Append(data)
	for e.tryReadFrame() {
	}
	e.feed.buf.Compact()
}

// tryReadFrame decodes one frame if a full frame is already buffered.
// Returns true if it made progress (whether or not the frame was useful).
func (e *Engine) tryReadFrame() bool {
	avail := e.feed.buf.Bytes()
	if len(avail) < frameHeaderLen {
		return false
	}
	length := int(avail[0])<<16 | int(avail[1])<<8 | int(avail[2])
	total := frameHeaderLen + length
	if len(avail) < total {
		return false
	}

	fr, err := e.framer.ReadFrame()
	if err != nil {
		e.sink.OnFrameError(err)
		return false
	}
	e.dispatch(fr)
	return true
}

func (e *Engine) dispatch(fr http2.Frame) {
	if e.debugFlags.Frames && e.debugLog != nil {
		e.debugLog.Debugf("h2: recv %T stream=%d", fr, fr.Header().StreamID)
	}
	switch f := fr.(type) {
	case *http2.SettingsFrame:
		if f.IsAck() {
			e.sink.OnSettings(Settings{}, true)
			return
		}
		var s Settings
		f.ForeachSetting(func(setting http2.Setting) error {
			s.Apply(setting.ID, setting.Val)
			return nil
		})
		if e.debugFlags.Settings && e.debugLog != nil {
			e.debugLog.Debugf("h2: recv SETTINGS %+v", s)
		}
		e.sink.OnSettings(s, false)

	case *http2.HeadersFrame:
		e.beginHeaderAssembly(f.StreamID, 0, false, f.HeaderBlockFragment(), f.StreamEnded())
		if f.HeadersEnded() {
			e.finishHeaderAssembly()
		}

	case *http2.PushPromiseFrame:
		e.beginHeaderAssembly(f.StreamID, f.PromiseID, true, f.HeaderBlockFragment(), false)
		if f.HeadersEnded() {
			e.finishHeaderAssembly()
		}

	case *http2.ContinuationFrame:
		if e.assembling {
			e.asmBlock = append(e.asmBlock, f.HeaderBlockFragment()...)
			if f.HeadersEnded() {
				e.finishHeaderAssembly()
			}
		}

	case *http2.DataFrame:
		if e.debugFlags.Data && e.debugLog != nil {
			e.debugLog.Debugf("h2: recv DATA stream=%d len=%d end=%v", f.StreamID, len(f.Data()), f.StreamEnded())
		}
		e.sink.OnData(f.StreamID, f.Data(), f.StreamEnded())

	case *http2.RSTStreamFrame:
		e.sink.OnRSTStream(f.StreamID, f.ErrCode)

	case *http2.GoAwayFrame:
		e.sink.OnGoAway(f.LastStreamID, f.ErrCode, f.DebugData())

	case *http2.PingFrame:
		e.sink.OnPing(f.IsAck(), f.Data)

	case *http2.WindowUpdateFrame:
		e.sink.OnWindowUpdate(f.StreamID, f.Increment)
	}
}

func (e *Engine) beginHeaderAssembly(streamID, promisedID uint32, isPush bool, block []byte, endStream bool) {
	e.assembling = true
	e.asmStreamID = streamID
	e.asmPromised = promisedID
	e.asmIsPush = isPush
	e.asmBlock = append([]byte(nil), block...)
	e.asmEndStream = endStream
}

func (e *Engine) finishHeaderAssembly() {
	e.assembling = false
	status, fields, err := e.codec.Decode(e.asmBlock)
	if err != nil {
		e.sink.OnFrameError(err)
		return
	}
	if e.debugFlags.Headers && e.debugLog != nil {
		e.debugLog.Debugf("h2: recv HEADERS stream=%d promised=%d status=%q fields=%d", e.asmStreamID, e.asmPromised, status, len(fields))
	}
	if e.asmIsPush {
		e.sink.OnPushPromise(e.asmStreamID, e.asmPromised, status, fields)
		return
	}
	if err := e.sink.OnHeaders(e.asmStreamID, status, fields, e.asmEndStream); err != nil {
		e.sink.OnFrameError(err)
	}
}

// SendSettings writes a non-ACK SETTINGS frame advertising s.
func (e *Engine) SendSettings(s Settings) error {
	if e.debugFlags.Settings && e.debugLog != nil {
		e.debugLog.Debugf("h2: send SETTINGS %+v", s)
	}
	return e.framer.WriteSettings(s.ToFrameSettings()...)
}

// SendSettingsAck writes the SETTINGS ACK that must follow a received
// SETTINGS frame.
func (e *Engine) SendSettingsAck() error { return e.framer.WriteSettingsAck() }

// SendHeaders encodes and writes a HEADERS frame for an outbound request.
// The whole header block is written as one HEADERS frame with END_HEADERS
// set; it is never split into CONTINUATION frames, whatever its size
// relative to MaxFrameSize.
func (e *Engine) SendHeaders(streamID uint32, method, scheme, authority, path string, headers []Header, endStream bool) error {
	block, err := e.codec.EncodeRequestHeaders(method, scheme, authority, path, headers)
	if err != nil {
		return err
	}
	if e.debugFlags.Headers && e.debugLog != nil {
		e.debugLog.Debugf("h2: send HEADERS stream=%d method=%s path=%s end=%v", streamID, method, path, endStream)
	}
	return e.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: block,
		EndHeaders:    true,
		EndStream:     endStream,
	})
}

// SendData writes a DATA frame.
func (e *Engine) SendData(streamID uint32, data []byte, endStream bool) error {
	if e.debugFlags.Data && e.debugLog != nil {
		e.debugLog.Debugf("h2: send DATA stream=%d len=%d end=%v", streamID, len(data), endStream)
	}
	return e.framer.WriteData(streamID, endStream, data)
}

// SendRSTStream writes an RST_STREAM frame.
func (e *Engine) SendRSTStream(streamID uint32, code http2.ErrCode) error {
	return e.framer.WriteRSTStream(streamID, code)
}

// SendWindowUpdate writes a WINDOW_UPDATE frame (streamID 0 for the
// connection-level window).
func (e *Engine) SendWindowUpdate(streamID uint32, increment uint32) error {
	return e.framer.WriteWindowUpdate(streamID, increment)
}

// SendPing writes a PING frame.
func (e *Engine) SendPing(ack bool, data [8]byte) error {
	return e.framer.WritePing(ack, data)
}

// SendGoAway writes a GOAWAY frame.
func (e *Engine) SendGoAway(lastStreamID uint32, code http2.ErrCode, debug []byte) error {
	return e.framer.WriteGoAway(lastStreamID, code, debug)
}

// SetPeerHeaderTableSize updates the request encoder's dynamic table cap
// after a peer SETTINGS_HEADER_TABLE_SIZE.
func (e *Engine) SetPeerHeaderTableSize(size uint32) { e.codec.SetPeerTableSize(size) }

// EncodeClientSettingsPayload renders SETTINGS as the base64url-less raw
// payload used by the HTTP2-Settings request header during h2c upgrade
// (RFC 7540 §3.2.1): a sequence of 6-octet (2-octet ID + 4-octet value)
// entries, the same wire format as a SETTINGS frame's payload.
func EncodeClientSettingsPayload(s Settings) []byte {
	entries := s.ToFrameSettings()
	out := make([]byte, 0, len(entries)*6)
	for _, e := range entries {
		var idBuf [2]byte
		binary.BigEndian.PutUint16(idBuf[:], uint16(e.ID))
		var valBuf [4]byte
		binary.BigEndian.PutUint32(valBuf[:], e.Val)
		out = append(out, idBuf[:]...)
		out = append(out, valBuf[:]...)
	}
	return out
}
