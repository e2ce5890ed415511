package h2

import "golang.org/x/net/http2"

// Default values from RFC 7540 §6.5.2 / §6.9.2, matching the teacher's
// pkg/http2.DefaultOptions initial window.
const (
	DefaultHeaderTableSize   = 4096
	DefaultInitialWindowSize = 65535
	DefaultMaxFrameSize      = 16384
	DefaultMaxConcurrent     = 100
)

// Settings holds one side's advertised SETTINGS values (spec.md §4.4).
type Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32 // 0 means unlimited
}

// DefaultSettings returns the client's own advertised settings. Push is
// disabled by default (spec.md §4.4/§4.9: pushed streams are refused
// unless the connection is configured to accept them).
func DefaultSettings() Settings {
	return Settings{
		HeaderTableSize:      DefaultHeaderTableSize,
		EnablePush:           false,
		MaxConcurrentStreams: DefaultMaxConcurrent,
		InitialWindowSize:    DefaultInitialWindowSize,
		MaxFrameSize:         DefaultMaxFrameSize,
	}
}

// ToFrameSettings renders s as the []http2.Setting slice WriteSettings
// expects, omitting zero-value MaxHeaderListSize (meaning "not sent").
func (s Settings) ToFrameSettings() []http2.Setting {
	push := uint32(0)
	if s.EnablePush {
		push = 1
	}
	out := []http2.Setting{
		{ID: http2.SettingHeaderTableSize, Val: s.HeaderTableSize},
		{ID: http2.SettingEnablePush, Val: push},
		{ID: http2.SettingMaxConcurrentStreams, Val: s.MaxConcurrentStreams},
		{ID: http2.SettingInitialWindowSize, Val: s.InitialWindowSize},
		{ID: http2.SettingMaxFrameSize, Val: s.MaxFrameSize},
	}
	if s.MaxHeaderListSize > 0 {
		out = append(out, http2.Setting{ID: http2.SettingMaxHeaderListSize, Val: s.MaxHeaderListSize})
	}
	return out
}

// Apply updates the peer-settings record in place from one received
// SETTINGS frame's entries.
func (s *Settings) Apply(id http2.SettingID, val uint32) {
	switch id {
	case http2.SettingHeaderTableSize:
		s.HeaderTableSize = val
	case http2.SettingEnablePush:
		s.EnablePush = val != 0
	case http2.SettingMaxConcurrentStreams:
		s.MaxConcurrentStreams = val
	case http2.SettingInitialWindowSize:
		s.InitialWindowSize = val
	case http2.SettingMaxFrameSize:
		s.MaxFrameSize = val
	case http2.SettingMaxHeaderListSize:
		s.MaxHeaderListSize = val
	}
}

// FlowWindow tracks one send-side flow-control window (RFC 7540 §6.9).
// The connection uses it for the connection-level window (stream 0); each
// stream's window is the int64 stream.Stream.SendWindow. spec.md's design
// notes call out that both must be tracked independently and a send is
// only permitted when both have sufficient credit.
type FlowWindow struct {
	size int64
}

// NewFlowWindow returns a window initialized to initial (SETTINGS_INITIAL_
// WINDOW_SIZE, or 65535 before any SETTINGS has been received).
func NewFlowWindow(initial uint32) *FlowWindow {
	return &FlowWindow{size: int64(initial)}
}

// Available returns the current send credit. It can go negative
// transiently after a SETTINGS_INITIAL_WINDOW_SIZE decrease (RFC 7540
// §6.9.2).
func (w *FlowWindow) Available() int64 { return w.size }

// Consume deducts n bytes of credit after sending a DATA frame.
func (w *FlowWindow) Consume(n int64) { w.size -= n }

// Increment applies a WINDOW_UPDATE increment.
func (w *FlowWindow) Increment(n uint32) { w.size += int64(n) }

// AdjustInitial rebases the window when SETTINGS_INITIAL_WINDOW_SIZE
// changes after the window was already created, per RFC 7540 §6.9.2: the
// delta (new - old) is added to every open stream's window.
func (w *FlowWindow) AdjustInitial(oldInitial, newInitial uint32) {
	w.size += int64(newInitial) - int64(oldInitial)
}
