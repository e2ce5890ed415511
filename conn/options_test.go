package conn

import "testing"

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	if o.Protocol != "auto" {
		t.Fatalf("Protocol = %q, want %q", o.Protocol, "auto")
	}
	if !o.HTTP2.AllowH2C {
		t.Fatalf("HTTP2.AllowH2C = false, want true")
	}
	if o.MaxConcurrentStreams != 100 {
		t.Fatalf("MaxConcurrentStreams = %d, want 100", o.MaxConcurrentStreams)
	}
	if o.HTTP2.HeaderTableSize != 4096 {
		t.Fatalf("HTTP2.HeaderTableSize = %d, want 4096", o.HTTP2.HeaderTableSize)
	}
	if o.HTTP2.InitialWindowSize != 65535 {
		t.Fatalf("HTTP2.InitialWindowSize = %d, want 65535", o.HTTP2.InitialWindowSize)
	}
	if o.HTTP2.MaxFrameSize != 16384 {
		t.Fatalf("HTTP2.MaxFrameSize = %d, want 16384", o.HTTP2.MaxFrameSize)
	}
	if o.ConnTimeout <= 0 {
		t.Fatalf("ConnTimeout = %v, want positive default", o.ConnTimeout)
	}
	if o.MaxAuthRetries != 3 {
		t.Fatalf("MaxAuthRetries = %d, want 3", o.MaxAuthRetries)
	}
	if o.HTTP2.Debug != (DebugOptions{}) {
		t.Fatalf("HTTP2.Debug = %+v, want all-off by default", o.HTTP2.Debug)
	}
}

func TestDefaultOptionsIndependentInstances(t *testing.T) {
	a := DefaultOptions()
	b := DefaultOptions()
	a.HTTP2.MaxFrameSize = 1
	if b.HTTP2.MaxFrameSize == 1 {
		t.Fatalf("DefaultOptions() instances share state")
	}
}
