package stream

import "fmt"

// phase tracks where a single stream's Handler callback sequence currently
// stands, so Dispatcher can refuse calls that would violate the fixed
// ordering spec.md §4.8 requires.
type phase int

const (
	phaseHead phase = iota // before Ok/Error
	phaseHeaders
	phaseBodyNotStarted
	phaseBody
	phaseTrailers
	phaseDone
)

// Dispatcher enforces the Handler event-ordering contract for one stream:
//
//	Ok|Error -> Header* -> [StartResponseBody -> ResponseBodyContent* -> EndResponseBody -> Header*] -> Close|Failed
//
// It does not call the Handler itself; callers ask Dispatcher to validate
// each transition before invoking the Handler method, so a programming
// error inside the connection supervisor surfaces immediately rather than
// as a subtly misordered callback sequence a handler silently mishandles.
type Dispatcher struct {
	ph       phase
	bodySeen bool // whether StartResponseBody was called this stream
	streamID uint32
}

// NewDispatcher returns a Dispatcher for the given stream ID, used only to
// annotate error messages.
func NewDispatcher(streamID uint32) *Dispatcher {
	return &Dispatcher{streamID: streamID}
}

func (d *Dispatcher) errf(event string) error {
	return fmt.Errorf("stream %d: %s called out of order (phase=%d)", d.streamID, event, d.ph)
}

// Head validates and records the initial Ok/Error dispatch.
func (d *Dispatcher) Head() error {
	if d.ph != phaseHead {
		return d.errf("Ok/Error")
	}
	d.ph = phaseHeaders
	return nil
}

// Header validates a Header callback, valid either right after Head (main
// header block) or right after EndResponseBody (trailers).
func (d *Dispatcher) Header() error {
	switch d.ph {
	case phaseHeaders, phaseTrailers:
		return nil
	default:
		return d.errf("Header")
	}
}

// NoBody transitions directly from the header block to the terminal phase
// when no body is expected (spec.md §4.2.1/§4.8: HEAD, 204, 304, 1xx).
func (d *Dispatcher) NoBody() error {
	if d.ph != phaseHeaders {
		return d.errf("NoBody")
	}
	d.ph = phaseDone
	return nil
}

// StartBody validates the single StartResponseBody call.
func (d *Dispatcher) StartBody() error {
	if d.ph != phaseHeaders {
		return d.errf("StartResponseBody")
	}
	d.ph = phaseBody
	d.bodySeen = true
	return nil
}

// BodyContent validates a ResponseBodyContent call.
func (d *Dispatcher) BodyContent() error {
	if d.ph != phaseBody {
		return d.errf("ResponseBodyContent")
	}
	return nil
}

// EndBody validates the single EndResponseBody call and opens the window
// for trailers.
func (d *Dispatcher) EndBody() error {
	if d.ph != phaseBody {
		return d.errf("EndResponseBody")
	}
	d.ph = phaseTrailers
	return nil
}

// Terminal validates the single terminal Close/Failed call, legal from any
// non-terminal phase (a transport failure can cut in at any point).
func (d *Dispatcher) Terminal() error {
	if d.ph == phaseDone {
		return d.errf("Close/Failed")
	}
	d.ph = phaseDone
	return nil
}

// IsDone reports whether the dispatcher is in its terminal phase: after
// Terminal, or after NoBody (which enters it without a terminal callback).
func (d *Dispatcher) IsDone() bool { return d.ph == phaseDone }
