package stream

import "testing"

func TestDispatcherHappyPathWithBody(t *testing.T) {
	d := NewDispatcher(1)
	if err := d.Head(); err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if err := d.Header(); err != nil {
		t.Fatalf("Header() error = %v", err)
	}
	if err := d.StartBody(); err != nil {
		t.Fatalf("StartBody() error = %v", err)
	}
	if err := d.BodyContent(); err != nil {
		t.Fatalf("BodyContent() error = %v", err)
	}
	if err := d.EndBody(); err != nil {
		t.Fatalf("EndBody() error = %v", err)
	}
	if err := d.Header(); err != nil {
		t.Fatalf("trailer Header() error = %v", err)
	}
	if err := d.Terminal(); err != nil {
		t.Fatalf("Terminal() error = %v", err)
	}
	if !d.IsDone() {
		t.Fatalf("IsDone() = false after Terminal()")
	}
}

func TestDispatcherHappyPathNoBody(t *testing.T) {
	d := NewDispatcher(1)
	if err := d.Head(); err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if err := d.Header(); err != nil {
		t.Fatalf("Header() error = %v", err)
	}
	if err := d.NoBody(); err != nil {
		t.Fatalf("NoBody() error = %v", err)
	}
	if !d.IsDone() {
		t.Fatalf("IsDone() = false after NoBody()")
	}
	if err := d.Terminal(); err == nil {
		t.Fatalf("Terminal() after NoBody() should fail, already done")
	}
}

func TestDispatcherRejectsHeaderBeforeHead(t *testing.T) {
	d := NewDispatcher(1)
	if err := d.Header(); err == nil {
		t.Fatalf("Header() before Head() should fail")
	}
}

func TestDispatcherRejectsDoubleHead(t *testing.T) {
	d := NewDispatcher(1)
	if err := d.Head(); err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if err := d.Head(); err == nil {
		t.Fatalf("second Head() should fail")
	}
}

func TestDispatcherRejectsBodyContentBeforeStartBody(t *testing.T) {
	d := NewDispatcher(1)
	_ = d.Head()
	if err := d.BodyContent(); err == nil {
		t.Fatalf("BodyContent() before StartBody() should fail")
	}
}

func TestDispatcherRejectsStartBodyAfterEndBody(t *testing.T) {
	d := NewDispatcher(1)
	_ = d.Head()
	_ = d.StartBody()
	_ = d.EndBody()
	if err := d.StartBody(); err == nil {
		t.Fatalf("StartBody() must be callable only once")
	}
}

func TestDispatcherTerminalValidFromAnyNonTerminalPhase(t *testing.T) {
	d := NewDispatcher(1)
	_ = d.Head()
	_ = d.Header()
	if err := d.Terminal(); err != nil {
		t.Fatalf("Terminal() from phaseHeaders error = %v", err)
	}
	if err := d.Terminal(); err == nil {
		t.Fatalf("second Terminal() should fail, already done")
	}
}
