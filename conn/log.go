package conn

// Logger receives diagnostic events from a Connection. It mirrors
// golang.org/x/net/http2.Transport's own Logf-style escape hatch: the
// teacher carries no logging package at all (github.com/WhileEndless/go-
// rawhttp prints nothing on its own), so rather than inventing a structured
// logging dependency unused anywhere else in the example pack, this follows
// the one logging convention the domain stack itself demonstrates — an
// optional, minimal interface with a silent default.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Warnf(string, ...any)  {}

// NoopLogger is the default Logger used when Options.Logger is nil.
var NoopLogger Logger = noopLogger{}
