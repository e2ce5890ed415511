// Package errs provides structured error types for the connection engine.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorType represents the category of error that occurred.
type ErrorType string

const (
	ErrorTypeDNS        ErrorType = "dns"
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeTLS        ErrorType = "tls"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeProtocol   ErrorType = "protocol"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeStream represents a StreamError (local to one stream).
	ErrorTypeStream ErrorType = "stream"
	// ErrorTypeAuth represents an AuthenticationFailure.
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeCancelled represents a caller-initiated cancellation.
	ErrorTypeCancelled ErrorType = "cancelled"
	// ErrorTypeShutdown represents a GOAWAY-driven ServerShutdown.
	ErrorTypeShutdown ErrorType = "shutdown"
)

// Error is a structured error with context information, mirroring the
// taxonomy in spec.md §7.
type Error struct {
	Type      ErrorType
	Op        string
	Message   string
	Cause     error
	StreamID  uint32
	Timestamp time.Time
}

// TransportError is an alias kept for naming-convention compatibility.
type TransportError = Error

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.StreamID != 0 {
		parts = append(parts, fmt.Sprintf("stream=%d", e.StreamID))
	}
	errStr := strings.Join(parts, " ")
	if e.Message != "" {
		errStr += ": " + e.Message
	}
	if e.Cause != nil {
		errStr += ": " + e.Cause.Error()
	}
	return errStr
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Type == t.Type
	}
	return false
}

func new_(t ErrorType, op, msg string, cause error) *Error {
	return &Error{Type: t, Op: op, Message: msg, Cause: cause, Timestamp: time.Now()}
}

func NewDNSError(host string, cause error) *Error {
	return new_(ErrorTypeDNS, "lookup", fmt.Sprintf("DNS lookup failed for host %s", host), cause)
}

func NewConnectionError(addr string, cause error) *Error {
	return new_(ErrorTypeConnection, "dial", fmt.Sprintf("failed to connect to %s", addr), cause)
}

func NewTLSError(addr string, cause error) *Error {
	return new_(ErrorTypeTLS, "handshake", fmt.Sprintf("TLS handshake failed for %s", addr), cause)
}

func NewTimeoutError(op string, timeout time.Duration) *Error {
	return new_(ErrorTypeTimeout, op, fmt.Sprintf("operation timed out after %v", timeout), nil)
}

func NewProtocolError(msg string, cause error) *Error {
	return new_(ErrorTypeProtocol, "parse", msg, cause)
}

func NewStreamError(streamID uint32, msg string, cause error) *Error {
	e := new_(ErrorTypeStream, "stream", msg, cause)
	e.StreamID = streamID
	return e
}

func NewAuthError(msg string, cause error) *Error {
	return new_(ErrorTypeAuth, "auth", msg, cause)
}

func NewShutdownError(msg string) *Error {
	return new_(ErrorTypeShutdown, "goaway", msg, nil)
}

func NewCancelledError(streamID uint32) *Error {
	e := new_(ErrorTypeCancelled, "cancel", "stream cancelled by caller", nil)
	e.StreamID = streamID
	return e
}

func NewIOError(op string, cause error) *Error {
	o := op
	low := strings.ToLower(op)
	if strings.Contains(low, "read") {
		o = "read"
	} else if strings.Contains(low, "writ") {
		o = "write"
	}
	return new_(ErrorTypeIO, o, fmt.Sprintf("I/O error during %s", op), cause)
}

func NewValidationError(msg string) *Error {
	return new_(ErrorTypeValidation, "validate", msg, nil)
}

func IsTimeoutError(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Type == ErrorTypeTimeout
	}
	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func IsTemporaryError(err error) bool {
	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}
	return false
}

func GetErrorType(err error) ErrorType {
	if e, ok := err.(*Error); ok {
		return e.Type
	}
	return ""
}

func IsContextCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func IsContextTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
