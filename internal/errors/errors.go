package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"
)

// Handshake failure kinds. Both are terminal: the connection must be closed
// without a response. Wrap them with %w so callers can classify via errors.Is.
var (
	// ErrUnsupportedVersion is reported when the peer announces a version
	// below the minimum supported one.
	ErrUnsupportedVersion = stdErrors.New("unsupported version")
	// ErrProtocolViolation covers every structural or content mismatch
	// (reserved bytes, version above maximum, epoch or nonce echo mismatch).
	ErrProtocolViolation = stdErrors.New("protocol violation")
)

// protocolMarker is implemented by all protocol-layer error types so we can classify them.
type protocolMarker interface {
	error
	isProtocol()
}

// ProtocolError is a generic RTMP protocol layer error (validation, state, etc).
type ProtocolError struct {
	Op  string // high-level operation (e.g. "state.transition", "pipeline.dispatch")
	Err error  // underlying cause (may be nil)
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("protocol error: %s", e.Op)
	}
	return fmt.Sprintf("protocol error: %s: %v", e.Op, e.Err)
}
func (e *ProtocolError) Unwrap() error { return e.Err }
func (e *ProtocolError) isProtocol()   {}

// HandshakeError indicates an RTMP handshake violation or failure.
type HandshakeError struct {
	Op  string
	Err error
}

func (e *HandshakeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("handshake error: %s", e.Op)
	}
	return fmt.Sprintf("handshake error: %s: %v", e.Op, e.Err)
}
func (e *HandshakeError) Unwrap() error { return e.Err }
func (e *HandshakeError) isProtocol()   {}

// TimeoutError indicates an operation exceeded a deadline or idle timeout.
type TimeoutError struct {
	Op       string
	Duration time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (after %s)", e.Op, e.Duration)
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}
func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeout returns true if err is (or wraps) a TimeoutError, a context deadline exceeded,
// or any error type that exposes Timeout() bool and returns true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if stdErrors.As(err, &te) {
		return true
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toErr interface{ Timeout() bool }
	if stdErrors.As(err, &toErr) && toErr.Timeout() {
		return true
	}
	return false
}

// IsProtocolError returns true if the error chain contains any protocol-layer
// error (ProtocolError, HandshakeError).
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	var pm protocolMarker
	return stdErrors.As(err, &pm)
}

// IsUnsupportedVersion reports whether err carries ErrUnsupportedVersion.
func IsUnsupportedVersion(err error) bool { return stdErrors.Is(err, ErrUnsupportedVersion) }

// IsProtocolViolation reports whether err carries ErrProtocolViolation.
func IsProtocolViolation(err error) bool { return stdErrors.Is(err, ErrProtocolViolation) }

// Reason maps an error to a short, stable label for metrics and hook events.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsUnsupportedVersion(err):
		return "unsupported_version"
	case IsProtocolViolation(err):
		return "protocol_violation"
	case IsTimeout(err):
		return "timeout"
	case stdErrors.Is(err, context.Canceled):
		return "canceled"
	case IsProtocolError(err):
		return "protocol"
	}
	return "io"
}

// Constructors (encourage contextual wrapping with %w when used by callers).
func NewProtocolError(op string, cause error) error  { return &ProtocolError{Op: op, Err: cause} }
func NewHandshakeError(op string, cause error) error { return &HandshakeError{Op: op, Err: cause} }
func NewTimeoutError(op string, d time.Duration, cause error) error {
	return &TimeoutError{Op: op, Duration: d, Err: cause}
}

// Usage pattern example:
//  if v < MinVersion {
//      return NewHandshakeError("hello.version", fmt.Errorf("%w: 0x%02x", ErrUnsupportedVersion, v))
//  }
// Keep layering context with fmt.Errorf("...: %w", err).
