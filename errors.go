package signalr

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectTimeout is the cause of a ConnectionError when the socket could not be opened in time.
	ErrConnectTimeout = errors.New("timeout")
	// ErrNotConnected is returned when an invocation is started on a client that is not Ready.
	ErrNotConnected = errors.New("client is not connected")
	// ErrNullResult is returned by InvokeAs when the server completed without a result.
	ErrNullResult = errors.New("response body from server is null")
	// errConnectionLost is the cause of requests failed by a disconnect.
	errConnectionLost = errors.New("connection lost before the server answered")
)

// ConnectionError is returned when the socket could not be opened or written.
// The client is left disconnected.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("signalr %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// HandshakeError is a ConnectionError raised while sending the protocol handshake.
type HandshakeError struct {
	ConnectionError
}

func newHandshakeError(err error) *HandshakeError {
	return &HandshakeError{ConnectionError{Op: "handshake", Err: err}}
}

// As allows errors.As(err, **ConnectionError) to match a HandshakeError.
func (e *HandshakeError) As(target interface{}) bool {
	if t, ok := target.(**ConnectionError); ok {
		*t = &e.ConnectionError
		return true
	}
	return false
}

// RequestFailedError is returned to the caller of a single invocation when
// the server answered it with an error, or when the connection was lost
// before an answer arrived. Message is empty in the latter case.
type RequestFailedError struct {
	InvocationID string
	Message      string
	cause        error
}

func (e *RequestFailedError) Error() string {
	if e.Message == "" {
		if e.cause != nil {
			return fmt.Sprintf("request %s failed: %v", e.InvocationID, e.cause)
		}
		return fmt.Sprintf("request %s failed", e.InvocationID)
	}
	return e.Message
}

func (e *RequestFailedError) Unwrap() error {
	return e.cause
}

// ProtocolError describes a frame the client could not make sense of.
type ProtocolError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ProtocolError) Error() string {
	s := e.Reason
	if e.Err != nil {
		s = fmt.Sprintf("%s: %v", s, e.Err)
	}
	if e.Raw != "" {
		s = fmt.Sprintf("%s (source: %s)", s, e.Raw)
	}
	return s
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// MisuseError reports a call sequence the client does not allow,
// e.g. waiting for the result of an invocation which was never sent.
type MisuseError struct {
	Message string
}

func (e *MisuseError) Error() string {
	return e.Message
}

// ConfigError is returned by the builder and the options when the configuration is invalid.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
