// Package rpc defines the transport contract the benchmarking engine drives,
// the error taxonomy used to classify call failures, and the RequestAttempt
// record produced for every physical call.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Call is a single remote procedure invocation: a method name and its
// positional parameters.
type Call struct {
	// Method is the remote procedure name (e.g. "eth_blockNumber")
	Method string `json:"method" yaml:"method"`

	// Params are the positional parameters sent with the call
	Params []any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Transport performs one remote call against an endpoint.
//
// Implementations return nil on success, or an error describing the failure.
// Errors that are not an *Error are classified with Classify. The engine
// measures elapsed time around Invoke, so implementations do not report it.
type Transport interface {
	Invoke(ctx context.Context, endpoint string, call Call) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, endpoint string, call Call) error

// Invoke calls f.
func (f TransportFunc) Invoke(ctx context.Context, endpoint string, call Call) error {
	return f(ctx, endpoint, call)
}

// Kind classifies a call failure.
type Kind string

const (
	// KindTransient covers network failures such as resets and refused
	// connections. Always retryable.
	KindTransient Kind = "transient"

	// KindTimeout means the call did not complete within its deadline.
	// Always retryable.
	KindTimeout Kind = "timeout"

	// KindProtocol is a well-formed error response from the endpoint.
	// Retryable only when its code is configured retryable.
	KindProtocol Kind = "protocol"

	// KindFatal is a malformed request or invalid endpoint. Never retried,
	// and excludes the endpoint from further attempts.
	KindFatal Kind = "fatal"
)

// Error is a classified call failure.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient failure.
func Transient(err error) *Error {
	return &Error{Kind: KindTransient, Err: err}
}

// Timeout wraps err as a timeout.
func Timeout(err error) *Error {
	return &Error{Kind: KindTimeout, Err: err}
}

// Protocol builds a protocol error carrying the endpoint's error code.
func Protocol(code int, message string) *Error {
	return &Error{Kind: KindProtocol, Code: code, Message: message}
}

// Fatal builds a non-retryable configuration error.
func Fatal(code int, message string) *Error {
	return &Error{Kind: KindFatal, Code: code, Message: message}
}

// Classify converts any error returned by a Transport into an *Error.
//
// Context deadlines and network timeouts become KindTimeout; anything else
// that is not already classified is treated as transient.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Timeout(err)
	}

	return Transient(err)
}

// IsFatal reports whether err is classified as fatal.
func IsFatal(err error) bool {
	e := Classify(err)
	return e != nil && e.Kind == KindFatal
}
