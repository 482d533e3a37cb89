// Package rpcerr defines the error taxonomy shared by every layer of the
// RPC runtime: transport, handshake, codec, application, system,
// middleware, and tracing failures all surface as a *RPCError carrying a
// Kind, so callers can classify a failure with errors.As without string
// matching.
package rpcerr

import "fmt"

// Kind classifies where and how an error originated.
type Kind string

const (
	KindTransport  Kind = "transport"
	KindHandshake  Kind = "handshake"
	KindCodec      Kind = "codec"
	KindApplication Kind = "application"
	KindSystem     Kind = "system"
	KindMiddleware Kind = "middleware"
	KindTracing    Kind = "tracing"
)

// RPCError is the concrete error type carried through the pipeline.
// Origin holds the underlying cause, if any, for errors.Unwrap.
type RPCError struct {
	Kind    Kind
	Message string
	Origin  error
}

// New builds an *RPCError with no wrapped cause.
func New(kind Kind, message string) *RPCError {
	return &RPCError{Kind: kind, Message: message}
}

// Wrap builds an *RPCError that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *RPCError {
	return &RPCError{Kind: kind, Message: message, Origin: cause}
}

func (e *RPCError) Error() string {
	if e.Origin != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Origin)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RPCError) Unwrap() error { return e.Origin }

// Is reports whether target is an *RPCError of the same Kind, supporting
// errors.Is(err, rpcerr.New(rpcerr.KindTransport, "")) style sentinel
// checks in addition to errors.As.
func (e *RPCError) Is(target error) bool {
	other, ok := target.(*RPCError)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}
