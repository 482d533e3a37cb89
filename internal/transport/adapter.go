// Package transport wraps a stateless or stateful duplex (byte or object
// mode) into the uniform send/receive surface a Channel drives: begin a
// frame sequence, write N frames, read the response frame sequence.
package transport

import (
	"context"
	"io"
)

// Exchange is one call's write-then-read session against an Adapter. In
// byte mode, Write/Read move raw length-prefixed Avro frame segments; in
// object mode (ObjectMode() == true on the owning Adapter), every Write
// call must carry exactly one whole record and every Read call returns
// exactly one whole record — callers must not split or coalesce across
// calls.
type Exchange interface {
	io.Writer
	io.Reader
	// CloseWrite signals that no more request bytes follow, without
	// closing the read half. Stateless transports use this to flush a
	// sink (e.g. ending an HTTP request body) and unblock the response;
	// stateful transports may treat it as a no-op since one duplex
	// carries many calls.
	CloseWrite() error
	// Close releases the exchange's resources.
	Close() error
}

// Adapter normalizes a stateless or stateful transport into the surface a
// Channel drives.
type Adapter interface {
	// Stateful reports whether one handshake covers many calls (true)
	// or whether each call re-handshakes (false, the stateless case).
	Stateful() bool
	// ObjectMode reports whether the Exchanges this Adapter hands back
	// preserve whole-record boundaries themselves (e.g. one WebSocket
	// message per frame sequence) rather than requiring the
	// length-prefix framing internal/frame falls back to over a
	// continuous byte stream. When true, every Exchange from Open must
	// implement frame.ObjectWriter and frame.ObjectReader — the Channel
	// enforces this at construction and at each stateless dial.
	ObjectMode() bool
	// Open begins one call's request/response exchange. Stateless
	// adapters dial a fresh connection per call; stateful adapters
	// return a view onto one shared duplex and may be called again
	// concurrently to pipeline calls — serializing concurrent writes
	// onto that shared duplex is the Channel's responsibility, not the
	// Adapter's.
	Open(ctx context.Context) (Exchange, error)
	// Close releases the adapter's underlying connection(s).
	Close() error
}
