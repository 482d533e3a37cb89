package transport

import (
	"context"
	"sync"
)

// DialFunc opens one fresh Exchange for a single call. Stateless adapters
// re-handshake on every call, so DialFunc is invoked once per Open.
type DialFunc func(ctx context.Context) (Exchange, error)

// Stateless adapts a per-call dialer (a fresh TCP connection, one HTTP
// POST round trip) into the Adapter surface. Every Open call produces a
// brand-new Exchange; nothing is shared across calls.
type Stateless struct {
	dial       DialFunc
	objectMode bool

	mu     sync.Mutex
	closed bool
}

// NewStateless builds a Stateless adapter around dial.
func NewStateless(dial DialFunc, objectMode bool) *Stateless {
	return &Stateless{dial: dial, objectMode: objectMode}
}

// Stateful always reports false.
func (s *Stateless) Stateful() bool { return false }

// ObjectMode reports whether each dialed Exchange carries whole records.
func (s *Stateless) ObjectMode() bool { return s.objectMode }

// Open dials a fresh Exchange for this call.
func (s *Stateless) Open(ctx context.Context) (Exchange, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errClosed
	}
	return s.dial(ctx)
}

// Close marks the adapter closed. Stateless adapters hold no shared
// connection, so there is nothing else to release.
func (s *Stateless) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
