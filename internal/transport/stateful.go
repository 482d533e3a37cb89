package transport

import (
	"context"
	"sync"
)

// Stateful wraps a single long-lived duplex (a TCP/TLS connection, one
// half of an in-memory socketpair, a WebSocket connection) that outlives
// any one call. Each call's request carries a handshake record (with the
// protocol text only until the server has accepted it), and many calls
// are multiplexed over the same Exchange — Open
// hands back the same underlying Exchange on every call rather than
// dialing anew; serializing concurrent writes onto it is the Channel's
// job (per the concurrency model, each Channel serializes its own
// send/receive).
type Stateful struct {
	mu         sync.Mutex
	exchange   Exchange
	objectMode bool
	closed     bool
}

// NewStateful builds a Stateful adapter around an already-established
// duplex.
func NewStateful(exchange Exchange, objectMode bool) *Stateful {
	return &Stateful{exchange: exchange, objectMode: objectMode}
}

// Stateful always reports true.
func (s *Stateful) Stateful() bool { return true }

// ObjectMode reports whether the wrapped duplex exchanges whole records.
func (s *Stateful) ObjectMode() bool { return s.objectMode }

// Open returns the shared Exchange. It may be called concurrently by
// multiple in-flight calls; the Channel is responsible for correlating
// responses by call id rather than by call order.
func (s *Stateful) Open(_ context.Context) (Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errClosed
	}
	return s.exchange, nil
}

// Close releases the wrapped duplex. Safe to call more than once.
func (s *Stateful) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.exchange.Close()
}
