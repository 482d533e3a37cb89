package rpc

import (
	"github.com/avrorpc/avrorpc/internal/protocol"
)

// HeaderEntry is one key/value pair of a Headers map as it travels on
// the wire: Avro has no native map-of-bytes primitive in the shape this
// runtime needs, so headers serialize as an array of entries, mirroring
// how the surrounding ecosystem represents attachment-style metadata.
type HeaderEntry struct {
	Key   string `avro:"key" json:"key"`
	Value []byte `avro:"value" json:"value"`
}

// Headers is the mutable header map carried by WrappedRequest and
// WrappedResponse. Entries travel on the wire in the order Each visits
// them.
type Headers struct {
	entries []HeaderEntry
}

// NewHeaders builds an empty Headers map.
func NewHeaders() *Headers {
	return &Headers{}
}

// headersFromEntries rebuilds a Headers map from its wire representation.
func headersFromEntries(entries []HeaderEntry) *Headers {
	return &Headers{entries: entries}
}

// entriesForWire returns the wire representation.
func (h *Headers) entriesForWire() []HeaderEntry {
	if h == nil {
		return nil
	}
	return h.entries
}

// Get returns the raw bytes stored under key, and whether it was present.
func (h *Headers) Get(key string) ([]byte, bool) {
	if h == nil {
		return nil, false
	}
	for _, e := range h.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Set stores value under key, overwriting any existing entry.
func (h *Headers) Set(key string, value []byte) {
	for i, e := range h.entries {
		if e.Key == key {
			h.entries[i].Value = value
			return
		}
	}
	h.entries = append(h.entries, HeaderEntry{Key: key, Value: value})
}

// Each invokes fn once per header entry, in Set order. Used by callers
// that need to externalize a Headers map wholesale, such as the proxy's
// avro/json POST mode rendering response headers back to JSON text.
func (h *Headers) Each(fn func(key string, value []byte)) {
	if h == nil {
		return
	}
	for _, e := range h.entries {
		fn(e.Key, e.Value)
	}
}

// Delete removes key, if present.
func (h *Headers) Delete(key string) {
	for i, e := range h.entries {
		if e.Key == key {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			return
		}
	}
}

// WrappedRequest is the per-call envelope middleware observes on the way
// in: the decoded request record plus a mutable header map.
type WrappedRequest struct {
	Message *protocol.Message
	Request any
	Headers *Headers
	Ctx     *CallContext
}

// WrappedResponse is the per-call envelope middleware observes on the way
// out. Exactly one of Response or Err is set once the terminal handler
// has run, unless Message.OneWay(), in which case neither is ever
// produced.
type WrappedResponse struct {
	Response any
	Err      error
	Headers  *Headers
}

// CallContext is the per-call object visible to middleware and handlers
// as the implicit receiver: a scratch space (Locals) plus identifying
// information about the call in flight.
type CallContext struct {
	Locals  map[string]any
	Message *protocol.Message
	Channel *Channel
}

// NewCallContext builds a CallContext for one call on channel.
func NewCallContext(message *protocol.Message, channel *Channel) *CallContext {
	return &CallContext{
		Locals:  make(map[string]any),
		Message: message,
		Channel: channel,
	}
}
