// Package avro provides the wire-level building blocks shared by every
// layer of the RPC runtime: the binary codec wrapping the external Avro
// marshaler, and the recursive Trace record that rides in call headers.
package avro

import (
	"sync"
	"time"

	"github.com/aacfactory/avro"
	"github.com/google/uuid"
)

// CallState is the lifecycle state of one traced call.
type CallState string

const (
	// CallPending marks a call whose response has not yet arrived.
	CallPending CallState = "PENDING"
	// CallError marks a call that failed, locally or downstream.
	CallError CallState = "ERROR"
	// CallSuccess marks a call that completed without error.
	CallSuccess CallState = "SUCCESS"
	// CallOneWay marks a call with no response leg at all.
	CallOneWay CallState = "ONE_WAY"
)

// Call is one node in a Trace's call tree.
//
//	Call = { state, name, requestTime, responseTime: union{null,timestamp},
//	         downstreamCalls: array<Call> }
type Call struct {
	State           CallState  `avro:"state" json:"state"`
	Name            string     `avro:"name" json:"name"`
	RequestTime     time.Time  `avro:"requestTime" json:"requestTime"`
	ResponseTime    *time.Time `avro:"responseTime" json:"responseTime"`
	DownstreamCalls []Call     `avro:"downstreamCalls" json:"downstreamCalls"`
}

// Pending reports whether this call is still awaiting a response.
// responseTime is null iff state is PENDING (ONE_WAY may also be null
// before dispatch completes).
func (c *Call) Pending() bool {
	return c.ResponseTime == nil && c.State == CallPending
}

// Trace is the recursive record propagated across a call graph.
//
//	Trace = { uuid: fixed[16], calls: array<Call> }
//
// mu guards Calls: a fan-out point appends one Call per downstream branch,
// and those branches finish concurrently, so both the append and the
// index-addressed write in FinishCall must be serialized against each
// other.
type Trace struct {
	UUID  [16]byte `avro:"uuid" json:"uuid"`
	Calls []Call   `avro:"calls" json:"calls"`

	mu sync.Mutex
}

// NewTrace creates a Trace with a fresh random uuid and no calls.
func NewTrace() (*Trace, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	var arr [16]byte
	copy(arr[:], id[:])
	return &Trace{UUID: arr}, nil
}

// Outbound returns the wire-economy form sent on an outgoing request: only
// the uuid survives, calls is always empty.
func (t *Trace) Outbound() *Trace {
	return &Trace{UUID: t.UUID}
}

// Append adds a new Call to the trace's root call list and returns its
// index. The index, not a pointer into Calls, is what callers must hold
// onto across the call's lifetime: a sibling fan-out call appending to
// the same Trace before this one finishes can reallocate the backing
// array, stranding any earlier pointer on an orphaned copy. Pass the
// index to FinishCall once the response leg completes.
func (t *Trace) Append(name string, oneWay bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := CallPending
	if oneWay {
		state = CallOneWay
	}
	t.Calls = append(t.Calls, Call{
		State:       state,
		Name:        name,
		RequestTime: time.Now().UTC(),
	})
	return len(t.Calls) - 1
}

// FinishCall marks the response leg of the call at index i complete,
// setting state from err. i must come from this Trace's own prior
// Append. Locked against concurrent Append/FinishCall calls from
// sibling fan-out branches sharing the same Trace.
func (t *Trace) FinishCall(i int, err bool, downstream []Call) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &t.Calls[i]
	now := time.Now().UTC()
	c.ResponseTime = &now
	c.DownstreamCalls = downstream
	if err {
		c.State = CallError
	} else {
		c.State = CallSuccess
	}
}

// EncodeTrace serializes a Trace to Avro binary.
func EncodeTrace(t *Trace) ([]byte, error) {
	return avro.Marshal(t)
}

// DecodeTrace parses Avro binary data into a Trace.
func DecodeTrace(data []byte) (*Trace, error) {
	var t Trace
	if err := avro.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
