package avro

import "testing"

func TestNewTraceRandomUUID(t *testing.T) {
	a, err := NewTrace()
	if err != nil {
		t.Fatalf("NewTrace: %v", err)
	}
	b, err := NewTrace()
	if err != nil {
		t.Fatalf("NewTrace: %v", err)
	}

	if a.UUID == b.UUID {
		t.Error("expected distinct random uuids")
	}
	if len(a.Calls) != 0 {
		t.Error("expected no calls on a fresh trace")
	}
}

func TestTraceOutboundDropsCalls(t *testing.T) {
	tr, err := NewTrace()
	if err != nil {
		t.Fatalf("NewTrace: %v", err)
	}
	tr.Append("neg", false)
	if len(tr.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(tr.Calls))
	}

	out := tr.Outbound()
	if out.UUID != tr.UUID {
		t.Error("outbound form must keep the uuid")
	}
	if len(out.Calls) != 0 {
		t.Error("outbound form must drop calls")
	}
}

func TestCallAppendStates(t *testing.T) {
	tr, err := NewTrace()
	if err != nil {
		t.Fatalf("NewTrace: %v", err)
	}

	twoWay := tr.Append("neg", false)
	if tr.Calls[twoWay].State != CallPending {
		t.Errorf("got state %v, want PENDING", tr.Calls[twoWay].State)
	}
	if !tr.Calls[twoWay].Pending() {
		t.Error("expected two-way call to be pending")
	}

	oneWay := tr.Append("log", true)
	if tr.Calls[oneWay].State != CallOneWay {
		t.Errorf("got state %v, want ONE_WAY", tr.Calls[oneWay].State)
	}
	if tr.Calls[oneWay].Pending() {
		t.Error("one-way call should not report Pending()")
	}
}

func TestCallFinishSetsResponseTimeAndState(t *testing.T) {
	tr, err := NewTrace()
	if err != nil {
		t.Fatalf("NewTrace: %v", err)
	}
	call := tr.Append("neg", false)

	tr.FinishCall(call, false, nil)
	if tr.Calls[call].ResponseTime == nil {
		t.Fatal("expected responseTime to be set")
	}
	if tr.Calls[call].State != CallSuccess {
		t.Errorf("got state %v, want SUCCESS", tr.Calls[call].State)
	}

	call2 := tr.Append("bar", false)
	tr.FinishCall(call2, true, []Call{{State: CallSuccess, Name: "baz"}})
	if tr.Calls[call2].State != CallError {
		t.Errorf("got state %v, want ERROR", tr.Calls[call2].State)
	}
	if len(tr.Calls[call2].DownstreamCalls) != 1 {
		t.Errorf("expected 1 downstream call, got %d", len(tr.Calls[call2].DownstreamCalls))
	}
}

func TestCallAppendIndexSurvivesSiblingReallocation(t *testing.T) {
	tr, err := NewTrace()
	if err != nil {
		t.Fatalf("NewTrace: %v", err)
	}

	first := tr.Append("first", false)
	// Force the backing array to grow well past the point where a
	// naive pointer into Calls would be left pointing at a stale copy.
	for i := 0; i < 32; i++ {
		tr.Append("sibling", false)
	}

	tr.FinishCall(first, false, []Call{{State: CallSuccess, Name: "child"}})
	if tr.Calls[first].Name != "first" {
		t.Fatalf("index drifted: got name %q, want %q", tr.Calls[first].Name, "first")
	}
	if tr.Calls[first].State != CallSuccess {
		t.Errorf("got state %v, want SUCCESS", tr.Calls[first].State)
	}
	if len(tr.Calls[first].DownstreamCalls) != 1 {
		t.Errorf("expected 1 downstream call, got %d", len(tr.Calls[first].DownstreamCalls))
	}
}

func TestEncodeDecodeTraceRoundTrip(t *testing.T) {
	tr, err := NewTrace()
	if err != nil {
		t.Fatalf("NewTrace: %v", err)
	}
	call := tr.Append("neg", false)
	tr.FinishCall(call, false, []Call{{State: CallSuccess, Name: "bar"}})

	buf, err := EncodeTrace(tr)
	if err != nil {
		t.Fatalf("EncodeTrace: %v", err)
	}

	decoded, err := DecodeTrace(buf)
	if err != nil {
		t.Fatalf("DecodeTrace: %v", err)
	}

	if decoded.UUID != tr.UUID {
		t.Error("uuid not preserved across round trip")
	}
	if len(decoded.Calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(decoded.Calls))
	}
	if decoded.Calls[0].Name != tr.Calls[0].Name {
		t.Errorf("got name %q, want %q", decoded.Calls[0].Name, tr.Calls[0].Name)
	}
	if decoded.Calls[0].State != tr.Calls[0].State {
		t.Errorf("got state %v, want %v", decoded.Calls[0].State, tr.Calls[0].State)
	}
	if len(decoded.Calls[0].DownstreamCalls) != 1 {
		t.Errorf("expected 1 downstream call, got %d", len(decoded.Calls[0].DownstreamCalls))
	}
}

func TestDecodeTraceMalformed(t *testing.T) {
	if _, err := DecodeTrace([]byte{0xff, 0xff, 0xff}); err == nil {
		t.Error("expected error decoding malformed trace bytes")
	}
}
