package avro

import "testing"

type negRequest struct {
	N int32 `avro:"n" json:"n"`
}

type negResponse struct {
	Result int32 `avro:"result" json:"result"`
}

func TestTypeEncodeDecodeRoundTrip(t *testing.T) {
	reqType := NewType("neg.request", negRequest{})

	encoded, err := reqType.Encode(&negRequest{N: 10})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := reqType.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	req, ok := decoded.(*negRequest)
	if !ok {
		t.Fatalf("expected *negRequest, got %T", decoded)
	}
	if req.N != 10 {
		t.Errorf("got N=%d, want 10", req.N)
	}
}

func TestTypeToStringFromStringRoundTrip(t *testing.T) {
	respType := NewType("neg.response", negResponse{})

	s, err := respType.ToString(&negResponse{Result: -10})
	if err != nil {
		t.Fatalf("ToString: %v", err)
	}
	const want = `{"result":-10}`
	if s != want {
		t.Errorf("got %q, want %q", s, want)
	}

	decoded, err := respType.FromString(s)
	if err != nil {
		t.Fatalf("FromString: %v", err)
	}
	resp, ok := decoded.(*negResponse)
	if !ok {
		t.Fatalf("expected *negResponse, got %T", decoded)
	}
	if resp.Result != -10 {
		t.Errorf("got Result=%d, want -10", resp.Result)
	}
}

func TestTypeNewAllocatesZeroValue(t *testing.T) {
	reqType := NewType("neg.request", negRequest{})
	v := reqType.New()
	req, ok := v.(*negRequest)
	if !ok {
		t.Fatalf("expected *negRequest, got %T", v)
	}
	if req.N != 0 {
		t.Errorf("got N=%d, want 0", req.N)
	}
}

func TestApplicationErrorIsError(t *testing.T) {
	var err error = NewApplicationError("boom")
	if err.Error() != "boom" {
		t.Errorf("got %q, want %q", err.Error(), "boom")
	}
}
