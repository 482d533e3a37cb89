package frame

import "testing"

func TestProtocolHashStableAndDistinguishing(t *testing.T) {
	a := ProtocolHash(`{"protocol":"Math"}`)
	b := ProtocolHash(`{"protocol":"Math"}`)
	c := ProtocolHash(`{"protocol":"Other"}`)

	if a != b {
		t.Error("expected identical protocol documents to hash identically")
	}
	if a == c {
		t.Error("expected different protocol documents to hash differently")
	}
}

func TestHandshakeRequestRoundTrip(t *testing.T) {
	req := &HandshakeRequest{ClientHash: ProtocolHash("doc"), ClientProtocol: "doc"}

	encoded, err := EncodeHandshakeRequest(req)
	if err != nil {
		t.Fatalf("EncodeHandshakeRequest: %v", err)
	}
	decoded, err := DecodeHandshakeRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeHandshakeRequest: %v", err)
	}
	if decoded.ClientHash != req.ClientHash || decoded.ClientProtocol != req.ClientProtocol {
		t.Errorf("got %+v, want %+v", decoded, req)
	}
}

func TestHandshakeResponseRoundTrip(t *testing.T) {
	resp := &HandshakeResponse{Match: MatchBoth, ServerHash: 42}

	encoded, err := EncodeHandshakeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeHandshakeResponse: %v", err)
	}
	decoded, err := DecodeHandshakeResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeHandshakeResponse: %v", err)
	}
	if decoded.Match != MatchBoth || decoded.ServerHash != 42 {
		t.Errorf("got %+v, want %+v", decoded, resp)
	}
}

func TestHandshakeResponseUnknownProtocolFlag(t *testing.T) {
	resp := &HandshakeResponse{Match: MatchNone, UnknownProtocol: true}

	encoded, err := EncodeHandshakeResponse(resp)
	if err != nil {
		t.Fatalf("EncodeHandshakeResponse: %v", err)
	}
	decoded, err := DecodeHandshakeResponse(encoded)
	if err != nil {
		t.Fatalf("DecodeHandshakeResponse: %v", err)
	}
	if !decoded.UnknownProtocol {
		t.Error("expected UnknownProtocol to round-trip true")
	}
}
