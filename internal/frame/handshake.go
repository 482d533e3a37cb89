package frame

import (
	"github.com/cespare/xxhash/v2"

	"github.com/avrorpc/avrorpc/pkg/avro"
)

// MatchKind reports how a handshake's client and server protocols
// compared.
type MatchKind string

const (
	MatchBoth  MatchKind = "BOTH"  // hashes equal, no protocol text exchanged
	MatchClient MatchKind = "CLIENT" // server accepted client's protocol text
	MatchNone  MatchKind = "NONE"  // protocols are genuinely incompatible
)

// HandshakeRequest is sent by the client at the start of a channel (or,
// for stateless transports, prepended to every call). ClientProtocol is
// populated only on the first handshake of a channel; once the server
// has confirmed a match, the channel caches that fact and omits it on
// subsequent calls, sending only the hash.
type HandshakeRequest struct {
	ClientHash     uint64 `avro:"clientHash" json:"clientHash"`
	ClientProtocol string `avro:"clientProtocol" json:"clientProtocol"`
}

// HandshakeResponse is the server's reply. ServerProtocol is populated
// when Match is MatchClient or MatchNone so the client can compare or
// cache it; the UnknownProtocol flag carries the unknownProtocol failure
// signal.
type HandshakeResponse struct {
	Match            MatchKind `avro:"match" json:"match"`
	ServerProtocol   string    `avro:"serverProtocol" json:"serverProtocol"`
	ServerHash       uint64    `avro:"serverHash" json:"serverHash"`
	UnknownProtocol  bool      `avro:"unknownProtocol" json:"unknownProtocol"`
}

var (
	handshakeRequestType  = avro.NewType("org.avrorpc.HandshakeRequest", HandshakeRequest{})
	handshakeResponseType = avro.NewType("org.avrorpc.HandshakeResponse", HandshakeResponse{})
)

// ProtocolHash computes the handshake hash of a protocol document. Two
// protocol documents with the same hash are treated as identical for
// caching purposes.
func ProtocolHash(protocolDoc string) uint64 {
	return xxhash.Sum64String(protocolDoc)
}

// EncodeHandshakeRequest serializes a HandshakeRequest.
func EncodeHandshakeRequest(req *HandshakeRequest) ([]byte, error) {
	return handshakeRequestType.Encode(req)
}

// DecodeHandshakeRequest deserializes a HandshakeRequest.
func DecodeHandshakeRequest(data []byte) (*HandshakeRequest, error) {
	v, err := handshakeRequestType.Decode(data)
	if err != nil {
		return nil, err
	}
	return v.(*HandshakeRequest), nil
}

// EncodeHandshakeResponse serializes a HandshakeResponse.
func EncodeHandshakeResponse(resp *HandshakeResponse) ([]byte, error) {
	return handshakeResponseType.Encode(resp)
}

// DecodeHandshakeResponse deserializes a HandshakeResponse.
func DecodeHandshakeResponse(data []byte) (*HandshakeResponse, error) {
	v, err := handshakeResponseType.Decode(data)
	if err != nil {
		return nil, err
	}
	return v.(*HandshakeResponse), nil
}
