// Package protocol is the compiled representation of an Avro RPC protocol:
// Service, Message, and the Type slots each Message exposes for its
// request, response, and (declared-union) error payloads. Building a
// Service from an .avpr/.avdl document is the external schema/IDL layer's
// job (out of scope, per the runtime's scope note); this package only
// models what that layer is assumed to hand back.
package protocol

import (
	"fmt"

	"github.com/avrorpc/avrorpc/pkg/avro"
)

// Message is one RPC operation declared by a Service: its name, whether it
// is fire-and-forget (oneWay), and the three Type slots backing its
// request, response, and error payloads. ErrorType is nil for oneWay
// messages, which never produce a WrappedResponse.
type Message struct {
	name      string
	oneWay    bool
	request   *avro.Type
	response  *avro.Type
	errorType *avro.Type
}

// NewMessage compiles a Message descriptor. errorType may be nil for
// oneWay messages.
func NewMessage(name string, oneWay bool, request, response, errorType *avro.Type) *Message {
	return &Message{
		name:      name,
		oneWay:    oneWay,
		request:   request,
		response:  response,
		errorType: errorType,
	}
}

// Name returns the message's declared name.
func (m *Message) Name() string { return m.name }

// OneWay reports whether this message never produces a response.
func (m *Message) OneWay() bool { return m.oneWay }

// RequestType returns the Type backing this message's request record.
func (m *Message) RequestType() *avro.Type { return m.request }

// ResponseType returns the Type backing this message's response record.
// Nil for oneWay messages.
func (m *Message) ResponseType() *avro.Type { return m.response }

// ErrorType returns the Type backing this message's declared error union.
// Nil for oneWay messages.
func (m *Message) ErrorType() *avro.Type { return m.errorType }

// EncodeRequest serializes a request value to Avro binary.
func (m *Message) EncodeRequest(v any) ([]byte, error) {
	if m.request == nil {
		return nil, fmt.Errorf("protocol: message %s has no request type", m.name)
	}
	return m.request.Encode(v)
}

// DecodeRequest parses Avro binary data into a freshly allocated request
// value.
func (m *Message) DecodeRequest(data []byte) (any, error) {
	if m.request == nil {
		return nil, fmt.Errorf("protocol: message %s has no request type", m.name)
	}
	return m.request.Decode(data)
}

// EncodeResponse serializes a response value to Avro binary. Invalid for
// oneWay messages.
func (m *Message) EncodeResponse(v any) ([]byte, error) {
	if m.response == nil {
		return nil, fmt.Errorf("protocol: message %s has no response type (oneWay=%v)", m.name, m.oneWay)
	}
	return m.response.Encode(v)
}

// DecodeResponse parses Avro binary data into a freshly allocated response
// value.
func (m *Message) DecodeResponse(data []byte) (any, error) {
	if m.response == nil {
		return nil, fmt.Errorf("protocol: message %s has no response type (oneWay=%v)", m.name, m.oneWay)
	}
	return m.response.Decode(data)
}

// EncodeError serializes a declared application error value to Avro
// binary. Invalid for oneWay messages.
func (m *Message) EncodeError(v any) ([]byte, error) {
	if m.errorType == nil {
		return nil, fmt.Errorf("protocol: message %s has no error type (oneWay=%v)", m.name, m.oneWay)
	}
	return m.errorType.Encode(v)
}

// DecodeError parses Avro binary data into a freshly allocated error
// value.
func (m *Message) DecodeError(data []byte) (any, error) {
	if m.errorType == nil {
		return nil, fmt.Errorf("protocol: message %s has no error type (oneWay=%v)", m.name, m.oneWay)
	}
	return m.errorType.Decode(data)
}
