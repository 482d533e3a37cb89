package avro

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/aacfactory/avro"
)

// Type is the compiled representation of one Avro type occupying a
// Message's requestType, responseType, or errorType slot. The external
// schema/IDL layer is responsible for producing Types from a protocol
// document (out of scope here); Type only knows how to move values of its
// underlying Go struct to and from the Avro binary wire format (Encode/
// Decode) and the Avro-JSON textual form used by the proxy's avro/json
// mode (ToString/FromString).
type Type struct {
	name   string
	goType reflect.Type
}

// NewType compiles a Type from its declared name and a representative
// (possibly zero) Go value of its shape.
func NewType(name string, sample any) *Type {
	t := reflect.TypeOf(sample)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return &Type{name: name, goType: t}
}

// Name returns the type's declared Avro name.
func (t *Type) Name() string { return t.name }

// New allocates a fresh zero value of this Type's Go representation,
// returned as a pointer.
func (t *Type) New() any {
	return reflect.New(t.goType).Interface()
}

// Encode serializes v to Avro binary. v must be a pointer to, or a value
// of, this Type's underlying Go struct.
func (t *Type) Encode(v any) ([]byte, error) {
	b, err := avro.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("avro: encode %s: %w", t.name, err)
	}
	return b, nil
}

// Decode parses Avro binary data into a freshly allocated value of this
// Type and returns it as a pointer.
func (t *Type) Decode(data []byte) (any, error) {
	v := t.New()
	if err := avro.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("avro: decode %s: %w", t.name, err)
	}
	return v, nil
}

// ToString renders v as Avro-JSON text, the form the proxy's avro/json
// mode exchanges over HTTP.
func (t *Type) ToString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("avro: stringify %s: %w", t.name, err)
	}
	return string(b), nil
}

// FromString parses Avro-JSON text into a freshly allocated value of this
// Type and returns it as a pointer.
func (t *Type) FromString(s string) (any, error) {
	v := t.New()
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return nil, fmt.Errorf("avro: parse %s: %w", t.name, err)
	}
	return v, nil
}

// ApplicationError is the concrete Go shape backing a message's declared
// errorType union `{string, ...user error variants}`. The zero Variant
// represents the bare string-message branch of the union; Variant
// identifies one of the message's declared error records, with Detail
// carrying that record's own Avro-JSON encoding.
type ApplicationError struct {
	Message string          `avro:"message" json:"message"`
	Variant string          `avro:"variant" json:"variant,omitempty"`
	Detail  json.RawMessage `avro:"detail" json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *ApplicationError) Error() string { return e.Message }

// NewApplicationError builds the bare string-message branch of the error
// union.
func NewApplicationError(message string) *ApplicationError {
	return &ApplicationError{Message: message}
}
