package protocol

import (
	"fmt"

	"github.com/avrorpc/avrorpc/pkg/avro"
)

// Service is a compiled Avro protocol: a canonical name, the raw protocol
// document it was built from, an ordered mapping from message name to
// Message, and a mapping from type name to Type for named types the
// protocol declares independent of any one message. A Service is
// immutable once constructed — NewService is the only write path.
type Service struct {
	name     string
	protocol string
	order    []string
	messages map[string]*Message
	types    map[string]*avro.Type
}

// NewService compiles a Service from its canonical name, the raw protocol
// document (retained verbatim for introspection, e.g. the out-of-scope
// `info` CLI command), its messages, and any named types the protocol
// declares.
func NewService(name, protocolDoc string, messages []*Message, types []*avro.Type) (*Service, error) {
	if name == "" {
		return nil, fmt.Errorf("protocol: service name is required")
	}
	svc := &Service{
		name:     name,
		protocol: protocolDoc,
		messages: make(map[string]*Message, len(messages)),
		types:    make(map[string]*avro.Type, len(types)),
	}
	for _, m := range messages {
		if _, dup := svc.messages[m.Name()]; dup {
			return nil, fmt.Errorf("protocol: duplicate message %q", m.Name())
		}
		svc.messages[m.Name()] = m
		svc.order = append(svc.order, m.Name())
	}
	for _, t := range types {
		svc.types[t.Name()] = t
	}
	return svc, nil
}

// Name returns the service's canonical name.
func (s *Service) Name() string { return s.name }

// Protocol returns the raw protocol document this Service was compiled
// from.
func (s *Service) Protocol() string { return s.protocol }

// Message looks up a message by name.
func (s *Service) Message(name string) (*Message, bool) {
	m, ok := s.messages[name]
	return m, ok
}

// Type looks up a named protocol type by name.
func (s *Service) Type(name string) (*avro.Type, bool) {
	t, ok := s.types[name]
	return t, ok
}

// Messages returns every message in declaration order.
func (s *Service) Messages() []*Message {
	out := make([]*Message, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.messages[name])
	}
	return out
}
