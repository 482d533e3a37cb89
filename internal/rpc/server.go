package rpc

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/avrorpc/avrorpc/internal/middleware"
	"github.com/avrorpc/avrorpc/internal/protocol"
	"github.com/avrorpc/avrorpc/internal/rpcerr"
	"github.com/avrorpc/avrorpc/internal/transport"
)

// MessageHandler is the user-supplied handler for one message name. req
// is the decoded request record; handlers report an error as err to
// surface an application or system failure.
type MessageHandler func(ctx context.Context, cctx *CallContext, req any) (resp any, err error)

// IncomingCallHook observes a channel at the start of each incoming
// call's dispatch; the tracing middleware uses this as its server-side
// seed point.
type IncomingCallHook func(cctx *CallContext)

// Server owns a set of incoming channels, a middleware chain, and one
// handler per declared message.
type Server struct {
	service  *protocol.Service
	pipeline *middleware.Pipeline[*WrappedRequest, *WrappedResponse, *Server]

	mu            sync.Mutex
	handlers      map[string]MessageHandler
	channels      []*Channel
	strictErrors  bool
	onChannelHook []func(*Channel)
	onIncoming    []IncomingCallHook
	onError       func(error)
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithStrictErrors requires handler errors to be declared error-type
// variants; anything else is normalized to a system error.
func WithStrictErrors() ServerOption {
	return func(s *Server) { s.strictErrors = true }
}

// NewServer builds a Server for service.
func NewServer(service *protocol.Service, opts ...ServerOption) *Server {
	s := &Server{
		service:  service,
		handlers: make(map[string]MessageHandler),
	}
	s.pipeline = middleware.New[*WrappedRequest, *WrappedResponse, *Server](s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Use registers a middleware handler.
func (s *Server) Use(h middleware.Handler[*WrappedRequest, *WrappedResponse]) {
	s.pipeline.Use(h)
}

// UseFactory registers a dynamic middleware handler, invoked once with
// this Server.
func (s *Server) UseFactory(factory func(*Server) middleware.Handler[*WrappedRequest, *WrappedResponse]) {
	s.pipeline.UseFactory(factory)
}

// OnMessage installs the single handler for a declared message name.
func (s *Server) OnMessage(name string, handler MessageHandler) {
	s.mu.Lock()
	s.handlers[name] = handler
	s.mu.Unlock()
}

// OnChannel registers a hook invoked for each new incoming channel.
func (s *Server) OnChannel(fn func(*Channel)) {
	s.mu.Lock()
	s.onChannelHook = append(s.onChannelHook, fn)
	s.mu.Unlock()
}

// OnIncomingCall registers a hook invoked at the start of each call's
// dispatch.
func (s *Server) OnIncomingCall(fn IncomingCallHook) {
	s.mu.Lock()
	s.onIncoming = append(s.onIncoming, fn)
	s.mu.Unlock()
}

// OnError stores fn as the server's error hook. The Server never invokes
// it: handler panics are not recovered, and nothing is reported after a
// response has been written.
func (s *Server) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

// Service returns the Service this server was built from.
func (s *Server) Service() *protocol.Service { return s.service }

// Serve registers ch as an incoming channel and runs its dispatch loop
// over ex until EOF or a fatal transport error.
func (s *Server) Serve(ctx context.Context, ch *Channel, ex transport.Exchange) error {
	s.Track(ch)
	return ch.ServeExchange(ctx, ex, s.AsDispatcher(ch))
}

// Track registers ch as one of this server's channels and fires its
// OnChannel hooks, without driving ch's dispatch loop. Used by callers
// that build their own Dispatcher around one or more Servers (the proxy,
// multiplexing several scopes over one physical socket) and therefore
// invoke Channel.ServeExchange directly.
func (s *Server) Track(ch *Channel) {
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	hooks := append([]func(*Channel){}, s.onChannelHook...)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(ch)
	}
}

// AsDispatcher returns this server's dispatch logic as a Channel
// Dispatcher bound to ch, for callers that drive ServeExchange
// themselves.
func (s *Server) AsDispatcher(ch *Channel) Dispatcher {
	return func(ctx context.Context, msgName string, headers *Headers, rawRequest []byte) (*DispatchResult, error) {
		return s.dispatch(ctx, ch, msgName, headers, rawRequest)
	}
}

func (s *Server) dispatch(ctx context.Context, ch *Channel, msgName string, headers *Headers, rawRequest []byte) (*DispatchResult, error) {
	msg, ok := s.service.Message(msgName)
	if !ok {
		return nil, rpcerr.New(rpcerr.KindSystem, fmt.Sprintf("unknown message %q", msgName))
	}

	s.mu.Lock()
	handler, ok := s.handlers[msgName]
	hooks := append([]IncomingCallHook{}, s.onIncoming...)
	s.mu.Unlock()
	if !ok {
		return nil, rpcerr.New(rpcerr.KindSystem, fmt.Sprintf("no handler installed for %q", msgName))
	}

	req, err := msg.DecodeRequest(rawRequest)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindCodec, "decode request", err)
	}

	cctx := NewCallContext(msg, ch)
	for _, hook := range hooks {
		hook(cctx)
	}

	wreq := &WrappedRequest{Message: msg, Request: req, Headers: headers, Ctx: cctx}
	wresp := &WrappedResponse{}

	runErr := s.pipeline.Run(wreq, wresp, func(wreq *WrappedRequest, wresp *WrappedResponse, done func(error)) {
		resp, handlerErr := handler(ctx, cctx, wreq.Request)
		if handlerErr != nil {
			wresp.Err = s.classifyHandlerError(msg, handlerErr)
			done(wresp.Err)
			return
		}
		wresp.Response = resp
		done(nil)
	})

	if msg.OneWay() {
		return &DispatchResult{OneWay: true}, nil
	}

	if runErr != nil || wresp.Err != nil {
		finalErr := wresp.Err
		if finalErr == nil {
			finalErr = runErr
		}
		payload, encErr := s.encodeError(msg, finalErr)
		if encErr != nil {
			return nil, encErr
		}
		return &DispatchResult{Headers: wresp.Headers, Payload: payload, IsError: true}, nil
	}

	payload, err := msg.EncodeResponse(wresp.Response)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindCodec, "encode response", err)
	}
	return &DispatchResult{Headers: wresp.Headers, Payload: payload}, nil
}

// classifyHandlerError normalizes a handler's error into a declared
// application error or a generic system error, per strictErrors.
func (s *Server) classifyHandlerError(msg *protocol.Message, err error) error {
	if !s.strictErrors {
		return rpcerr.Wrap(rpcerr.KindApplication, "handler error", err)
	}
	var appErr *rpcerr.RPCError
	if asRPCError(err, &appErr) && appErr.Kind == rpcerr.KindApplication {
		return err
	}
	return rpcerr.Wrap(rpcerr.KindSystem, "undeclared error normalized", err)
}

func asRPCError(err error, target **rpcerr.RPCError) bool {
	for err != nil {
		if re, ok := err.(*rpcerr.RPCError); ok {
			*target = re
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (s *Server) encodeError(msg *protocol.Message, err error) ([]byte, error) {
	if msg.ErrorType() == nil {
		return systemErrorPayload(err), nil
	}
	if appErr, ok := unwrapApplicationPayload(err); ok {
		payload, encErr := msg.EncodeError(appErr)
		if encErr == nil {
			return payload, nil
		}
	}
	declared := reflect.TypeOf(msg.ErrorType().New())
	for cause := err; cause != nil; cause = errors.Unwrap(cause) {
		if reflect.TypeOf(cause) == declared {
			if payload, encErr := msg.EncodeError(cause); encErr == nil {
				return payload, nil
			}
		}
	}
	return systemErrorPayload(err), nil
}

// unwrapApplicationPayload extracts a message-specific declared error
// value from the chain, if the handler supplied one directly rather than
// a bare Go error string.
func unwrapApplicationPayload(err error) (any, bool) {
	type payloadCarrier interface{ ApplicationPayload() any }
	for err != nil {
		if pc, ok := err.(payloadCarrier); ok {
			return pc.ApplicationPayload(), true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// DestroyChannels closes every channel this server is serving.
func (s *Server) DestroyChannels() error {
	s.mu.Lock()
	channels := s.channels
	s.channels = nil
	s.mu.Unlock()

	var firstErr error
	for _, ch := range channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
