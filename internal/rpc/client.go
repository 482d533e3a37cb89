package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avrorpc/avrorpc/internal/middleware"
	"github.com/avrorpc/avrorpc/internal/protocol"
	"github.com/avrorpc/avrorpc/internal/rpcerr"
)

// CallOptions carries the recognized per-call options accepted by
// Client.EmitMessage.
type CallOptions struct {
	// Trace seeds the tracing middleware; opaque to Client itself.
	Trace any
	// Timeout is a hard upper bound; firing yields a timeout error.
	Timeout time.Duration
	// Scope selects a non-default channel when more than one is installed.
	Scope string
	// Headers, if non-nil, seeds the outgoing WrappedRequest's header map
	// instead of emitting with an empty one. The proxy's avro/json POST
	// mode uses this to carry the JSON body's headers field onto the
	// binary call.
	Headers *Headers
}

// OutgoingCallHook observes every call just before it is emitted on a
// channel; the tracing middleware uses this to copy CallOptions.Trace
// into the CallContext's locals.
type OutgoingCallHook func(ctx *CallContext, opts CallOptions)

type bufferedEmit struct {
	msgName string
	req     any
	opts    CallOptions
	done    chan emitOutcome
}

type emitOutcome struct {
	resp    any
	headers *Headers
	err     error
}

// Client owns a set of channels (one per scope) and a middleware chain
// layered on top of them, for one Service.
type Client struct {
	service  *protocol.Service
	pipeline *middleware.Pipeline[*WrappedRequest, *WrappedResponse, *Client]

	mu            sync.Mutex
	channels      map[string]*Channel
	buffering     bool
	pendingEmits  map[string][]bufferedEmit
	onChannelHook []func(*Channel)
	onOutgoing    []OutgoingCallHook
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithBuffering enables queuing of calls emitted before any channel for
// their scope is installed; the queue flushes once that channel opens.
func WithBuffering() ClientOption {
	return func(c *Client) { c.buffering = true }
}

// NewClient builds a Client for service.
func NewClient(service *protocol.Service, opts ...ClientOption) *Client {
	c := &Client{
		service:      service,
		channels:     make(map[string]*Channel),
		pendingEmits: make(map[string][]bufferedEmit),
	}
	c.pipeline = middleware.New[*WrappedRequest, *WrappedResponse, *Client](c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Use registers a middleware handler, forward and reverse phases alike.
func (c *Client) Use(h middleware.Handler[*WrappedRequest, *WrappedResponse]) {
	c.pipeline.Use(h)
}

// UseFactory registers a dynamic middleware handler, invoked once with
// this Client.
func (c *Client) UseFactory(factory func(*Client) middleware.Handler[*WrappedRequest, *WrappedResponse]) {
	c.pipeline.UseFactory(factory)
}

// OnChannel registers a hook invoked whenever a new channel is installed.
func (c *Client) OnChannel(fn func(*Channel)) {
	c.mu.Lock()
	c.onChannelHook = append(c.onChannelHook, fn)
	c.mu.Unlock()
}

// OnOutgoingCall registers a hook invoked on the owning channel before
// each emission.
func (c *Client) OnOutgoingCall(fn OutgoingCallHook) {
	c.mu.Lock()
	c.onOutgoing = append(c.onOutgoing, fn)
	c.mu.Unlock()
}

// InstallChannel binds ch as this client's channel for its scope,
// flushing any calls that were queued while no channel was available.
func (c *Client) InstallChannel(ch *Channel) {
	c.mu.Lock()
	c.channels[ch.Scope()] = ch
	queued := c.pendingEmits[ch.Scope()]
	delete(c.pendingEmits, ch.Scope())
	hooks := append([]func(*Channel){}, c.onChannelHook...)
	c.mu.Unlock()

	for _, hook := range hooks {
		hook(ch)
	}
	for _, qe := range queued {
		resp, headers, err := c.emitOn(context.Background(), ch, qe.msgName, qe.req, qe.opts)
		qe.done <- emitOutcome{resp: resp, headers: headers, err: err}
	}
}

// Service returns the Service this client was built from.
func (c *Client) Service() *protocol.Service { return c.service }

// EmitMessage sends one message and returns its response. For oneWay
// messages, resp is always nil and err reflects only whether the
// request was successfully flushed.
func (c *Client) EmitMessage(ctx context.Context, msgName string, req any, opts CallOptions) (any, error) {
	resp, _, err := c.EmitMessageDetailed(ctx, msgName, req, opts)
	return resp, err
}

// EmitMessageDetailed is EmitMessage, additionally returning the response
// headers the server attached. Nil for oneWay messages or a call that
// never reached a server response.
func (c *Client) EmitMessageDetailed(ctx context.Context, msgName string, req any, opts CallOptions) (any, *Headers, error) {
	scope := opts.Scope
	c.mu.Lock()
	ch, ok := c.channels[scope]
	c.mu.Unlock()

	if !ok {
		if !c.buffering {
			return nil, nil, rpcerr.New(rpcerr.KindTransport, "no available channel")
		}
		done := make(chan emitOutcome, 1)
		c.mu.Lock()
		c.pendingEmits[scope] = append(c.pendingEmits[scope], bufferedEmit{msgName: msgName, req: req, opts: opts, done: done})
		c.mu.Unlock()
		select {
		case out := <-done:
			return out.resp, out.headers, out.err
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}

	return c.emitOn(ctx, ch, msgName, req, opts)
}

func (c *Client) emitOn(ctx context.Context, ch *Channel, msgName string, req any, opts CallOptions) (any, *Headers, error) {
	msg, ok := c.service.Message(msgName)
	if !ok {
		return nil, nil, rpcerr.New(rpcerr.KindSystem, fmt.Sprintf("unknown message %q", msgName))
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cctx := NewCallContext(msg, ch)
	c.mu.Lock()
	hooks := append([]OutgoingCallHook{}, c.onOutgoing...)
	c.mu.Unlock()
	for _, hook := range hooks {
		hook(cctx, opts)
	}

	reqHeaders := opts.Headers
	if reqHeaders == nil {
		reqHeaders = NewHeaders()
	}
	wreq := &WrappedRequest{Message: msg, Request: req, Headers: reqHeaders, Ctx: cctx}
	wresp := &WrappedResponse{}

	err := c.pipeline.Run(wreq, wresp, func(wreq *WrappedRequest, wresp *WrappedResponse, done func(error)) {
		payload, encErr := msg.EncodeRequest(wreq.Request)
		if encErr != nil {
			done(rpcerr.Wrap(rpcerr.KindCodec, "encode request", encErr))
			return
		}

		respHeaders, respPayload, isErr, callErr := ch.Call(ctx, msg.Name(), msg.OneWay(), wreq.Headers, payload)
		if callErr != nil {
			done(callErr)
			return
		}
		if msg.OneWay() {
			done(nil)
			return
		}
		wresp.Headers = respHeaders

		if isErr {
			appErr, decErr := msg.DecodeError(respPayload)
			if decErr != nil {
				done(rpcerr.Wrap(rpcerr.KindCodec, "decode application error", decErr))
				return
			}
			wresp.Err = rpcerr.Wrap(rpcerr.KindApplication, "application error", toError(appErr))
			done(wresp.Err)
			return
		}

		resp, decErr := msg.DecodeResponse(respPayload)
		if decErr != nil {
			done(rpcerr.Wrap(rpcerr.KindCodec, "decode response", decErr))
			return
		}
		wresp.Response = resp
		done(nil)
	})

	if msg.OneWay() {
		return nil, nil, err
	}
	if err != nil {
		return nil, wresp.Headers, err
	}
	return wresp.Response, wresp.Headers, nil
}

func toError(v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return fmt.Errorf("%v", v)
}

// DestroyChannels closes every owned channel, clearing the client's
// channel set.
func (c *Client) DestroyChannels() error {
	c.mu.Lock()
	channels := c.channels
	c.channels = make(map[string]*Channel)
	c.mu.Unlock()

	var firstErr error
	for _, ch := range channels {
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
