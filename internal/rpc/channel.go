// Package rpc implements the Channel, Client, and Server that sit on
// top of a Transport Adapter and the Frame Codec: Channel owns the
// handshake and per-call id bookkeeping for one (client, server) pair at
// one scope; Client and Server layer message emission/dispatch and the
// middleware pipeline on top of one or more Channels.
package rpc

import (
	"context"
	"io"
	"sync"

	"github.com/avrorpc/avrorpc/internal/frame"
	"github.com/avrorpc/avrorpc/internal/rpcerr"
	"github.com/avrorpc/avrorpc/internal/transport"
)

// State is a Channel's position in its pending -> open -> closed
// lifecycle; errored is a terminal state reached from any other state on
// a fatal codec or handshake failure.
type State int

const (
	StatePending State = iota
	StateOpen
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Options configures a Channel at creation time.
type Options struct {
	// Scope identifies which bound server/client-provider this channel
	// belongs to on a multi-scope proxy socket. Empty is the default scope.
	Scope string
	// NoPing is recorded on the Channel but changes nothing: every call
	// carries its own handshake request, and no separate handshake is
	// performed when the channel opens, with or without NoPing.
	NoPing bool
}

// DispatchResult is what a server-side Dispatcher produces for one
// incoming request.
type DispatchResult struct {
	OneWay  bool
	Headers *Headers
	Payload []byte
	IsError bool
}

// Dispatcher decodes, routes, and encodes one incoming request on behalf
// of a Server; Channel only ever sees opaque bytes.
type Dispatcher func(ctx context.Context, msgName string, headers *Headers, rawRequest []byte) (*DispatchResult, error)

type pendingCall struct {
	result chan callOutcome
}

type callOutcome struct {
	headers *Headers
	payload []byte
	isError bool
	err     error
}

// Channel is a negotiated session over one Transport Adapter for one
// (client, server) pair at a given scope.
type Channel struct {
	adapter      transport.Adapter
	scope        string
	protocolDoc  string
	protocolHash uint64
	noPing       bool

	mu            sync.Mutex
	state         State
	handshakeDone bool
	remoteProto   string

	sharedEx     transport.Exchange
	writeMu      sync.Mutex
	readLoopOnce sync.Once

	pendingMu sync.Mutex
	pending   map[uint32]*pendingCall

	onError   func(error)
	closeOnce sync.Once
}

// NewChannel creates a channel bound to adapter and enters the pending
// state, or immediately open for stateless transports (noPing is
// implicit per call there). It does not assume a client or server role:
// the response loop that reads sharedEx only starts once this channel
// actually makes a client-role Call (see readResponseLoop), so a
// channel driven purely as a server via ServeExchange never gets a
// second, competing reader on the same exchange.
func NewChannel(adapter transport.Adapter, protocolDoc string, opts Options) (*Channel, error) {
	c := &Channel{
		adapter:      adapter,
		scope:        opts.Scope,
		protocolDoc:  protocolDoc,
		protocolHash: frame.ProtocolHash(protocolDoc),
		noPing:       opts.NoPing,
		pending:      make(map[uint32]*pendingCall),
	}

	if !adapter.Stateful() {
		c.state = StateOpen
		return c, nil
	}

	ex, err := adapter.Open(context.Background())
	if err != nil {
		c.state = StateErrored
		return nil, rpcerr.Wrap(rpcerr.KindTransport, "open stateful transport", err)
	}
	if err := verifyObjectMode(adapter, ex); err != nil {
		c.state = StateErrored
		return nil, err
	}
	c.sharedEx = ex
	c.state = StatePending
	return c, nil
}

// verifyObjectMode enforces the contract adapter.ObjectMode() advertises:
// when true, ex must actually preserve whole-record boundaries (it
// implements frame.ObjectWriter and frame.ObjectReader), or
// internal/frame would silently fall back to byte-mode framing over a
// transport that never promised continuous-stream semantics.
func verifyObjectMode(adapter transport.Adapter, ex transport.Exchange) error {
	if !adapter.ObjectMode() {
		return nil
	}
	_, okW := ex.(frame.ObjectWriter)
	_, okR := ex.(frame.ObjectReader)
	if !okW || !okR {
		return rpcerr.New(rpcerr.KindTransport, "adapter reports ObjectMode but its Exchange does not implement frame.ObjectWriter/ObjectReader")
	}
	return nil
}

// State reports the channel's current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Scope reports the bound scope.
func (c *Channel) Scope() string { return c.scope }

// OpenExchange returns the Exchange this channel's server role should
// read requests from and write responses to: the shared exchange for a
// stateful adapter (opened once at construction), or a fresh one dialed
// now for a stateless adapter.
func (c *Channel) OpenExchange(ctx context.Context) (transport.Exchange, error) {
	if c.adapter.Stateful() {
		c.mu.Lock()
		ex := c.sharedEx
		c.mu.Unlock()
		if ex != nil {
			return ex, nil
		}
	}
	ex, err := c.adapter.Open(ctx)
	if err != nil {
		return nil, err
	}
	if err := verifyObjectMode(c.adapter, ex); err != nil {
		return nil, err
	}
	return ex, nil
}

// RemoteProtocol reports the remote's serialized protocol document, once
// known from a handshake that required it (empty when the hashes matched
// and no protocol text needed to be exchanged).
func (c *Channel) RemoteProtocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteProto
}

// OnError installs a callback invoked when the channel transitions to
// errored; mirrors the "consumer sees error emitted then closed" contract.
func (c *Channel) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	alreadyTerminal := c.state == StateErrored || c.state == StateClosed
	c.state = StateErrored
	cb := c.onError
	c.mu.Unlock()
	if !alreadyTerminal && cb != nil {
		cb(err)
	}
	c.abortPending(err)
}

func (c *Channel) abortPending(err error) {
	c.pendingMu.Lock()
	waiters := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.pendingMu.Unlock()
	for _, w := range waiters {
		w.result <- callOutcome{err: rpcerr.Wrap(rpcerr.KindTransport, "channel aborted", err)}
	}
}

// Close transitions the channel to closed, aborting any in-flight calls
// with a transport-kind error, and releases the adapter.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		c.abortPending(io.ErrClosedPipe)
		err = c.adapter.Close()
	})
	return err
}

func (c *Channel) clientHandshake() *frame.HandshakeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := &frame.HandshakeRequest{ClientHash: c.protocolHash}
	if !c.handshakeDone {
		req.ClientProtocol = c.protocolDoc
	}
	return req
}

func (c *Channel) applyHandshakeResponse(resp *frame.HandshakeResponse) error {
	if resp.UnknownProtocol {
		return rpcerr.New(rpcerr.KindHandshake, "server reported unknown protocol")
	}
	if resp.Match == frame.MatchNone {
		return rpcerr.New(rpcerr.KindHandshake, "protocol mismatch")
	}
	c.mu.Lock()
	c.handshakeDone = true
	if resp.ServerProtocol != "" {
		c.remoteProto = resp.ServerProtocol
	}
	if c.state == StatePending {
		c.state = StateOpen
	}
	c.mu.Unlock()
	return nil
}

// Call performs one client-role request/response cycle: dial (stateless)
// or reuse the shared exchange (stateful), write the request envelope,
// and wait for the matching response. oneWay calls return as soon as the
// request has been flushed.
func (c *Channel) Call(ctx context.Context, msgName string, oneWay bool, headers *Headers, payload []byte) (*Headers, []byte, bool, error) {
	if c.State() == StateClosed || c.State() == StateErrored {
		return nil, nil, false, rpcerr.New(rpcerr.KindTransport, "channel is "+c.State().String())
	}

	id := nextCallID()
	hsBytes, err := frame.EncodeHandshakeRequest(c.clientHandshake())
	if err != nil {
		return nil, nil, false, rpcerr.Wrap(rpcerr.KindCodec, "encode handshake request", err)
	}
	hdrBytes, err := encodeHeaders(headers)
	if err != nil {
		return nil, nil, false, rpcerr.Wrap(rpcerr.KindCodec, "encode headers", err)
	}

	if !c.adapter.Stateful() {
		return c.callStateless(ctx, id, msgName, oneWay, hsBytes, hdrBytes, payload)
	}
	return c.callStateful(ctx, id, msgName, oneWay, hsBytes, hdrBytes, payload)
}

func (c *Channel) callStateless(ctx context.Context, id uint32, msgName string, oneWay bool, hsBytes, hdrBytes, payload []byte) (*Headers, []byte, bool, error) {
	ex, err := c.adapter.Open(ctx)
	if err != nil {
		return nil, nil, false, rpcerr.Wrap(rpcerr.KindTransport, "dial", err)
	}
	defer ex.Close()
	if err := verifyObjectMode(c.adapter, ex); err != nil {
		return nil, nil, false, err
	}

	if err := writeRequestEnvelope(ex, hsBytes, id, msgName, hdrBytes, payload); err != nil {
		return nil, nil, false, err
	}
	if err := ex.CloseWrite(); err != nil {
		return nil, nil, false, rpcerr.Wrap(rpcerr.KindTransport, "close write", err)
	}
	if oneWay {
		return nil, nil, false, nil
	}

	hsRespBytes, _, respHdrBytes, flag, respPayload, err := readResponseEnvelope(ex)
	if err != nil {
		return nil, nil, false, err
	}
	hsResp, err := frame.DecodeHandshakeResponse(hsRespBytes)
	if err != nil {
		return nil, nil, false, rpcerr.Wrap(rpcerr.KindHandshake, "decode handshake response", err)
	}
	if err := c.applyHandshakeResponse(hsResp); err != nil {
		return nil, nil, false, err
	}
	respHeaders, err := decodeHeaders(respHdrBytes)
	if err != nil {
		return nil, nil, false, rpcerr.Wrap(rpcerr.KindCodec, "decode response headers", err)
	}
	return respHeaders, respPayload, flag == flagError, nil
}

func (c *Channel) callStateful(ctx context.Context, id uint32, msgName string, oneWay bool, hsBytes, hdrBytes, payload []byte) (*Headers, []byte, bool, error) {
	// The response loop is this channel's only reader of sharedEx, so it
	// must not start until we know this channel is actually being driven
	// in the client role: a server-role channel is read exclusively by
	// ServeExchange over the very same exchange (OpenExchange returns
	// sharedEx for stateful adapters), and a second reader would steal
	// request bytes out from under it.
	c.readLoopOnce.Do(func() { go c.readResponseLoop() })

	var waiter *pendingCall
	if !oneWay {
		waiter = &pendingCall{result: make(chan callOutcome, 1)}
		c.pendingMu.Lock()
		c.pending[id] = waiter
		c.pendingMu.Unlock()
	}

	c.writeMu.Lock()
	err := writeRequestEnvelope(c.sharedEx, hsBytes, id, msgName, hdrBytes, payload)
	c.writeMu.Unlock()
	if err != nil {
		if waiter != nil {
			c.pendingMu.Lock()
			delete(c.pending, id)
			c.pendingMu.Unlock()
		}
		c.fail(err)
		return nil, nil, false, err
	}

	if oneWay {
		return nil, nil, false, nil
	}

	select {
	case out := <-waiter.result:
		if out.err != nil {
			return nil, nil, false, out.err
		}
		return out.headers, out.payload, out.isError, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, nil, false, rpcerr.Wrap(rpcerr.KindTransport, "call cancelled", ctx.Err())
	}
}

// readResponseLoop services a stateful channel's shared exchange,
// correlating each response envelope by call id to its waiter. A
// transport error or EOF aborts every outstanding call and closes the
// channel. It is started at most once, lazily, by the first client-role
// Call (see callStateful) — never from NewChannel — so that a channel
// driven only in the server role leaves sharedEx to ServeExchange's
// reader alone.
func (c *Channel) readResponseLoop() {
	for {
		hsBytes, id, hdrBytes, flag, payload, err := readResponseEnvelope(c.sharedEx)
		if err != nil {
			if err == io.EOF {
				c.setState(StateClosed)
				c.abortPending(err)
			} else {
				c.fail(err)
			}
			return
		}

		if hsResp, hsErr := frame.DecodeHandshakeResponse(hsBytes); hsErr == nil {
			_ = c.applyHandshakeResponse(hsResp)
		}

		headers, herr := decodeHeaders(hdrBytes)
		c.pendingMu.Lock()
		w, ok := c.pending[id]
		if ok {
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		if !ok {
			continue // response for an id nobody is waiting on; drop it
		}
		if herr != nil {
			w.result <- callOutcome{err: rpcerr.Wrap(rpcerr.KindCodec, "decode response headers", herr)}
			continue
		}
		w.result <- callOutcome{headers: headers, payload: payload, isError: flag == flagError}
	}
}

// ServeExchange runs the server role over ex: it reads request envelopes
// until EOF, invoking dispatcher for each and writing back the response
// envelope (unless the message is oneWay). It returns nil on a clean EOF.
func (c *Channel) ServeExchange(ctx context.Context, ex transport.Exchange, dispatcher Dispatcher) error {
	var writeMu sync.Mutex
	var wg sync.WaitGroup
	var firstWriteErr error
	var writeErrOnce sync.Once

	for {
		hsBytes, id, msgName, hdrBytes, payload, err := readRequestEnvelope(ex)
		if err != nil {
			wg.Wait()
			if err == io.EOF {
				return firstWriteErr
			}
			if firstWriteErr != nil {
				return firstWriteErr
			}
			return err
		}

		hsReq, err := frame.DecodeHandshakeRequest(hsBytes)
		if err != nil {
			wg.Wait()
			return rpcerr.Wrap(rpcerr.KindHandshake, "decode handshake request", err)
		}
		hsResp := c.serverHandshakeResponse(hsReq)
		hsRespBytes, err := frame.EncodeHandshakeResponse(hsResp)
		if err != nil {
			wg.Wait()
			return rpcerr.Wrap(rpcerr.KindCodec, "encode handshake response", err)
		}

		headers, err := decodeHeaders(hdrBytes)
		if err != nil {
			wg.Wait()
			return rpcerr.Wrap(rpcerr.KindCodec, "decode request headers", err)
		}

		// Each request's dispatch and reply run independently so a
		// stateful channel can pipeline several in-flight calls;
		// responses may therefore be written out of order, which is
		// fine since the client correlates by call id, not arrival.
		wg.Add(1)
		go func(id uint32, msgName string, headers *Headers, payload []byte, hsRespBytes []byte) {
			defer wg.Done()

			result, dispatchErr := dispatcher(ctx, msgName, headers, payload)
			if dispatchErr != nil {
				result = &DispatchResult{
					Headers: NewHeaders(),
					Payload: systemErrorPayload(dispatchErr),
					IsError: true,
				}
			}
			if result.OneWay {
				return
			}

			respHdrBytes, err := encodeHeaders(result.Headers)
			if err != nil {
				writeErrOnce.Do(func() { firstWriteErr = rpcerr.Wrap(rpcerr.KindCodec, "encode response headers", err) })
				return
			}

			writeMu.Lock()
			werr := writeResponseEnvelope(ex, hsRespBytes, id, respHdrBytes, result.IsError, result.Payload)
			writeMu.Unlock()
			if werr != nil {
				writeErrOnce.Do(func() { firstWriteErr = werr })
			}
		}(id, msgName, headers, payload, hsRespBytes)
	}
}

// serverHandshakeResponse compares the client's protocol hash against
// this channel's own and returns the appropriate match verdict, caching
// success so the caller need not resend its protocol text next time.
func (c *Channel) serverHandshakeResponse(req *frame.HandshakeRequest) *frame.HandshakeResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp := &frame.HandshakeResponse{ServerHash: c.protocolHash}
	switch {
	case req.ClientHash == c.protocolHash:
		resp.Match = frame.MatchBoth
	case req.ClientProtocol != "":
		resp.Match = frame.MatchClient
		resp.ServerProtocol = c.protocolDoc
	default:
		resp.Match = frame.MatchNone
		resp.UnknownProtocol = true
		resp.ServerProtocol = c.protocolDoc
	}
	if c.state == StatePending {
		c.state = StateOpen
	}
	return resp
}
