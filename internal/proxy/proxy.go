// Package proxy implements the multi-scope HTTP front door: POST
// (avro/binary and avro/json), CONNECT tunnels, and WebSocket upgrades,
// all routed to scope-bound Servers and, on bidirectional wire modes,
// scope-bound client providers.
package proxy

import (
	"net/http"
	"strings"
	"sync"

	"github.com/avrorpc/avrorpc/internal/rpc"
)

// Receiver is the admission hook consulted before a new channel is
// bound. A non-nil err denies the request. A non-nil hookAfter is
// invoked once the channel (and, for upgrades, the socket) exists.
type Receiver func(headers *rpc.Headers) (hookAfter func(ch *rpc.Channel), err error)

// ClientProviderFunc receives a freshly bound, bidirectional channel so
// the caller can install it on a long-lived *rpc.Client for outbound
// calls over that socket.
type ClientProviderFunc func(ch *rpc.Channel)

type binding struct {
	server   *rpc.Server
	provider ClientProviderFunc
}

// Options configures a Proxy.
type Options struct {
	// PathPrefix is stripped from a POST request's path before the
	// remainder is read as the target scope. Defaults to "/".
	PathPrefix string
	// Metrics, if non-nil, is recorded against for every request this
	// Proxy serves. Nil disables instrumentation entirely.
	Metrics *Metrics
}

// Proxy is the multi-scope HTTP front door described in 4.G: a set of
// scope-keyed bindings (Servers for inbound dispatch, client providers
// for outbound use over tunnel/WebSocket sockets) fronted by one
// http.Handler.
type Proxy struct {
	receiver   Receiver
	pathPrefix string
	metrics    *Metrics

	mu       sync.RWMutex
	bindings map[string]*binding
}

// NewProxy builds a Proxy. receiver may be nil, in which case every
// request is admitted unconditionally.
func NewProxy(opts Options, receiver Receiver) *Proxy {
	prefix := opts.PathPrefix
	if prefix == "" {
		prefix = "/"
	}
	return &Proxy{
		receiver:   receiver,
		pathPrefix: prefix,
		metrics:    opts.Metrics,
		bindings:   make(map[string]*binding),
	}
}

// BindServer binds server as the dispatch target for scope: every call
// whose message the server declares, arriving over any wire mode bound
// to scope, is routed to it.
func (p *Proxy) BindServer(scope string, server *rpc.Server) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.bindingLocked(scope)
	b.server = server
}

// BindClientProvider binds provider for scope. Legal only for
// bidirectional wire modes (tunnel, WebSocket): a POST request that
// resolves to a provider-only scope is rejected with 404, since a
// provider needs a live socket to construct a client-side channel.
func (p *Proxy) BindClientProvider(scope string, provider ClientProviderFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.bindingLocked(scope)
	b.provider = provider
}

func (p *Proxy) bindingLocked(scope string) *binding {
	b, ok := p.bindings[scope]
	if !ok {
		b = &binding{}
		p.bindings[scope] = b
	}
	return b
}

func (p *Proxy) lookup(scope string) (*binding, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	b, ok := p.bindings[scope]
	return b, ok
}

// serversFor resolves every Server bound to one of scopes, in the order
// scopes were requested. Scopes with no server binding (provider-only,
// or altogether unbound) are silently skipped; callers detect "nothing
// resolved" by checking the returned slice's length.
func (p *Proxy) serversFor(scopes []string) []*rpc.Server {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*rpc.Server
	for _, scope := range scopes {
		if b, ok := p.bindings[scope]; ok && b.server != nil {
			out = append(out, b.server)
		}
	}
	return out
}

func (p *Proxy) providersFor(scopes []string) map[string]ClientProviderFunc {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]ClientProviderFunc)
	for _, scope := range scopes {
		if b, ok := p.bindings[scope]; ok && b.provider != nil {
			out[scope] = b.provider
		}
	}
	return out
}

// admit consults the receiver, if any.
func (p *Proxy) admit(headers *rpc.Headers) (func(ch *rpc.Channel), error) {
	if p.receiver == nil {
		return nil, nil
	}
	return p.receiver(headers)
}

// ServeHTTP implements http.Handler, routing CONNECT, WebSocket
// upgrades, and POST to their respective handlers.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodConnect:
		p.connectHandler(w, r)
	case isWebSocketUpgrade(r):
		p.webSocketHandler(w, r)
	case r.Method == http.MethodPost:
		p.postRequestHandler(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		containsToken(r.Header.Get("Connection"), "upgrade")
}

func containsToken(headerValue, token string) bool {
	for _, part := range strings.Split(headerValue, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

// headersFromHTTP copies every HTTP header into an rpc.Headers map for
// receiver inspection, with keys lowercased; a header with several values
// carries only its first.
func headersFromHTTP(h http.Header) *rpc.Headers {
	out := rpc.NewHeaders()
	for key := range h {
		out.Set(strings.ToLower(key), []byte(h.Get(key)))
	}
	return out
}
