package proxy

import (
	"context"
	"net/http"

	"github.com/avrorpc/avrorpc/internal/rpc"
	"github.com/avrorpc/avrorpc/internal/transport"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// Origin checking is the receiver's job (it sees the full header
	// set, including Origin); the upgrader itself stays permissive.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// webSocketHandler performs the WebSocket upgrade, then binds the
// resulting socket identically to connectHandler: every requested
// scope's binding shares the one channel built over it.
func (p *Proxy) webSocketHandler(w http.ResponseWriter, r *http.Request) {
	scopes := resolveScopes(r.Header.Get("scopes"), r.URL.Path)
	if len(scopes) == 0 {
		http.Error(w, "no scope requested", http.StatusNotFound)
		return
	}
	joined := joinScopes(scopes)

	servers := p.serversFor(scopes)
	if len(servers) == 0 {
		p.metrics.record("websocket", joined, "404")
		http.Error(w, "scope not found", http.StatusNotFound)
		return
	}

	headers := headersFromHTTP(r.Header)
	hookAfter, err := p.admit(headers)
	if err != nil {
		p.metrics.record("websocket", joined, "403")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	protocolDoc := servers[0].Service().Protocol()
	ch, chErr := rpc.NewChannel(transport.NewStateful(transport.WrapObjectDuplex(conn, websocket.BinaryMessage), true), protocolDoc, rpc.Options{
		Scope: joinScopes(scopes),
	})
	if chErr != nil {
		conn.Close()
		return
	}

	if hookAfter != nil {
		hookAfter(ch)
	}
	for _, provide := range p.providersFor(scopes) {
		provide(ch)
	}

	ex, err := ch.OpenExchange(r.Context())
	if err != nil {
		ch.Close()
		return
	}

	p.metrics.record("websocket", joined, "established")
	if p.metrics != nil {
		p.metrics.ActiveTunnels.Inc()
		defer p.metrics.ActiveTunnels.Dec()
	}

	_ = ch.ServeExchange(context.Background(), ex, mergeDispatchers(ch, servers))
}
