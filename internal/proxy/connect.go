package proxy

import (
	"context"
	"net/http"

	"github.com/avrorpc/avrorpc/internal/rpc"
	"github.com/avrorpc/avrorpc/internal/transport"
)

// connectHandler answers HTTP CONNECT by hijacking the socket, binding
// it as a stateful transport to every requested scope's binding, and
// relaying frames until the client closes.
func (p *Proxy) connectHandler(w http.ResponseWriter, r *http.Request) {
	scopes := resolveScopes(r.Header.Get("scopes"), r.URL.Path)
	if len(scopes) == 0 {
		http.Error(w, "no scope requested", http.StatusNotFound)
		return
	}
	joined := joinScopes(scopes)

	servers := p.serversFor(scopes)
	if len(servers) == 0 {
		p.metrics.record("connect", joined, "404")
		http.Error(w, "scope not found", http.StatusNotFound)
		return
	}

	headers := headersFromHTTP(r.Header)
	hookAfter, err := p.admit(headers)
	if err != nil {
		p.metrics.record("connect", joined, "403")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijack not supported", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hijacker.Hijack()
	if err != nil {
		return
	}

	if bufrw.Reader.Buffered() > 0 {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n")) //nolint:errcheck
		conn.Close()
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		conn.Close()
		return
	}

	protocolDoc := servers[0].Service().Protocol()
	ch, err := rpc.NewChannel(transport.NewStateful(transport.WrapDuplex(conn), false), protocolDoc, rpc.Options{
		Scope: joinScopes(scopes),
	})
	if err != nil {
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

	p.metrics.record("connect", joined, "established")
	if p.metrics != nil {
		p.metrics.ActiveTunnels.Inc()
		defer p.metrics.ActiveTunnels.Dec()
	}

	_ = ch.ServeExchange(context.Background(), ex, mergeDispatchers(ch, servers))
}

func joinScopes(scopes []string) string {
	out := scopes[0]
	for _, s := range scopes[1:] {
		out += "+" + s
	}
	return out
}
