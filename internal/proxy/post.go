package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avrorpc/avrorpc/internal/rpc"
	"github.com/avrorpc/avrorpc/internal/rpcerr"
	"github.com/avrorpc/avrorpc/internal/transport"
	"github.com/prep/socketpair"
)

// contentTypeAvroJSON is the Content-Type for the proxy's avro/json POST
// mode: a JSON envelope in, a JSON envelope out, with the framed binary
// wire format confined to the loopback socket this mode builds between
// an ephemeral client and the bound Server.
const contentTypeAvroJSON = "avro/json"

// postJSONRequest is the avro/json POST body shape: the target message,
// optional string-valued headers, and the request record as Avro-JSON
// text.
type postJSONRequest struct {
	Message string            `json:"message"`
	Headers map[string]string `json:"headers,omitempty"`
	Request json.RawMessage   `json:"request"`
}

// postJSONResponse is the avro/json POST response shape. Exactly one of
// Response or Error is populated, unless the message is oneWay, in which
// case both are omitted.
type postJSONResponse struct {
	Headers  map[string]string `json:"headers,omitempty"`
	Response json.RawMessage   `json:"response,omitempty"`
	Error    json.RawMessage   `json:"error,omitempty"`
}

// postExchange bridges one POST request/response pair into a
// transport.Exchange for the avro/binary POST mode: the request body is
// the framed request, the response writer is the framed response.
type postExchange struct {
	body io.Reader
	w    http.ResponseWriter
}

func (e *postExchange) Read(p []byte) (int, error)  { return e.body.Read(p) }
func (e *postExchange) Write(p []byte) (int, error) { return e.w.Write(p) }
func (e *postExchange) CloseWrite() error           { return nil }
func (e *postExchange) Close() error                { return nil }

// postRequestHandler answers a POST request by Content-Type: avro/binary
// hands the body straight to the bound Server's dispatch loop as one
// stateless exchange; avro/json bridges a parsed JSON envelope through an
// ephemeral client/server channel pair so the same middleware pipeline
// and handler run underneath either wire mode.
func (p *Proxy) postRequestHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	scope := scopeFromPOSTPath(r.URL.Path, p.pathPrefix)
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	contentType := r.Header.Get("Content-Type")
	defer func() {
		p.metrics.record("post", scope, strconv.Itoa(sw.status))
		if p.metrics != nil {
			p.metrics.RequestDuration.WithLabelValues(scope, contentType).Observe(time.Since(start).Seconds())
		}
	}()

	b, ok := p.lookup(scope)
	if !ok || b.server == nil {
		http.Error(sw, "scope not found", http.StatusNotFound)
		return
	}

	headers := headersFromHTTP(r.Header)
	hookAfter, err := p.admit(headers)
	if err != nil {
		http.Error(sw, "forbidden", http.StatusForbidden)
		return
	}

	switch contentType {
	case transport.ContentTypeAvroBinary:
		p.postAvroBinary(sw, r, b.server, hookAfter)
	case contentTypeAvroJSON:
		p.postAvroJSON(sw, r, b.server, hookAfter)
	default:
		http.Error(sw, "unsupported content type", http.StatusBadRequest)
	}
}

// statusWriter captures the status code written, for metrics. A handler
// that never calls WriteHeader explicitly (the avro/binary success
// path, which lets the frame codec write directly) is recorded as 200.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (p *Proxy) postAvroBinary(w http.ResponseWriter, r *http.Request, server *rpc.Server, hookAfter func(*rpc.Channel)) {
	ch, err := rpc.NewChannel(transport.NewStateless(nil, false), server.Service().Protocol(), rpc.Options{})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if hookAfter != nil {
		hookAfter(ch)
	}

	w.Header().Set("Content-Type", transport.ContentTypeAvroBinary)
	ex := &postExchange{body: r.Body, w: w}
	_ = server.Serve(r.Context(), ch, ex)
}

func (p *Proxy) postAvroJSON(w http.ResponseWriter, r *http.Request, server *rpc.Server, hookAfter func(*rpc.Channel)) {
	var in postJSONRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "malformed json body", http.StatusBadRequest)
		return
	}

	msg, ok := server.Service().Message(in.Message)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown message %q", in.Message), http.StatusBadRequest)
		return
	}

	req, err := msg.RequestType().FromString(string(in.Request))
	if err != nil {
		http.Error(w, "malformed request payload", http.StatusBadRequest)
		return
	}

	reqHeaders := rpc.NewHeaders()
	for k, v := range in.Headers {
		reqHeaders.Set(k, []byte(v))
	}

	a, b, err := socketpair.New("unix")
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer a.Close()
	defer b.Close()

	protocolDoc := server.Service().Protocol()
	serverCh, err := rpc.NewChannel(transport.NewStateful(transport.WrapDuplex(b), false), protocolDoc, rpc.Options{})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if hookAfter != nil {
		hookAfter(serverCh)
	}

	ex, err := serverCh.OpenExchange(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(r.Context(), serverCh, ex) }()

	clientCh, err := rpc.NewChannel(transport.NewStateful(transport.WrapDuplex(a), false), protocolDoc, rpc.Options{})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	cl := rpc.NewClient(server.Service())
	cl.InstallChannel(clientCh)

	resp, respHeaders, callErr := cl.EmitMessageDetailed(r.Context(), in.Message, req, rpc.CallOptions{Headers: reqHeaders})

	clientCh.Close()
	<-serveDone

	out := postJSONResponse{Headers: headersToMap(respHeaders)}
	w.Header().Set("Content-Type", contentTypeAvroJSON)

	if callErr != nil {
		appErr, ok := applicationErrorValue(callErr)
		if !ok {
			http.Error(w, callErr.Error(), http.StatusInternalServerError)
			return
		}
		raw, encErr := json.Marshal(appErr)
		if encErr != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		out.Error = raw
		writeJSON(w, out)
		return
	}

	if msg.OneWay() {
		writeJSON(w, out)
		return
	}

	raw, encErr := json.Marshal(resp)
	if encErr != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out.Response = raw
	writeJSON(w, out)
}

// applicationErrorValue extracts the declared error record carried by an
// application-kind *rpcerr.RPCError, as the client decoded it off the
// wire. Any other error kind (transport, system, codec, ...) has nothing
// to render as a message-specific record.
func applicationErrorValue(err error) (any, bool) {
	var rpcErr *rpcerr.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Kind != rpcerr.KindApplication {
		return nil, false
	}
	if rpcErr.Origin != nil {
		return rpcErr.Origin, true
	}
	return rpcErr.Message, true
}

func headersToMap(h *rpc.Headers) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string)
	h.Each(func(key string, value []byte) {
		out[key] = string(value)
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}
