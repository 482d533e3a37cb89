package rpc

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/avrorpc/avrorpc/internal/transport"
)

const testProtocol = `{"protocol":"Math"}`

func echoDispatcher(t *testing.T) Dispatcher {
	return func(ctx context.Context, msgName string, headers *Headers, rawRequest []byte) (*DispatchResult, error) {
		t.Helper()
		resp := NewHeaders()
		if v, ok := headers.Get("x-echo"); ok {
			resp.Set("x-echo", v)
		}
		return &DispatchResult{Headers: resp, Payload: rawRequest}, nil
	}
}

func TestStatefulChannelCallRoundTrip(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	defer serverEnd.Close()

	serverDone := make(chan error, 1)
	go func() {
		serverCh, err := NewChannel(transport.NewStateful(transport.WrapDuplex(serverEnd), false), testProtocol, Options{})
		if err != nil {
			serverDone <- err
			return
		}
		ex, err := serverCh.adapter.Open(context.Background())
		if err != nil {
			serverDone <- err
			return
		}
		serverDone <- serverCh.ServeExchange(context.Background(), ex, echoDispatcher(t))
	}()

	clientCh, err := NewChannel(transport.NewStateful(transport.WrapDuplex(clientEnd), false), testProtocol, Options{})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	defer clientCh.Close()

	headers := NewHeaders()
	headers.Set("x-echo", []byte("hi"))

	respHeaders, payload, isErr, err := clientCh.Call(context.Background(), "neg", false, headers, []byte("request-body"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if isErr {
		t.Fatal("expected success response")
	}
	if string(payload) != "request-body" {
		t.Errorf("got payload %q, want %q", payload, "request-body")
	}
	if v, ok := respHeaders.Get("x-echo"); !ok || string(v) != "hi" {
		t.Errorf("got headers %v, want x-echo=hi", respHeaders)
	}

	clientEnd.Close()
	select {
	case <-serverDone:
	case <-time.After(2 * time.Second):
		t.Fatal("server ServeExchange did not return after client closed")
	}
}

// httpServerExchange bridges one POST request/response pair into a
// transport.Exchange for tests that exercise the server side of the
// avro/binary HTTP transport without pulling in the full proxy package.
type httpServerExchange struct {
	body io.Reader
	w    http.ResponseWriter
}

func (e *httpServerExchange) Read(p []byte) (int, error)  { return e.body.Read(p) }
func (e *httpServerExchange) Write(p []byte) (int, error) { return e.w.Write(p) }
func (e *httpServerExchange) CloseWrite() error            { return nil }
func (e *httpServerExchange) Close() error                 { return nil }

func TestStatelessChannelOverHTTPRoundTrip(t *testing.T) {
	var handlerChannel *Channel
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ex := &httpServerExchange{body: r.Body, w: w}
		if err := handlerChannel.ServeExchange(r.Context(), ex, echoDispatcher(t)); err != nil {
			t.Errorf("ServeExchange: %v", err)
		}
	}))
	defer srv.Close()

	var err error
	handlerChannel, err = NewChannel(transport.NewStateless(nil, false), testProtocol, Options{})
	if err != nil {
		t.Fatalf("NewChannel (server): %v", err)
	}

	dialer := transport.NewHTTPDialer(srv.URL)
	clientCh, err := NewChannel(transport.NewStateless(dialer.Dial, false), testProtocol, Options{})
	if err != nil {
		t.Fatalf("NewChannel (client): %v", err)
	}

	_, payload, isErr, err := clientCh.Call(context.Background(), "neg", false, NewHeaders(), []byte("ping"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if isErr {
		t.Fatal("expected success response")
	}
	if string(payload) != "ping" {
		t.Errorf("got %q, want %q", payload, "ping")
	}
}

func TestChannelStateTransitions(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	ch, err := NewChannel(transport.NewStateful(transport.WrapDuplex(a), false), testProtocol, Options{})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if ch.State() != StatePending {
		t.Errorf("got %v, want pending", ch.State())
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ch.State() != StateClosed {
		t.Errorf("got %v, want closed", ch.State())
	}
}

func TestStatelessTransportChannelAlwaysOpen(t *testing.T) {
	dial := func(ctx context.Context) (transport.Exchange, error) {
		a, b := net.Pipe()
		go func() { _ = b.Close() }()
		return transport.WrapDuplex(a), nil
	}
	ch, err := NewChannel(transport.NewStateless(dial, false), testProtocol, Options{})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if ch.State() != StateOpen {
		t.Errorf("got %v, want open (noPing implicit)", ch.State())
	}
}

func TestChannelCallAfterCloseFails(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	ch, err := NewChannel(transport.NewStateful(transport.WrapDuplex(a), false), testProtocol, Options{})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	_ = ch.Close()

	if _, _, _, err := ch.Call(context.Background(), "neg", false, NewHeaders(), nil); err == nil {
		t.Error("expected Call on closed channel to fail")
	}
}

func TestChannelDestroyAbortsPendingCalls(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	ch, err := NewChannel(transport.NewStateful(transport.WrapDuplex(a), false), testProtocol, Options{})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}

	callErr := make(chan error, 1)
	go func() {
		_, _, _, err := ch.Call(context.Background(), "neg", false, NewHeaders(), []byte("x"))
		callErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case err := <-callErr:
		if err == nil {
			t.Error("expected pending call to be aborted with an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not aborted")
	}
}

func TestOneWayCallDoesNotWaitForResponse(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	defer serverEnd.Close()

	received := make(chan string, 1)
	go func() {
		serverCh, err := NewChannel(transport.NewStateful(transport.WrapDuplex(serverEnd), false), testProtocol, Options{})
		if err != nil {
			return
		}
		ex, _ := serverCh.adapter.Open(context.Background())
		_ = serverCh.ServeExchange(context.Background(), ex, func(ctx context.Context, msgName string, headers *Headers, rawRequest []byte) (*DispatchResult, error) {
			received <- msgName
			return &DispatchResult{OneWay: true}, nil
		})
	}()

	clientCh, err := NewChannel(transport.NewStateful(transport.WrapDuplex(clientEnd), false), testProtocol, Options{})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	defer clientCh.Close()

	_, _, _, err = clientCh.Call(context.Background(), "log", true, NewHeaders(), []byte("fire and forget"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	select {
	case name := <-received:
		if name != "log" {
			t.Errorf("got %q, want %q", name, "log")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the oneWay call")
	}
}
