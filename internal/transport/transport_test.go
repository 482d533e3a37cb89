package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWrapDuplexCloseWriteNoOpOnPipe(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	ex := WrapDuplex(a)
	if err := ex.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite on net.Pipe should no-op, got %v", err)
	}
	if err := ex.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWrapDuplexReadWrite(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ex := WrapDuplex(a)

	go func() {
		_, _ = b.Write([]byte("hello"))
	}()

	buf := make([]byte, 5)
	if _, err := io.ReadFull(ex, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "hello" {
		t.Errorf("got %q, want %q", buf, "hello")
	}
}

func TestStatefulOpenReturnsSameExchange(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	adapter := NewStateful(WrapDuplex(a), false)
	if !adapter.Stateful() {
		t.Error("expected Stateful() to be true")
	}

	ex1, err := adapter.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ex2, err := adapter.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ex1 != ex2 {
		t.Error("expected successive Open calls to return the same Exchange")
	}
}

func TestStatefulCloseThenOpenFails(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	adapter := NewStateful(WrapDuplex(a), false)
	if err := adapter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := adapter.Open(context.Background()); err == nil {
		t.Error("expected Open after Close to fail")
	}
	// Close is idempotent.
	if err := adapter.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestStatelessDialsFreshExchangePerOpen(t *testing.T) {
	dialed := 0
	adapter := NewStateless(func(ctx context.Context) (Exchange, error) {
		dialed++
		a, b := net.Pipe()
		go func() { _ = b.Close() }()
		return WrapDuplex(a), nil
	}, false)

	if adapter.Stateful() {
		t.Error("expected Stateful() to be false")
	}

	ex1, err := adapter.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ex2, err := adapter.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ex1 == ex2 {
		t.Error("expected distinct Exchange per Open call")
	}
	if dialed != 2 {
		t.Errorf("got %d dials, want 2", dialed)
	}
	_ = ex1.Close()
	_ = ex2.Close()
}

func TestStatelessCloseRejectsFurtherOpen(t *testing.T) {
	adapter := NewStateless(func(ctx context.Context) (Exchange, error) {
		t.Fatal("dial should not be called after Close")
		return nil, nil
	}, false)

	if err := adapter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := adapter.Open(context.Background()); err == nil {
		t.Error("expected Open after Close to fail")
	}
}

func TestHTTPDialerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(echoHandler{})
	defer srv.Close()

	dialer := NewHTTPDialer(srv.URL)
	adapter := NewStateless(dialer.Dial, true)

	ex, err := adapter.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ex.Close()

	if _, err := ex.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ex.CloseWrite(); err != nil {
		t.Fatalf("CloseWrite: %v", err)
	}

	got, err := io.ReadAll(ex)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "ping" {
		t.Errorf("got %q, want %q", got, "ping")
	}
}

func TestHTTPDialerNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(failHandler{})
	defer srv.Close()

	dialer := NewHTTPDialer(srv.URL)
	ex, err := dialer.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := ex.Write([]byte("x")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ex.CloseWrite(); err == nil {
		t.Error("expected CloseWrite to surface the non-2xx status")
	}
}

type echoHandler struct{}

func (echoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", ContentTypeAvroBinary)
	_, _ = w.Write(body)
}

type failHandler struct{}

func (failHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(500)
	_, _ = w.Write([]byte("boom"))
}

