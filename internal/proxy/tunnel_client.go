package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
)

// TunnelOptions configures StartTunnel.
type TunnelOptions struct {
	// Scopes is sent as the comma-separated `scopes` request header. If
	// empty, the proxy falls back to reading scopes from the URL path.
	Scopes []string
	// Header carries additional request headers (e.g. credentials the
	// receiver inspects for admission).
	Header http.Header
	// TLSConfig is used when rawURL's scheme is "https"; nil selects
	// crypto/tls's defaults.
	TLSConfig *tls.Config
}

// StartTunnel is the client counterpart to connectHandler: it dials
// rawURL's host, issues an HTTP CONNECT for rawURL's path, and on a 200
// response returns the underlying socket ready to carry framed Avro RPC
// traffic. On any other status it drains the response body for a
// best-effort diagnostic and returns an error instead.
func StartTunnel(ctx context.Context, rawURL string, opts TunnelOptions) (net.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse tunnel url: %w", err)
	}

	conn, err := dialTunnelHost(ctx, u, opts.TLSConfig)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial tunnel host: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodConnect, rawURL, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: build connect request: %w", err)
	}
	req.Host = u.Host
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if len(opts.Scopes) > 0 {
		req.Header.Set("scopes", strings.Join(opts.Scopes, ","))
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: write connect request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: read connect response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		conn.Close()
		return nil, fmt.Errorf("proxy: tunnel rejected: %s: %s", resp.Status, body)
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, br: br}, nil
	}
	return conn, nil
}

// StartTunnelWithRetry calls StartTunnel, retrying a failed dial or a
// rejected CONNECT with exponential backoff up to maxAttempts (0 means
// unlimited). It gives up early if ctx is done.
func StartTunnelWithRetry(ctx context.Context, rawURL string, opts TunnelOptions, maxAttempts int) (net.Conn, error) {
	b := &backoff.Backoff{Min: 200 * time.Millisecond, Max: 30 * time.Second}
	var lastErr error
	for attempt := 0; maxAttempts <= 0 || attempt < maxAttempts; attempt++ {
		conn, err := StartTunnel(ctx, rawURL, opts)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}
	return nil, fmt.Errorf("proxy: tunnel dial exhausted retries: %w", lastErr)
}

func dialTunnelHost(ctx context.Context, u *url.URL, tlsConfig *tls.Config) (net.Conn, error) {
	var d net.Dialer
	switch u.Scheme {
	case "https", "wss":
		return tls.DialWithDialer(&d, "tcp", hostWithPort(u, "443"), tlsConfig)
	default:
		return d.DialContext(ctx, "tcp", hostWithPort(u, "80"))
	}
}

func hostWithPort(u *url.URL, defaultPort string) string {
	if u.Port() != "" {
		return u.Host
	}
	return net.JoinHostPort(u.Hostname(), defaultPort)
}

// bufferedConn replays bytes http.ReadResponse had already buffered past
// the status line before handing the connection back to the caller.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) {
	if b.br.Buffered() > 0 {
		return b.br.Read(p)
	}
	return b.Conn.Read(p)
}
