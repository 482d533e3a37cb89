package transport

import "io"

// halfCloser is implemented by duplexes (e.g. *net.TCPConn, *net.UnixConn)
// that support shutting down the write half independently of the read
// half.
type halfCloser interface {
	CloseWrite() error
}

// duplexExchange adapts a plain io.ReadWriteCloser (a TCP/TLS connection,
// one half of an in-memory socketpair, a net.Pipe endpoint, ...) into an
// Exchange. If the underlying value also implements CloseWrite, that is
// used; otherwise CloseWrite is a no-op, matching transports (such as
// net.Pipe) that have no notion of a half-close.
type duplexExchange struct {
	io.ReadWriteCloser
}

// WrapDuplex adapts any full-duplex byte stream into an Exchange.
func WrapDuplex(rw io.ReadWriteCloser) Exchange {
	return &duplexExchange{ReadWriteCloser: rw}
}

func (d *duplexExchange) CloseWrite() error {
	if hc, ok := d.ReadWriteCloser.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return nil
}
