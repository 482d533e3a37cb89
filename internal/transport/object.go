package transport

// ObjectConn is a message-oriented duplex that preserves record
// boundaries itself: ReadMessage/WriteMessage each carry exactly one
// whole record, never splitting or coalescing across calls.
// *websocket.Conn satisfies this directly.
type ObjectConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// objectExchange adapts an ObjectConn into an Exchange whose
// WriteMessage/ReadMessage methods satisfy internal/frame's
// ObjectWriter/ObjectReader, so frame sequences are coalesced into one
// whole message per call instead of length-prefixed onto a continuous
// stream.
type objectExchange struct {
	conn        ObjectConn
	messageType int
}

// WrapObjectDuplex adapts conn into an object-mode Exchange. messageType
// is the wire message type (e.g. websocket.BinaryMessage) every
// WriteMessage call uses.
func WrapObjectDuplex(conn ObjectConn, messageType int) Exchange {
	return &objectExchange{conn: conn, messageType: messageType}
}

func (d *objectExchange) WriteMessage(p []byte) error {
	return d.conn.WriteMessage(d.messageType, p)
}

func (d *objectExchange) ReadMessage() ([]byte, error) {
	_, p, err := d.conn.ReadMessage()
	return p, err
}

// Write and Read exist only so objectExchange satisfies Exchange's
// io.Writer/io.Reader embedding; internal/frame always prefers
// WriteMessage/ReadMessage when present and never calls these.
func (d *objectExchange) Write(p []byte) (int, error) {
	if err := d.conn.WriteMessage(d.messageType, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (d *objectExchange) Read(p []byte) (int, error) {
	_, msg, err := d.conn.ReadMessage()
	if err != nil {
		return 0, err
	}
	return copy(p, msg), nil
}

// CloseWrite is a no-op: a message-oriented duplex has no half-close,
// only whole-connection Close.
func (d *objectExchange) CloseWrite() error { return nil }

func (d *objectExchange) Close() error { return d.conn.Close() }
