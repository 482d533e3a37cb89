// Package frame implements Avro RPC framing — a frame sequence is a list
// of segments terminated by a zero-length segment — and the handshake
// record exchanged once per stateful channel (or once per call, for
// stateless channels). Over a byte-mode transport a frame sequence is
// written as length-prefixed segments directly on the continuous
// stream; over an object-mode transport (one that preserves message
// boundaries itself, e.g. WebSocket) the same length-prefixed encoding
// is instead coalesced into a single whole-record message, since the
// transport's own framing already replaces the need to delimit segments
// by interleaving reads against a shared stream.
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/avrorpc/avrorpc/internal/rpcerr"
)

// maxSegmentSize bounds a single framed segment to guard against a
// corrupt or hostile length prefix causing an unbounded allocation.
const maxSegmentSize = 64 * 1024 * 1024

// ObjectWriter is implemented by a transport.Exchange running in object
// mode: WriteMessage delivers exactly one whole frame sequence to the
// underlying transport in a single call, relying on the transport to
// preserve that call as one discrete message.
type ObjectWriter interface {
	WriteMessage([]byte) error
}

// ObjectReader is implemented by a transport.Exchange running in object
// mode: ReadMessage returns exactly one whole frame sequence as
// delivered by the underlying transport's own message boundaries.
type ObjectReader interface {
	ReadMessage() ([]byte, error)
}

// WriteFrames writes segments as one Avro RPC frame sequence: each
// segment prefixed by its 4-byte big-endian length, terminated by a
// zero-length segment. When w is running in object mode (it implements
// ObjectWriter), the whole encoded sequence is delivered as a single
// WriteMessage call instead of one Write per segment.
func WriteFrames(w io.Writer, segments ...[]byte) error {
	if ow, ok := w.(ObjectWriter); ok {
		return writeFramesObject(ow, segments)
	}
	for _, seg := range segments {
		if err := writeSegment(w, seg); err != nil {
			return err
		}
	}
	return writeSegment(w, nil)
}

func writeFramesObject(ow ObjectWriter, segments [][]byte) error {
	var buf bytes.Buffer
	for _, seg := range segments {
		if err := writeSegment(&buf, seg); err != nil {
			return err
		}
	}
	if err := writeSegment(&buf, nil); err != nil {
		return err
	}
	if err := ow.WriteMessage(buf.Bytes()); err != nil {
		return rpcerr.Wrap(rpcerr.KindTransport, "write object frame", err)
	}
	return nil
}

func writeSegment(w io.Writer, seg []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(seg)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return rpcerr.Wrap(rpcerr.KindTransport, "write frame length", err)
	}
	if len(seg) == 0 {
		return nil
	}
	if _, err := w.Write(seg); err != nil {
		return rpcerr.Wrap(rpcerr.KindTransport, "write frame segment", err)
	}
	return nil
}

// ReadFrames reads one frame sequence — every segment up to and
// including the terminating zero-length segment — and returns the
// concatenation of all non-empty segments. When r is running in object
// mode (it implements ObjectReader), the whole sequence is read back
// from a single ReadMessage call instead of segment-by-segment off a
// continuous stream.
func ReadFrames(r io.Reader) ([]byte, error) {
	if or, ok := r.(ObjectReader); ok {
		return readFramesObject(or)
	}
	var out []byte
	for {
		seg, err := readSegment(r)
		if err != nil {
			return nil, err
		}
		if seg == nil {
			return out, nil
		}
		out = append(out, seg...)
	}
}

func readFramesObject(or ObjectReader) ([]byte, error) {
	msg, err := or.ReadMessage()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, rpcerr.Wrap(rpcerr.KindTransport, "read object frame", err)
	}
	r := bytes.NewReader(msg)
	var out []byte
	for {
		seg, err := readSegment(r)
		if err != nil {
			return nil, err
		}
		if seg == nil {
			return out, nil
		}
		out = append(out, seg...)
	}
}

// readSegment reads one length-prefixed segment. A zero-length segment
// is reported as (nil, nil), signalling the end of the frame sequence.
func readSegment(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, rpcerr.Wrap(rpcerr.KindTransport, "read frame length", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, nil
	}
	if n > maxSegmentSize {
		return nil, rpcerr.New(rpcerr.KindCodec, fmt.Sprintf("frame segment of %d bytes exceeds limit", n))
	}
	seg := make([]byte, n)
	if _, err := io.ReadFull(r, seg); err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindTransport, "read frame segment", err)
	}
	return seg, nil
}
