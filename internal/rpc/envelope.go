package rpc

import (
	"github.com/avrorpc/avrorpc/internal/frame"
	"github.com/avrorpc/avrorpc/internal/rpcerr"
	"github.com/avrorpc/avrorpc/internal/transport"
	"github.com/avrorpc/avrorpc/pkg/avro"
)

// Request and response envelopes are written as a fixed sequence of
// independent frame sequences (each its own length-prefixed, zero-
// terminated run, per internal/frame) rather than as one continuously
// Avro-encoded blob: the payload's type varies per message and is not
// known to the envelope itself, so each logical field gets its own
// frame-sequence boundary instead of relying on schema-driven field
// widths the way single-protocol Avro RPC framing does.
//
// Request:  handshake, callID, messageName, headers, payload
// Response: handshake, callID, headers, flag, payload

func writeRequestEnvelope(ex transport.Exchange, handshake []byte, id uint32, msgName string, headers, payload []byte) error {
	if err := frame.WriteFrames(ex, handshake); err != nil {
		return err
	}
	if err := frame.WriteFrames(ex, encodeCallID(id)); err != nil {
		return err
	}
	if err := frame.WriteFrames(ex, []byte(msgName)); err != nil {
		return err
	}
	if err := frame.WriteFrames(ex, headers); err != nil {
		return err
	}
	return frame.WriteFrames(ex, payload)
}

func readRequestEnvelope(ex transport.Exchange) (handshake []byte, id uint32, msgName string, headers, payload []byte, err error) {
	handshake, err = frame.ReadFrames(ex)
	if err != nil {
		return nil, 0, "", nil, nil, err
	}
	idBytes, err := frame.ReadFrames(ex)
	if err != nil {
		return nil, 0, "", nil, nil, rpcerr.Wrap(rpcerr.KindTransport, "read call id", err)
	}
	id = decodeCallID(idBytes)
	nameBytes, err := frame.ReadFrames(ex)
	if err != nil {
		return nil, 0, "", nil, nil, rpcerr.Wrap(rpcerr.KindTransport, "read message name", err)
	}
	msgName = string(nameBytes)
	headers, err = frame.ReadFrames(ex)
	if err != nil {
		return nil, 0, "", nil, nil, rpcerr.Wrap(rpcerr.KindTransport, "read request headers", err)
	}
	payload, err = frame.ReadFrames(ex)
	if err != nil {
		return nil, 0, "", nil, nil, rpcerr.Wrap(rpcerr.KindTransport, "read request payload", err)
	}
	return handshake, id, msgName, headers, payload, nil
}

func writeResponseEnvelope(ex transport.Exchange, handshake []byte, id uint32, headers []byte, isError bool, payload []byte) error {
	if err := frame.WriteFrames(ex, handshake); err != nil {
		return err
	}
	if err := frame.WriteFrames(ex, encodeCallID(id)); err != nil {
		return err
	}
	if err := frame.WriteFrames(ex, headers); err != nil {
		return err
	}
	flag := []byte{byte(flagSuccess)}
	if isError {
		flag = []byte{byte(flagError)}
	}
	if err := frame.WriteFrames(ex, flag); err != nil {
		return err
	}
	return frame.WriteFrames(ex, payload)
}

func readResponseEnvelope(ex transport.Exchange) (handshake []byte, id uint32, headers []byte, flag responseFlag, payload []byte, err error) {
	handshake, err = frame.ReadFrames(ex)
	if err != nil {
		return nil, 0, nil, 0, nil, err
	}
	idBytes, err := frame.ReadFrames(ex)
	if err != nil {
		return nil, 0, nil, 0, nil, rpcerr.Wrap(rpcerr.KindTransport, "read response call id", err)
	}
	id = decodeCallID(idBytes)
	headers, err = frame.ReadFrames(ex)
	if err != nil {
		return nil, 0, nil, 0, nil, rpcerr.Wrap(rpcerr.KindTransport, "read response headers", err)
	}
	flagBytes, err := frame.ReadFrames(ex)
	if err != nil {
		return nil, 0, nil, 0, nil, rpcerr.Wrap(rpcerr.KindTransport, "read response flag", err)
	}
	if len(flagBytes) == 1 {
		flag = responseFlag(flagBytes[0])
	}
	payload, err = frame.ReadFrames(ex)
	if err != nil {
		return nil, 0, nil, 0, nil, rpcerr.Wrap(rpcerr.KindTransport, "read response payload", err)
	}
	return handshake, id, headers, flag, payload, nil
}

// systemErrorPayload encodes an undeclared/system-kind failure as a
// generic ApplicationError so the client always receives a well-formed
// response instead of the connection hanging.
func systemErrorPayload(err error) []byte {
	appErr := avro.NewApplicationError(err.Error())
	payload, encErr := avro.NewType("org.avrorpc.SystemError", avro.ApplicationError{}).Encode(appErr)
	if encErr != nil {
		return nil
	}
	return payload
}
