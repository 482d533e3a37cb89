// Package demo provides the one pre-registered Server avrorpcd binds to
// every configured scope: a minimal ping/echo protocol for smoke-testing
// a deployment (admission hooks, tracing, metrics) without requiring a
// caller to bring their own compiled protocol.
package demo

import (
	"context"
	"time"

	"github.com/avrorpc/avrorpc/internal/protocol"
	"github.com/avrorpc/avrorpc/internal/rpc"
	"github.com/avrorpc/avrorpc/pkg/avro"
)

// PingRequest carries an opaque payload the server echoes back.
type PingRequest struct {
	Payload string `avro:"payload" json:"payload"`
}

// PingResponse is the echoed payload plus the server's observation time.
type PingResponse struct {
	Payload   string `avro:"payload" json:"payload"`
	ServerTime string `avro:"serverTime" json:"serverTime"`
}

const protocolDoc = `{"protocol":"AvroRPCPing"}`

// NewService compiles the ping protocol.
func NewService() (*protocol.Service, error) {
	reqType := avro.NewType("org.avrorpc.demo.PingRequest", PingRequest{})
	respType := avro.NewType("org.avrorpc.demo.PingResponse", PingResponse{})
	msg := protocol.NewMessage("ping", false, reqType, respType, nil)
	return protocol.NewService("AvroRPCPing", protocolDoc, []*protocol.Message{msg}, nil)
}

// NewServer builds a Server bound to a compiled ping Service, answering
// every call by echoing its payload back with the current server time.
func NewServer() (*rpc.Server, error) {
	svc, err := NewService()
	if err != nil {
		return nil, err
	}
	srv := rpc.NewServer(svc)
	srv.OnMessage("ping", func(ctx context.Context, cctx *rpc.CallContext, req any) (any, error) {
		in := req.(*PingRequest)
		return &PingResponse{
			Payload:    in.Payload,
			ServerTime: time.Now().UTC().Format(time.RFC3339Nano),
		}, nil
	})
	return srv, nil
}
