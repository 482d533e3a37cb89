// Package tracing implements the distributed tracing middleware: a
// client-side handler that seeds or extends a Trace and stitches in the
// downstream subtree on the way back, and a server-side handler that
// receives, stores, and re-attaches that Trace for its own callers.
// Both sides record before calling onward and finalize in the reverse
// phase, the same before/after shape the surrounding request-scoped
// recorders use.
package tracing

import (
	"github.com/avrorpc/avrorpc/internal/middleware"
	"github.com/avrorpc/avrorpc/internal/rpc"
	"github.com/avrorpc/avrorpc/internal/rpcerr"
	"github.com/avrorpc/avrorpc/pkg/avro"
)

// DefaultKey is the header and locals key used when Options.Key is unset.
const DefaultKey = "trace"

// ClientOptions configures the client-side tracing handler.
type ClientOptions struct {
	// Key overrides the default header/locals key.
	Key string
	// CreateMissingOutgoing seeds a fresh Trace when the call's locals
	// carry none, instead of failing the call.
	CreateMissingOutgoing bool
	// IgnoreMissingIncoming proceeds with an empty downstream subtree
	// when the response carries no trace header, instead of failing.
	IgnoreMissingIncoming bool
}

func (o ClientOptions) key() string {
	if o.Key == "" {
		return DefaultKey
	}
	return o.Key
}

// ServerOptions configures the server-side tracing handler.
type ServerOptions struct {
	// Key overrides the default header/locals key.
	Key string
}

func (o ServerOptions) key() string {
	if o.Key == "" {
		return DefaultKey
	}
	return o.Key
}

// InstallClient wires the tracing middleware into c: an outgoing-call
// hook copies CallOptions.Trace into the call's locals, and a pipeline
// handler appends a Call node before the call and merges in the
// downstream subtree after.
func InstallClient(c *rpc.Client, opts ClientOptions) {
	key := opts.key()
	c.OnOutgoingCall(func(ctx *rpc.CallContext, callOpts rpc.CallOptions) {
		if callOpts.Trace == nil {
			return
		}
		ctx.Locals[key] = callOpts.Trace
	})
	c.Use(clientHandler(key, opts))
}

func clientHandler(key string, opts ClientOptions) middleware.Handler[*rpc.WrappedRequest, *rpc.WrappedResponse] {
	return func(wreq *rpc.WrappedRequest, wresp *rpc.WrappedResponse, next middleware.NextFunc) {
		trace, err := resolveOutgoingTrace(wreq.Ctx, key, opts)
		if err != nil {
			next(err, nil)
			return
		}

		oneWay := wreq.Message.OneWay()
		callIdx := trace.Append(wreq.Message.Name(), oneWay)

		outbound, encErr := avro.EncodeTrace(trace.Outbound())
		if encErr != nil {
			next(rpcerr.Wrap(rpcerr.KindTracing, "encode outbound trace", encErr), nil)
			return
		}
		wreq.Headers.Set(key, outbound)

		if oneWay {
			next(nil, nil)
			return
		}

		next(nil, func(callErr error, prev middleware.PrevFunc) {
			downstream, traceErr := mergeIncomingTrace(wresp, key, opts)
			if traceErr != nil {
				prev(traceErr)
				return
			}
			trace.FinishCall(callIdx, callErr != nil || wresp.Err != nil, downstream)
			prev(callErr)
		})
	}
}

func resolveOutgoingTrace(ctx *rpc.CallContext, key string, opts ClientOptions) (*avro.Trace, error) {
	if v, ok := ctx.Locals[key]; ok {
		trace, ok := v.(*avro.Trace)
		if !ok {
			return nil, rpcerr.New(rpcerr.KindTracing, "locals[trace] has the wrong type")
		}
		return trace, nil
	}
	if !opts.CreateMissingOutgoing {
		return nil, rpcerr.New(rpcerr.KindTracing, "missing outgoing trace")
	}
	trace, err := avro.NewTrace()
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindTracing, "create trace", err)
	}
	ctx.Locals[key] = trace
	return trace, nil
}

func mergeIncomingTrace(wresp *rpc.WrappedResponse, key string, opts ClientOptions) ([]avro.Call, error) {
	raw, ok := wresp.Headers.Get(key)
	if !ok {
		if opts.IgnoreMissingIncoming {
			return nil, nil
		}
		return nil, rpcerr.New(rpcerr.KindTracing, "missing incoming trace")
	}
	incoming, err := avro.DecodeTrace(raw)
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.KindTracing, "decode incoming trace", err)
	}
	return incoming.Calls, nil
}

// InstallServer wires the tracing middleware into s: the forward phase
// adopts the caller's trace (or starts one), and the reverse phase
// writes the full subtree back onto the response headers.
func InstallServer(s *rpc.Server, opts ServerOptions) {
	s.Use(serverHandler(opts.key()))
}

func serverHandler(key string) middleware.Handler[*rpc.WrappedRequest, *rpc.WrappedResponse] {
	return func(wreq *rpc.WrappedRequest, wresp *rpc.WrappedResponse, next middleware.NextFunc) {
		trace, err := resolveIncomingTrace(wreq, key)
		if err != nil {
			next(err, nil)
			return
		}
		wreq.Ctx.Locals[key] = trace

		next(nil, func(callErr error, prev middleware.PrevFunc) {
			encoded, encErr := avro.EncodeTrace(trace)
			if encErr != nil {
				prev(rpcerr.Wrap(rpcerr.KindTracing, "encode trace", encErr))
				return
			}
			if wresp.Headers == nil {
				wresp.Headers = rpc.NewHeaders()
			}
			wresp.Headers.Set(key, encoded)
			prev(callErr)
		})
	}
}

func resolveIncomingTrace(wreq *rpc.WrappedRequest, key string) (*avro.Trace, error) {
	raw, hasHeader := wreq.Headers.Get(key)
	_, hasLocal := wreq.Ctx.Locals[key]
	if hasHeader && hasLocal {
		return nil, rpcerr.New(rpcerr.KindTracing, "duplicate trace")
	}

	switch {
	case hasHeader:
		trace, err := avro.DecodeTrace(raw)
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.KindTracing, "decode incoming trace", err)
		}
		return trace, nil
	case hasLocal:
		trace, ok := wreq.Ctx.Locals[key].(*avro.Trace)
		if !ok {
			return nil, rpcerr.New(rpcerr.KindTracing, "locals[trace] has the wrong type")
		}
		return trace, nil
	default:
		trace, err := avro.NewTrace()
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.KindTracing, "create trace", err)
		}
		return trace, nil
	}
}
