package proxy

import (
	"context"
	"fmt"

	"github.com/avrorpc/avrorpc/internal/rpc"
	"github.com/avrorpc/avrorpc/internal/rpcerr"
)

// mergeDispatchers builds one Channel Dispatcher that routes each
// incoming call to whichever of servers declares its message name,
// trying servers in order. This is how one physical socket serves
// several requested scopes: the wire never tags a message with the
// scope it belongs to, so scopes sharing one channel are disambiguated
// purely by message name, and a name declared by more than one of the
// bound scopes is a configuration conflict resolved by first match.
func mergeDispatchers(ch *rpc.Channel, servers []*rpc.Server) rpc.Dispatcher {
	dispatchers := make([]rpc.Dispatcher, len(servers))
	for i, s := range servers {
		s.Track(ch)
		dispatchers[i] = s.AsDispatcher(ch)
	}
	return func(ctx context.Context, msgName string, headers *rpc.Headers, raw []byte) (*rpc.DispatchResult, error) {
		for i, s := range servers {
			if _, ok := s.Service().Message(msgName); ok {
				return dispatchers[i](ctx, msgName, headers, raw)
			}
		}
		return nil, rpcerr.New(rpcerr.KindSystem, fmt.Sprintf("no bound scope declares message %q", msgName))
	}
}
