// Package receivers supplies concrete proxy.Receiver admission hooks: a
// static bearer-token check and a CEL policy expression evaluated
// against the connecting request's headers.
package receivers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/google/cel-go/cel"

	"github.com/avrorpc/avrorpc/internal/rpc"
)

// ErrInvalidToken is returned by StaticTokenReceiver for a missing or
// non-matching bearer token.
var ErrInvalidToken = errors.New("receivers: invalid bearer token")

// ErrDenied is returned by CELReceiver when the expression evaluates to
// false or a non-boolean result.
var ErrDenied = errors.New("receivers: denied by policy expression")

// StaticTokenReceiver admits a connection whose `authorization` header
// carries a bearer token matching one of a fixed set of Argon2id hashes.
type StaticTokenReceiver struct {
	hashes []string
}

// NewStaticTokenReceiver builds a StaticTokenReceiver from PHC-format
// Argon2id hashes (see argon2id.CreateHash).
func NewStaticTokenReceiver(hashes ...string) *StaticTokenReceiver {
	return &StaticTokenReceiver{hashes: hashes}
}

// Receive implements proxy.Receiver.
func (r *StaticTokenReceiver) Receive(headers *rpc.Headers) (func(*rpc.Channel), error) {
	raw, ok := headers.Get("authorization")
	if !ok {
		return nil, ErrInvalidToken
	}
	token := strings.TrimPrefix(string(raw), "Bearer ")
	for _, hash := range r.hashes {
		match, err := argon2id.ComparePasswordAndHash(token, hash)
		if err == nil && match {
			return nil, nil
		}
	}
	return nil, ErrInvalidToken
}

// CELReceiver admits or denies a connection by evaluating a CEL
// expression against its headers map, exposed to the expression as the
// `headers` variable.
type CELReceiver struct {
	prg cel.Program
}

// NewCELReceiver compiles expression once at construction time.
func NewCELReceiver(expression string) (*CELReceiver, error) {
	env, err := cel.NewEnv(cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)))
	if err != nil {
		return nil, fmt.Errorf("receivers: build cel environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("receivers: compile cel expression: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("receivers: build cel program: %w", err)
	}
	return &CELReceiver{prg: prg}, nil
}

// Receive implements proxy.Receiver.
func (r *CELReceiver) Receive(headers *rpc.Headers) (func(*rpc.Channel), error) {
	vars := map[string]any{"headers": headersToStringMap(headers)}
	out, _, err := r.prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("receivers: evaluate cel expression: %w", err)
	}
	admit, ok := out.Value().(bool)
	if !ok || !admit {
		return nil, ErrDenied
	}
	return nil, nil
}

func headersToStringMap(h *rpc.Headers) map[string]string {
	out := make(map[string]string)
	h.Each(func(key string, value []byte) {
		out[key] = string(value)
	})
	return out
}
