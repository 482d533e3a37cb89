// Command avrorpcd is the reference launcher for the Avro RPC runtime: a
// thin YAML/env-configured process that boots a proxy.Proxy, binds the
// built-in ping demo Server to configured scopes, and starts listening.
// It is not an IDL compiler or a protocol assembler — see
// internal/config for what it does and does not configure.
package main

import "github.com/avrorpc/avrorpc/cmd/avrorpcd/cmd"

func main() {
	cmd.Execute()
}
