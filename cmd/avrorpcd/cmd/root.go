// Package cmd provides the avrorpcd CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avrorpc/avrorpc/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "avrorpcd",
	Short: "avrorpcd - Avro RPC proxy launcher",
	Long: `avrorpcd boots a multi-scope Avro RPC proxy: POST (avro/binary,
avro/json), CONNECT tunnels, and WebSocket upgrades, fronting whatever
Servers it binds to configured scopes.

Quick start:
  1. Create a config file: avrorpc.yaml
  2. Run: avrorpcd serve

Configuration:
  Config is loaded from avrorpc.yaml in the current directory,
  $HOME/.avrorpc/, or /etc/avrorpc/.

  Environment variables can override config values with the AVRORPC_
  prefix. Example: AVRORPC_SERVER_ADDR=:9090

Commands:
  serve       Start the proxy server
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./avrorpc.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
