// Command hostd runs the multi-tenant MCP hosted HTTP server of spec.md
// §6: JSON-RPC dispatch across three protocol revisions, an embedded OAuth
// 2.1 authorization server, and pluggable storage. Command style (cobra
// root with a PersistentFlags config path, subcommands registered from
// init) is grounded on Bigsy-mcpmu's cmd/mcpmu/root.go.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "hostd",
	Short: "Multi-tenant MCP hosted server",
	Long: `hostd hosts Model Context Protocol sessions for many tenants behind
a single HTTP endpoint, speaking JSON-RPC 2.0 over SSE or chunked-HTTP
streaming and fronting it all with an embedded OAuth 2.1 authorization
server.

Use 'hostd serve' to start listening.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: built-in defaults)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	Execute()
}
