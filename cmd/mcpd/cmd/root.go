// Package cmd provides the CLI commands for the mcpd binary.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ultimate-mcp/mcpd/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcpd",
	Short: "mcpd - Model Context Protocol coding platform",
	Long: `mcpd exposes static-lint, code-execution, test-execution,
template generation, and graph persistence/query as tools over both an
HTTP/JSON surface and the MCP streaming-HTTP transport.

Configuration is loaded from mcpd.yaml in the current directory,
$HOME/.mcpd/, or /etc/mcpd/. Environment variables override config
values with the MCPD_ prefix, e.g. MCPD_SERVER_PORT=9090.

Commands:
  serve        Start the service
  version      Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcpd.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
