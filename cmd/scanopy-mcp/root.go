package main

import (
	"io"

	"github.com/spf13/cobra"

	"scanopy-mcp/internal/container"
	"scanopy-mcp/internal/server"
	"scanopy-mcp/pkg/config"
	"scanopy-mcp/pkg/logging"
)

// app carries the process inputs shared by every command
type app struct {
	lookup    config.LookupFunc
	logOutput io.Writer

	envFile  string
	logLevel string
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "scanopy-mcp",
		Short:         "MCP server exposing the Scanopy REST API as tools",
		Long:          "scanopy-mcp derives MCP tools from the Scanopy interface document and serves them over stdio.",
		Version:       server.ServerVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file to load (default .env when present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override: DEBUG, INFO, WARN, ERROR")

	root.AddCommand(newServeCmd(a))
	root.AddCommand(newBridgeCmd(a))
	root.AddCommand(newToolsCmd(a))
	root.AddCommand(newCallCmd(a))
	root.AddCommand(newVersionCmd())
	return root
}

// build loads configuration and wires the components. Configuration errors
// are returned unchanged so the process exits before serving.
func (a *app) build() (*container.Container, error) {
	if err := config.LoadEnvFile(a.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.FromLookup(a.lookup)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	logs := logging.NewLoggingManagerWithWriter(a.logOutput)
	logs.SetLogLevel(cfg.LogLevel)
	logs.SetGlobalContext("service", server.ServerName)
	logs.SetGlobalContext("version", server.ServerVersion)

	return container.New(cfg, logs)
}
