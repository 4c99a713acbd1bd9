package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scanopy-mcp/internal/server"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server name and version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", server.ServerName, server.ServerVersion)
		},
	}
}
