package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"scanopy-mcp/pkg/tools"
)

func newCallCmd(a *app) *cobra.Command {
	var (
		rawArgs string
		confirm string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke one tool and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			args := map[string]interface{}{}
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}

			c, err := a.build()
			if err != nil {
				return err
			}
			result, err := c.Dispatcher().Call(cmd.Context(), positional[0], args, tools.CallOptions{
				Confirm: confirm,
				DryRun:  dryRun,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "tool arguments as a JSON object")
	cmd.Flags().StringVar(&confirm, "confirm", "", "confirmation string for write tools")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "describe the request without sending it")
	return cmd
}
