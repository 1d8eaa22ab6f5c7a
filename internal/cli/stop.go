package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStopCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop SERVICE",
		Short: "Stop a service and wait for it to terminate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().stopService(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if status.Exit != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", status.Name, status.State, status.Exit)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", status.Name, status.State)
			}
			return nil
		},
	}
	return cmd
}
