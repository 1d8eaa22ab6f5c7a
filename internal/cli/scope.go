package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScopeCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Manage lifecycle scopes",
	}
	cmd.AddCommand(newScopeOpenCmd(ctx))
	cmd.AddCommand(newScopeCloseCmd(ctx))
	return cmd
}

func newScopeOpenCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Open a new scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := ctx.client().openScope(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), scope.ID)
			return nil
		},
	}
}

func newScopeCloseCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "close SCOPE",
		Short: "Close a scope, stopping all of its services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.client().closeScope(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "closed %s\n", args[0])
			return nil
		},
	}
}
