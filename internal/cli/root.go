// Package cli implements the sandcastles command line interface.
package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is stamped at build time.
var Version = "dev"

// NewRootCmd constructs the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	var addr string

	root := &cobra.Command{
		Use:   "sandcastles",
		Short: "Local process supervision daemon",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:7477", "Address of the daemon control API")

	ctx := &context{addr: &addr}
	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newStartCmd(ctx))
	root.AddCommand(newStopCmd(ctx))
	root.AddCommand(newScopeCmd(ctx))
	root.AddCommand(newEventsCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true
	return root
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// context carries flags shared by the client-side subcommands.
type context struct {
	addr *string
}

func (c *context) client() *client {
	return newClient(*c.addr)
}
