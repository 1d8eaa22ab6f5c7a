package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display daemon scopes and services",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := ctx.client().status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "daemon version %s, %d scope(s)\n\n", report.Version, len(report.Scopes))

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tSTATE\tPID\tRESTARTS\tAGE\tSCOPE")
			for _, svc := range report.Services {
				age := "-"
				if !svc.Since.IsZero() {
					ageDur := time.Since(svc.Since)
					if ageDur < 0 {
						ageDur = 0
					}
					age = ageDur.Truncate(time.Second).String()
				}
				pid := "-"
				if svc.PID != 0 {
					pid = fmt.Sprint(svc.PID)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%.8s\n",
					svc.Name, svc.State, pid, svc.Restarts, age, string(svc.Scope))
			}
			return w.Flush()
		},
	}
	return cmd
}
