package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SamirTalwar/sandcastles/internal/api"
	"github.com/SamirTalwar/sandcastles/internal/config"
)

func newStartCmd(ctx *context) *cobra.Command {
	var scope string
	var name string
	var workdir string
	var env []string
	var passEnv []string
	var probeTCP string
	var probeDeadline time.Duration
	var grace time.Duration
	var maxRestarts int

	cmd := &cobra.Command{
		Use:   "start --scope SCOPE [flags] -- COMMAND [ARGS...]",
		Short: "Start a service in a scope and wait for it to become ready",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := &config.ServiceSpec{
				Command: args,
				Workdir: workdir,
				PassEnv: passEnv,
			}
			if len(env) > 0 {
				spec.Env = make(map[string]string, len(env))
				for _, pair := range env {
					key, value, found := strings.Cut(pair, "=")
					if !found || key == "" {
						return fmt.Errorf("invalid --env value %q, expected KEY=VALUE", pair)
					}
					spec.Env[key] = value
				}
			}
			if probeTCP != "" {
				spec.Probe = &config.ProbeSpec{
					TCP:      &config.TCPProbeSpec{Address: probeTCP},
					Deadline: config.Duration{Duration: probeDeadline},
				}
			}
			if grace > 0 {
				spec.GracePeriod = config.Duration{Duration: grace}
			}
			if maxRestarts != 0 {
				spec.Restart = &config.RestartPolicy{MaxAttempts: maxRestarts}
			}

			status, err := ctx.client().startService(cmd.Context(), api.StartServiceRequest{
				Scope:   scope,
				Name:    name,
				Service: spec,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started %s (%s) pid %d\n", status.Name, status.State, status.PID)
			return nil
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "Scope to attach the service to (required)")
	cmd.Flags().StringVar(&name, "name", "", "Service name (generated when omitted)")
	cmd.Flags().StringVar(&workdir, "workdir", "", "Working directory for the process")
	cmd.Flags().StringArrayVar(&env, "env", nil, "Environment entry KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&passEnv, "pass-env", nil, "Daemon environment variable to forward (repeatable)")
	cmd.Flags().StringVar(&probeTCP, "probe-tcp", "", "TCP address to probe for readiness")
	cmd.Flags().DurationVar(&probeDeadline, "probe-deadline", 0, "Overall readiness deadline")
	cmd.Flags().DurationVar(&grace, "grace", 0, "Grace period before force-killing on stop")
	cmd.Flags().IntVar(&maxRestarts, "max-restarts", 0, "Restart budget after crashes (-1 for unlimited)")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}
