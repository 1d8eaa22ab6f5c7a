package cli

import (
	"github.com/spf13/cobra"

	"github.com/SamirTalwar/sandcastles/internal/config"
	"github.com/SamirTalwar/sandcastles/internal/daemon"
	"github.com/SamirTalwar/sandcastles/internal/log"
)

func newServeCmd() *cobra.Command {
	var configFile string
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervision daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var manifest *config.Document
			if configFile != "" {
				doc, err := config.Load(configFile)
				if err != nil {
					return err
				}
				manifest = doc
			}

			d := daemon.New(daemon.Options{
				Manifest: manifest,
				Listen:   listen,
				Logger:   log.New(log.FromEnv()),
				Version:  Version,
			})
			return d.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "f", "", "Path to a service manifest to boot with")
	cmd.Flags().StringVar(&listen, "listen", "", "Control API listen address (overrides the manifest)")
	return cmd
}
