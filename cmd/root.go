package cmd

import (
	"clipwave/config"

	"github.com/spf13/cobra"
)

func Root(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "clipwave",
		Short:         "turn a video url into highlight clips",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(server(cfg), run(cfg))
	return rootCmd
}
