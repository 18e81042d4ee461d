package cmd

import (
	"github.com/spf13/cobra"
	"live-academy/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "live-academy",
		Short: "live class sessions and cloud recording",
	}
	rootCmd.AddCommand(server(config))
	rootCmd.AddCommand(migrate(config))
	return rootCmd
}
