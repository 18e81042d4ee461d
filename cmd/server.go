package cmd

import (
	"github.com/spf13/cobra"
	"live-academy/config"
	server2 "live-academy/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server and recording finalize consumer",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
