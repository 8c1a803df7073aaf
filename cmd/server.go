package cmd

import (
	"github.com/spf13/cobra"
	"vod-orchestrator/config"
	server2 "vod-orchestrator/server"
)

func server(config *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start the orchestrator server",
		Run: func(cmd *cobra.Command, args []string) {
			server2.RunHttp(config)
		},
	}
}
