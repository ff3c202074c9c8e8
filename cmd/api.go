package cmd

import (
	"context"
	"newsq/internal/api"
	"newsq/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func apiCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "api",
		Short: "Start API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoad()
			log.Info().Str("redis", cfg.Redis.Addr).Str("database", cfg.Database.Driver).Msg("API server starting")
			server, err := api.New(context.Background(), cfg)
			if err != nil {
				return err
			}
			return server.Run(port)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}
