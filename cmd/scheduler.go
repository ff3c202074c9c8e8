package cmd

import (
	"newsq/internal/scheduler"

	"github.com/spf13/cobra"
)

func schedulerCmd() *cobra.Command {
	var cfg scheduler.Config

	var command = &cobra.Command{
		Use:   "scheduler",
		Short: "Crawl news sources and submit new articles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return scheduler.Run(cfg)
		},
	}

	command.Flags().IntVar(&cfg.Parallel, "parallel", 4, "Sources crawled at once")
	command.Flags().BoolVar(&cfg.Once, "once", false, "Run a single cycle and exit")
	return command
}
