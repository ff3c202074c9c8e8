package cmd

import (
	"newsq/internal/worker"
	"time"

	"github.com/spf13/cobra"
)

func workerCmd() *cobra.Command {
	var (
		consumerName string
		concurrency  int
		baseBackoff  time.Duration
		maxBackoff   time.Duration
	)

	var command = &cobra.Command{
		Use:   "worker",
		Short: "Start worker server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return worker.Run(worker.Config{
				ConsumerName: consumerName,
				Concurrency:  concurrency,
				BaseBackoff:  baseBackoff,
				MaxBackoff:   maxBackoff,
			})
		},
	}

	command.Flags().StringVar(&consumerName, "consumer", "worker-1", "Worker consumer name")
	command.Flags().IntVarP(&concurrency, "concurrency", "c", 1, "Jobs processed at once")
	command.Flags().DurationVar(&baseBackoff, "base-backoff", 0, "Base retry backoff (defaults to QUEUE_BASE_BACKOFF)")
	command.Flags().DurationVar(&maxBackoff, "max-backoff", 0, "Max retry backoff (defaults to QUEUE_MAX_BACKOFF)")

	return command
}
