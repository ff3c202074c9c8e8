package cmd

import (
	"context"
	"fmt"
	"newsq/internal/config"
	"newsq/internal/infra/archive"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func recipientsCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "recipients",
		Short: "Manage failure alert recipients",
	}

	var name string
	add := &cobra.Command{
		Use:   "add <email>",
		Short: "Add an alert recipient",
		Args:  cobra.ExactArgs(1),
		RunE: withArchive(func(ctx context.Context, s *archive.Store, args []string) error {
			r, err := s.AddRecipient(ctx, args[0], name)
			if err != nil {
				return err
			}
			fmt.Printf("added %s\n", r.Email)
			return nil
		}),
	}
	add.Flags().StringVar(&name, "name", "", "Display name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List alert recipients",
		RunE: withArchive(func(ctx context.Context, s *archive.Store, _ []string) error {
			rs, err := s.ListRecipients(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EMAIL\tNAME\tACTIVE")
			for _, r := range rs {
				fmt.Fprintf(w, "%s\t%s\t%t\n", r.Email, r.Name, r.IsActive)
			}
			return w.Flush()
		}),
	}

	setActive := func(use, short string, active bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <email>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: withArchive(func(ctx context.Context, s *archive.Store, args []string) error {
				return s.SetRecipientActive(ctx, args[0], active)
			}),
		}
	}

	command.AddCommand(add, list,
		setActive("enable", "Resume alerts for a recipient", true),
		setActive("disable", "Stop alerts for a recipient", false),
	)
	return command
}

func withArchive(fn func(ctx context.Context, s *archive.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg := config.MustLoad()
		db, err := archive.Open(cfg.Database)
		if err != nil {
			return err
		}
		s := archive.New(db, cfg.Scheduler.SubmissionSource)
		defer s.Close()

		ctx := cmd.Context()
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		return fn(ctx, s, args)
	}
}
