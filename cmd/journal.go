package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/agentic-research/cfsync/internal/config"
	"github.com/agentic-research/cfsync/internal/journal"
	"github.com/spf13/cobra"
)

func newJournalCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "journal [run-id]",
		Short: "List the actions recorded for a run, by default the latest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			if cfg.Journal == "" {
				return errors.New("no journal configured (--journal or " + config.EnvJournal + ")")
			}
			j, err := journal.Open(cfg.Journal)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			var runID string
			if len(args) == 1 {
				runID = args[0]
			}
			entries, err := j.Entries(cmd.Context(), runID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "no entries")
				return nil
			}
			fmt.Fprintf(out, "run %s\n", entries[0].RunID)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tKIND\tNAME\tACTION\tDRY RUN\tERROR")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
					e.At.Format(time.RFC3339), e.Kind, e.Name, e.Action, e.DryRun, e.Error)
			}
			return tw.Flush()
		},
	}
}
