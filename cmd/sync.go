package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/agentic-research/cfsync/internal/cli"
	"github.com/agentic-research/cfsync/internal/codefresh"
	"github.com/spf13/cobra"
)

func newSyncCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Create missing pipelines and update changed ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, false)
		},
	}
}

func newPlanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what sync would change without writing to Codefresh",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, opts, true)
		},
	}
}

// printReport lists every outcome that changed, or would change, the
// platform, followed by the failures and a summary line.
func printReport(w io.Writer, report cli.Report, dryRun bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	verb := map[codefresh.Action]string{
		codefresh.ActionCreated: "created",
		codefresh.ActionUpdated: "updated",
	}
	if dryRun {
		verb[codefresh.ActionCreated] = "would create"
		verb[codefresh.ActionUpdated] = "would update"
	}

	var created, updated, unchanged, failed int
	for _, res := range []codefresh.Result{report.Projects, report.Created, report.Updated} {
		for _, o := range res.Outcomes {
			switch o.Action {
			case codefresh.ActionCreated, codefresh.ActionUpdated:
				fmt.Fprintf(tw, "%s\t%s\t%s\n", verb[o.Action], o.Kind, o.Name)
			case codefresh.ActionFailed:
				fmt.Fprintf(tw, "failed\t%s\t%s\t%v\n", o.Kind, o.Name, o.Err)
			}
			if o.Kind != codefresh.KindPipeline {
				continue
			}
			switch o.Action {
			case codefresh.ActionCreated:
				created++
			case codefresh.ActionUpdated:
				updated++
			case codefresh.ActionUnchanged:
				unchanged++
			case codefresh.ActionFailed:
				failed++
			}
		}
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "%d specs: %d created, %d updated, %d unchanged, %d failed\n",
		len(report.Specs), created, updated, unchanged, failed)
}
