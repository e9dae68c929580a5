package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hooplab/statsync/internal/collect"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run's per-source progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "status")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Run:\t%s\n", run.ID)
		fmt.Fprintf(w, "Season:\t%d\n", run.Scope.Season)
		fmt.Fprintf(w, "Status:\t%s\n", run.Status)
		if run.Outcome != "" {
			fmt.Fprintf(w, "Outcome:\t%s\n", run.Outcome)
		}
		if run.Version > 0 {
			fmt.Fprintf(w, "Version:\t%d\n", run.Version)
		}
		fmt.Fprintf(w, "Started:\t%s\n", run.StartedAt.Format(time.RFC3339))
		if run.FinishedAt != nil {
			fmt.Fprintf(w, "Finished:\t%s\n", run.FinishedAt.Format(time.RFC3339))
		}
		fmt.Fprintln(w)

		fmt.Fprintln(w, "SOURCE\tSTATUS\tFETCHED\tACCEPTED\tREPAIRED\tREJECTED\tSKIPPED")
		ids := make([]string, 0, len(run.Sources))
		for id := range run.Sources {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			r := run.Sources[id]
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
				id, r.Status, r.Fetched, r.Accepted, r.Repaired, r.Rejected, r.Skipped)
		}

		if len(run.Errors) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, "KIND\tSOURCE\tUNIT\tMESSAGE")
			for _, e := range collect.SortedErrors(run) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Kind, e.Source, e.Unit, e.Message)
			}
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
