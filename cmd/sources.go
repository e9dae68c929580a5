package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect configured sources and their health",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tPRECEDENCE\tMAX_RPM\tMIN_DELAY\tENABLED\tBASE_URL")
		for _, s := range cfg.Sources {
			fmt.Fprintf(w, "%s\t%s\t%d\t%g\t%s\t%t\t%s\n",
				s.ID, s.Kind, s.Precedence, s.MaxRPM, s.MinDelay, !s.Disabled, s.BaseURL)
		}
		return w.Flush()
	},
}

var sourcesHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show persisted source health snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		health, err := st.ListSourceHealth(ctx)
		if err != nil {
			return err
		}
		if len(health) == 0 {
			fmt.Fprintln(os.Stderr, "No health snapshots recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SOURCE\tSUCCESS_RATE\tWINDOW\tCIRCUIT\tLAST_SUCCESS\tLAST_FAILURE")
		for _, h := range health {
			circuit := "closed"
			if h.Open {
				circuit = "open"
			}
			fmt.Fprintf(w, "%s\t%.0f%%\t%d\t%s\t%s\t%s\n",
				h.SourceID, h.SuccessRate*100, h.WindowSize, circuit,
				fmtTime(h.LastSuccess), fmtTime(h.LastFailure))
		}
		return w.Flush()
	},
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func init() {
	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesHealthCmd)
	rootCmd.AddCommand(sourcesCmd)
}
