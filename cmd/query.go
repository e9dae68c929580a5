package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/hooplab/statsync/internal/export"
	"github.com/hooplab/statsync/internal/model"
	"github.com/hooplab/statsync/internal/store"
)

var (
	querySeason     int
	queryTeam       string
	queryPlayer     string
	queryRunID      string
	queryVersion    int64
	queryMinMinutes float64
	queryMinGames   float64
	queryFormat     string
	queryOut        string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query canonical records",
	Long:  "Reads committed canonical records. Without --run or --version the latest committed version for the season is returned. --min-minutes and --min-games apply the standard eligibility filter.",
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

		records, err := st.Query(ctx, store.RecordQuery{
			Season:     querySeason,
			Team:       queryTeam,
			Player:     queryPlayer,
			RunID:      queryRunID,
			Version:    queryVersion,
			MinMinutes: queryMinMinutes,
			MinGames:   queryMinGames,
		})
		if err != nil {
			return eris.Wrap(err, "query")
		}

		out := os.Stdout
		if queryOut != "" {
			f, err := os.Create(queryOut)
			if err != nil {
				return eris.Wrap(err, "query: create output file")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		switch queryFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		case "csv":
			return export.WriteCSV(out, records)
		case "table":
			formatRecords(out, records)
			return nil
		default:
			return eris.Errorf("unknown format %q (want table, json, or csv)", queryFormat)
		}
	},
}

func init() {
	queryCmd.Flags().IntVar(&querySeason, "season", 0, "season end year (required)")
	queryCmd.Flags().StringVar(&queryTeam, "team", "", "filter by canonical team code")
	queryCmd.Flags().StringVar(&queryPlayer, "player", "", "filter by normalized player name")
	queryCmd.Flags().StringVar(&queryRunID, "run", "", "address a specific run's snapshot")
	queryCmd.Flags().Int64Var(&queryVersion, "version", 0, "address a specific committed version")
	queryCmd.Flags().Float64Var(&queryMinMinutes, "min-minutes", 0, "minimum minutes per game (eligibility default: 10)")
	queryCmd.Flags().Float64Var(&queryMinGames, "min-games", 0, "minimum games played (eligibility default: 20)")
	queryCmd.Flags().StringVar(&queryFormat, "format", "table", "output format: table, json, csv")
	queryCmd.Flags().StringVar(&queryOut, "out", "", "write output to a file instead of stdout")
	_ = queryCmd.MarkFlagRequired("season")
	rootCmd.AddCommand(queryCmd)
}

func formatRecords(out *os.File, records []model.CanonicalRecord) {
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "No records found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLAYER\tTEAM\tG\tMP\tPTS\tTRB\tAST\tSOURCES\tCONFLICTS")
	for _, rec := range records {
		conflicts := 0
		for _, fv := range rec.Fields {
			if fv.Conflicted {
				conflicts++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			rec.Player, rec.Key.Team,
			cell(rec, model.StatGames), cell(rec, model.StatMinutes),
			cell(rec, model.StatPTS), cell(rec, model.StatTRB), cell(rec, model.StatAST),
			len(rec.Sources), conflicts,
		)
	}
	_ = w.Flush()
}

func cell(rec model.CanonicalRecord, field string) string {
	fv, ok := rec.Fields[field]
	if !ok || fv.Value.IsNull() {
		return "-"
	}
	if f, isNum := fv.Value.Float(); isNum {
		return fmt.Sprintf("%g", f)
	}
	s, _ := fv.Value.Text()
	return s
}
