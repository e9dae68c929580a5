package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hooplab/statsync/internal/model"
)

var (
	runSeason   int
	runSources  []string
	runEntities []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a collection for one season",
	Long:  "Fetches the season from every configured source, validates and reconciles the records, and commits a new canonical version. Exits non-zero only when the run fails outright.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Coordinator.Run(ctx, model.Scope{
			Season:   runSeason,
			Entities: runEntities,
			Sources:  runSources,
		})
		if err != nil {
			return eris.Wrap(err, "collection run")
		}

		zap.L().Info("collection complete",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.String("outcome", string(run.Outcome)),
			zap.Int("records", run.Records),
			zap.Int64("version", run.Version),
			zap.Int("errors", len(run.Errors)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}

		if run.Status == model.RunFailed {
			return eris.Errorf("run %s failed", run.ID)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().IntVar(&runSeason, "season", 0, "season end year, e.g. 2024 (required)")
	runCmd.Flags().StringSliceVar(&runSources, "sources", nil, "source subset (default: all configured)")
	runCmd.Flags().StringSliceVar(&runEntities, "entities", nil, "player-name subset (default: full season)")
	_ = runCmd.MarkFlagRequired("season")
	rootCmd.AddCommand(runCmd)
}
