package main

import (
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hooplab/statsync/internal/model"
)

var (
	scheduleCron   string
	scheduleSeason int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run collections on a cron schedule",
	Long:  "Starts unattended collection runs on the configured cron expression until interrupted. Overlapping runs are skipped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		spec := scheduleCron
		if spec == "" {
			spec = cfg.Schedule.Cron
		}
		if spec == "" {
			return eris.New("no cron expression configured (set schedule.cron or --cron)")
		}
		season := scheduleSeason
		if season == 0 {
			season = cfg.Schedule.Season
		}
		if season <= 0 {
			return eris.New("no season configured (set schedule.season or --season)")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		running := make(chan struct{}, 1)
		c := cron.New()
		_, err = c.AddFunc(spec, func() {
			select {
			case running <- struct{}{}:
			default:
				zap.L().Warn("scheduled run skipped: previous run still active")
				return
			}
			defer func() { <-running }()

			run, err := env.Coordinator.Run(ctx, model.Scope{Season: season})
			if err != nil {
				zap.L().Error("scheduled run failed to start", zap.Error(err))
				return
			}
			zap.L().Info("scheduled run finished",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
				zap.Int("records", run.Records),
			)
		})
		if err != nil {
			return eris.Wrap(err, "schedule: bad cron expression")
		}

		zap.L().Info("scheduler started", zap.String("cron", spec), zap.Int("season", season))
		c.Start()
		<-ctx.Done()
		<-c.Stop().Done()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron expression (default from config)")
	scheduleCmd.Flags().IntVar(&scheduleSeason, "season", 0, "season to collect (default from config)")
	rootCmd.AddCommand(scheduleCmd)
}
