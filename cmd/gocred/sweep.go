package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one cleanup pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer rt.Close()

			sched, err := rt.engine.NewCleanupScheduler()
			if err != nil {
				return err
			}
			report, err := sched.RunOnce(cmd.Context())
			rt.logger.Info("sweep finished",
				zap.Int("deleted", report.Total()),
				zap.Int("batches", report.Batches),
				zap.Duration("duration", report.Duration),
			)
			return err
		},
	}
}
