package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Control the daily automatic run",
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable the automatic run and compute its next fire time",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		next, err := env.Scheduler.Enable(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("automatic run enabled", zap.Time("next_run", next))

		status, err := env.Scheduler.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, status)
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable the automatic run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Scheduler.Disable(ctx); err != nil {
			return err
		}
		status, err := env.Scheduler.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, status)
	},
}

var scheduleStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the automatic run state",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		status, err := env.Scheduler.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, status)
	},
}

func init() {
	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleDisableCmd)
	scheduleCmd.AddCommand(scheduleStatusCmd)
	rootCmd.AddCommand(scheduleCmd)
}
