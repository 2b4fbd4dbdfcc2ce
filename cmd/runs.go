package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect past pipeline runs",
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate the run log over 24h, 7d, 30d and 90d windows",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Orchestrator.RunStats(ctx)
		if err != nil {
			return err
		}
		formatRunStats(os.Stdout, stats)
		return nil
	},
}

var runsLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the retained run log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Orchestrator.RunLog(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No runs recorded.")
			return nil
		}
		formatRunLog(os.Stdout, entries)
		return nil
	},
}

var runsSessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List research sessions, or one session's operations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			ops, err := env.Recorder.Operations(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, ops)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		sessions, err := env.Recorder.Sessions(ctx, limit)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, sessions)
	},
}

func formatRunStats(w io.Writer, stats []model.RunStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WINDOW\tRUNS\tSUCCESSFUL\tRATE\tEVENTS\tCOST")
	for _, s := range stats {
		rate := "-"
		if s.Runs > 0 {
			rate = fmt.Sprintf("%.0f%%", float64(s.Successful)/float64(s.Runs)*100)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%d\t$%.2f\n",
			s.Window, s.Runs, s.Successful, rate, s.EventsProcessed, s.TotalCost)
	}
	tw.Flush()
}

func formatRunLog(w io.Writer, entries []model.RunLogEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTRIGGER\tLIMIT\tOK\tPROCESSED\tSKIPPED\tCOST\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%d\t%d\t$%.2f\t%s\n",
			e.At.Format("2006-01-02 15:04:05"), e.Trigger, e.Limit, e.Success,
			e.Processed, e.Skipped, e.Cost, e.Message)
	}
	tw.Flush()
}

func init() {
	runsSessionsCmd.Flags().Int("limit", 20, "maximum sessions to list")

	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsLogCmd)
	runsCmd.AddCommand(runsSessionsCmd)
	rootCmd.AddCommand(runsCmd)
}
