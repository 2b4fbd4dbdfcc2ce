package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/kcmetrolive/metro-agent/internal/budget"
	"github.com/kcmetrolive/metro-agent/internal/model"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Inspect and manage the daily spend budget",
}

// -- budget status --

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show today's spend against the daily limit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		status, err := env.Ledger.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, status)
	},
}

// -- budget history --

var budgetHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show per-day spend for recent days",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		days, _ := cmd.Flags().GetInt("days")
		history, err := env.Ledger.History(ctx, days)
		if err != nil {
			return err
		}
		formatHistory(os.Stdout, history, env.Ledger.DailyLimit(ctx))
		return nil
	},
}

// -- budget month --

var budgetMonthCmd = &cobra.Command{
	Use:   "month",
	Short: "Summarize a calendar month",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		at := time.Now()
		if m, _ := cmd.Flags().GetString("month"); m != "" {
			at, err = time.Parse("2006-01", m)
			if err != nil {
				return eris.Wrapf(err, "invalid month %q, want YYYY-MM", m)
			}
		}
		summary, err := env.Ledger.MonthlySummary(ctx, at)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, summary)
	},
}

// -- budget report --

var budgetReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export a spend report as json, csv or yaml",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		period, _ := cmd.Flags().GetString("period")
		format, _ := cmd.Flags().GetString("format")
		report, err := env.Ledger.Report(ctx, period)
		if err != nil {
			return err
		}
		return budget.ExportReport(os.Stdout, report, format)
	},
}

// -- budget reset --

var budgetResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete a day's spend record and notification markers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		date, _ := cmd.Flags().GetString("date")
		if err := env.Ledger.Reset(ctx, date); err != nil {
			return err
		}
		status, err := env.Ledger.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, status)
	},
}

// -- budget set-limit --

var budgetSetLimitCmd = &cobra.Command{
	Use:   "set-limit <usd>",
	Short: "Persist a new daily limit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return eris.Wrapf(err, "invalid limit %q", args[0])
		}

		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Ledger.SetDailyLimit(ctx, limit); err != nil {
			return err
		}
		status, err := env.Ledger.Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, status)
	},
}

// -- budget log --

var budgetLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the rolling spending log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Ledger.SpendingLog(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No spending recorded.")
			return nil
		}
		formatSpendLog(os.Stdout, entries)
		return nil
	},
}

// -- budget suggest --

var budgetSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest budget optimizations from recent spend",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		days, _ := cmd.Flags().GetInt("days")
		suggestions, err := env.Ledger.Suggestions(ctx, days)
		if err != nil {
			return err
		}
		formatSuggestions(os.Stdout, suggestions)
		return nil
	},
}

func formatHistory(w io.Writer, days []model.BudgetRecord, limit float64) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSPENT\tUSED\tCALLS\tTOKENS\tEVENTS\tVENUES\tPERFORMERS")
	for _, d := range days {
		used := "-"
		if limit > 0 {
			used = fmt.Sprintf("%.0f%%", d.TotalCostUSD/limit*100)
		}
		fmt.Fprintf(tw, "%s\t$%.2f\t%s\t%d\t%d\t%d\t%d\t%d\n",
			d.Date, d.TotalCostUSD, used, d.APICalls, d.TokensUsed,
			d.EventsProcessed, d.VenuesProcessed, d.PerformersProcessed)
	}
	tw.Flush()
}

func formatSpendLog(w io.Writer, entries []model.SpendEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tAMOUNT\tCALLS\tTOKENS")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t$%.4f\t%d\t%d\n",
			e.At.Format("2006-01-02 15:04:05"), e.Kind, e.Amount, e.Details.APICalls, e.Details.Tokens)
	}
	tw.Flush()
}

func formatSuggestions(w io.Writer, suggestions []budget.Suggestion) {
	if len(suggestions) == 0 {
		fmt.Fprintln(w, "No suggestions.")
		return
	}
	for _, s := range suggestions {
		fmt.Fprintf(w, "[%s] %s\n", s.Type, s.Message)
	}
}

func init() {
	budgetHistoryCmd.Flags().Int("days", 7, "number of days to show")
	budgetMonthCmd.Flags().String("month", "", "month as YYYY-MM (default: current month)")
	budgetReportCmd.Flags().String("period", "month", "report period: week, month or quarter")
	budgetReportCmd.Flags().String("format", budget.FormatJSON, "output format: json, csv or yaml")
	budgetResetCmd.Flags().String("date", "", "day to reset as YYYY-MM-DD (default: today)")
	budgetSuggestCmd.Flags().Int("days", 7, "number of days to analyze")

	budgetCmd.AddCommand(budgetStatusCmd)
	budgetCmd.AddCommand(budgetHistoryCmd)
	budgetCmd.AddCommand(budgetMonthCmd)
	budgetCmd.AddCommand(budgetReportCmd)
	budgetCmd.AddCommand(budgetResetCmd)
	budgetCmd.AddCommand(budgetSetLimitCmd)
	budgetCmd.AddCommand(budgetLogCmd)
	budgetCmd.AddCommand(budgetSuggestCmd)
	rootCmd.AddCommand(budgetCmd)
}
