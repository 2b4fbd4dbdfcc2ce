package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/budget"
	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/prompt"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Compile a research prompt and optionally send it",
	Long: `Compiles the user prompt for an operation (events, venue_research,
performer_research, monthly_update, test). With --system the system bundle is
printed too. With --send the prompt goes to the research provider after a
budget check and the decoded JSON is printed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		op, _ := cmd.Flags().GetString("op")
		limit, _ := cmd.Flags().GetInt("limit")
		subject, _ := cmd.Flags().GetString("subject")
		hint, _ := cmd.Flags().GetString("hint")
		withSystem, _ := cmd.Flags().GetBool("system")
		send, _ := cmd.Flags().GetBool("send")

		req := prompt.Request{
			Operation: prompt.Operation(op),
			Limit:     limit,
			Today:     time.Now(),
			Subject:   subject,
			Hint:      hint,
		}
		text, err := prompt.Build(req)
		if err != nil {
			return err
		}

		if !send {
			if withSystem {
				sys, err := prompt.System(req.Operation)
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, sys)
				fmt.Fprintln(os.Stdout)
			}
			fmt.Fprintln(os.Stdout, text)
			return nil
		}

		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		kind := operationCostKind(req)
		if !env.Ledger.CanAfford(ctx, kind, 1) {
			status, _ := env.Ledger.Status(ctx)
			remaining := 0.0
			if status != nil {
				remaining = status.Remaining
			}
			return resilience.NewBudgetExceededError(kind, env.Ledger.Estimate(kind, 1), remaining)
		}

		res, err := env.Research.Research(ctx, text, req.Operation, cfg.Pipeline.EventsTimeout)
		if err != nil {
			return eris.Wrapf(err, "research %s", op)
		}
		if _, err := env.Ledger.RecordSpending(ctx, res.Cost, kind, model.SpendDetails{
			APICalls: 1,
			Tokens:   res.Usage.Total(),
		}); err != nil {
			zap.L().Warn("record spending failed", zap.Error(err))
		}
		return printJSON(os.Stdout, res)
	},
}

// operationCostKind maps a prompt operation to its budget estimate kind.
func operationCostKind(r prompt.Request) string {
	switch r.Operation {
	case prompt.OpEvents:
		return budget.BatchOperation(r.Limit)
	case prompt.OpVenueResearch, prompt.OpPerformerResearch:
		return "api_call_research"
	case prompt.OpMonthlyUpdate:
		return "monthly_update"
	default:
		return "api_call_basic"
	}
}

func init() {
	promptCmd.Flags().String("op", string(prompt.OpEvents), "operation to compile")
	promptCmd.Flags().Int("limit", prompt.DefaultLimit, "event count for the events operation")
	promptCmd.Flags().String("subject", "", "venue or performer name for targeted research")
	promptCmd.Flags().String("hint", "", "venue address or performer genre")
	promptCmd.Flags().Bool("system", false, "print the system bundle before the prompt")
	promptCmd.Flags().Bool("send", false, "send the prompt to the research provider")
	rootCmd.AddCommand(promptCmd)
}
