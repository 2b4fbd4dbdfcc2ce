package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/prompt"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
)

const imageCostKind = "image_generation"

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Generate a promotional image for an event, venue or performer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		name, _ := cmd.Flags().GetString("name")
		size, _ := cmd.Flags().GetString("size")
		genre, _ := cmd.Flags().GetString("genre")
		if name == "" {
			return resilience.NewValidationError("name", "is required")
		}

		var attrs map[string]any
		switch model.Kind(kind) {
		case model.KindEvent:
			attrs = map[string]any{"event_type": genre}
		case model.KindVenue:
			attrs = map[string]any{"venue_type": genre}
		case model.KindPerformer:
			attrs = map[string]any{"style_of_music": []any{genre}}
		default:
			return resilience.NewValidationError("kind", "must be event, venue or performer")
		}

		ctx := cmd.Context()
		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		if !env.Ledger.CanAfford(ctx, imageCostKind, 1) {
			status, _ := env.Ledger.Status(ctx)
			remaining := 0.0
			if status != nil {
				remaining = status.Remaining
			}
			return resilience.NewBudgetExceededError(imageCostKind, env.Ledger.Estimate(imageCostKind, 1), remaining)
		}

		text := prompt.ImagePrompt(model.Kind(kind), name, attrs)
		ref, err := env.Research.GenerateImage(ctx, text, name, size)
		if err != nil {
			return eris.Wrapf(err, "generate %s image", kind)
		}
		if _, err := env.Ledger.RecordSpending(ctx, ref.Cost, imageCostKind, model.SpendDetails{
			APICalls: 1,
			Images:   1,
		}); err != nil {
			zap.L().Warn("record spending failed", zap.Error(err))
		}
		return printJSON(os.Stdout, ref)
	},
}

func init() {
	imageCmd.Flags().String("kind", string(model.KindEvent), "entity kind: event, venue or performer")
	imageCmd.Flags().String("name", "", "entity name")
	imageCmd.Flags().String("genre", "", "event type, venue type or performer genre used for styling")
	imageCmd.Flags().String("size", "1024x1024", "image size")
	rootCmd.AddCommand(imageCmd)
}
