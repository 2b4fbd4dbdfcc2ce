package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

var runLimit int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover upcoming events and run every pipeline stage",
	Long:  "Runs the events stage under a new session, prints its summary, then delivers the venues and performers stages in order.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		res := env.Orchestrator.Run(ctx, runLimit, model.TriggerManual)
		if err := printJSON(os.Stdout, res); err != nil {
			return err
		}
		if !res.Success {
			return eris.Errorf("events stage failed: %s", res.Message)
		}

		if err := env.Drain(ctx); err != nil {
			return eris.Wrap(err, "deliver stage signals")
		}

		status, err := env.Orchestrator.Status(ctx)
		if err != nil {
			return eris.Wrap(err, "read pipeline status")
		}
		zap.L().Info("pipeline finished",
			zap.String("session_id", status.SessionID),
			zap.String("state", string(status.State)),
			zap.String("message", status.Message),
		)
		return printJSON(os.Stdout, status)
	},
}

var (
	stageSession string
	stageChain   bool
)

var stageCmd = &cobra.Command{
	Use:       "stage venues|performers",
	Short:     "Run one downstream stage against the persisted scratch state",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{string(model.StageVenues), string(model.StagePerformers)},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, busInline)
		if err != nil {
			return err
		}
		defer env.Close()

		res := runStage(ctx, env, model.Stage(args[0]), stageSession)
		if err := printJSON(os.Stdout, res); err != nil {
			return err
		}
		if !res.Success {
			return eris.Errorf("%s stage failed: %s", args[0], res.Message)
		}
		if stageChain {
			return eris.Wrap(env.Drain(ctx), "deliver stage signals")
		}
		return nil
	},
}

// runStage runs a downstream stage by name. It returns nil for any other
// stage.
func runStage(ctx context.Context, env *pipelineEnv, stage model.Stage, sessionID string) *model.StageResult {
	switch stage {
	case model.StageVenues:
		return env.Orchestrator.RunVenues(ctx, sessionID)
	case model.StagePerformers:
		return env.Orchestrator.RunPerformers(ctx, sessionID)
	}
	return nil
}

func init() {
	runCmd.Flags().IntVar(&runLimit, "limit", 10, "number of events to request (1-10)")
	rootCmd.AddCommand(runCmd)

	stageCmd.Flags().StringVar(&stageSession, "session", "", "session id (default: the session owning the scratch state)")
	stageCmd.Flags().BoolVar(&stageChain, "chain", false, "continue with the following stages")
	rootCmd.AddCommand(stageCmd)
}
