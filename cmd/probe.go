package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/resilience"
)

var probeKey string

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check that the research credential works",
	Long:  "Sends a minimal research request with the configured key, or with --key when given, and reports whether the provider accepted it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rc, err := initResearch()
		if err != nil {
			return err
		}

		if err := rc.TestCredential(cmd.Context(), probeKey); err != nil {
			zap.L().Warn("credential probe failed",
				zap.String("provider", cfg.Research.Provider),
				zap.String("kind", string(resilience.KindOf(err))),
				zap.Error(err),
			)
			return eris.Wrap(err, "probe")
		}
		fmt.Fprintf(os.Stdout, "%s credential ok\n", cfg.Research.Provider)
		return nil
	},
}

func init() {
	probeCmd.Flags().StringVar(&probeKey, "key", "", "credential to test instead of the configured one")
	rootCmd.AddCommand(probeCmd)
}
