package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subcommandNames(c *cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, sub := range c.Commands() {
		names[sub.Name()] = true
	}
	return names
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(rootCmd)

	expected := []string{"run", "stage", "budget", "schedule", "probe", "prompt", "image", "runs", "migrate", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "metro-agent", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	flag := runCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "run command should have --limit flag")
	assert.Equal(t, "10", flag.DefValue)
}

func TestStageCommand_Args(t *testing.T) {
	require.NotNil(t, stageCmd.Flags().Lookup("session"))
	require.NotNil(t, stageCmd.Flags().Lookup("chain"))

	assert.NoError(t, stageCmd.Args(stageCmd, []string{"venues"}))
	assert.NoError(t, stageCmd.Args(stageCmd, []string{"performers"}))
	assert.Error(t, stageCmd.Args(stageCmd, []string{"events"}))
	assert.Error(t, stageCmd.Args(stageCmd, nil))
	assert.Error(t, stageCmd.Args(stageCmd, []string{"venues", "performers"}))
}

func TestBudgetCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(budgetCmd)
	for _, name := range []string{"status", "history", "month", "report", "reset", "set-limit", "log", "suggest"} {
		assert.True(t, names[name], "budget should have subcommand %q", name)
	}
}

func TestBudgetCommand_Flags(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		flag string
		def  string
	}{
		{budgetHistoryCmd, "days", "7"},
		{budgetReportCmd, "period", "month"},
		{budgetReportCmd, "format", "json"},
		{budgetResetCmd, "date", ""},
		{budgetSuggestCmd, "days", "7"},
		{budgetMonthCmd, "month", ""},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Name()+"/"+tt.flag, func(t *testing.T) {
			f := tt.cmd.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestScheduleCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(scheduleCmd)
	for _, name := range []string{"enable", "disable", "status"} {
		assert.True(t, names[name], "schedule should have subcommand %q", name)
	}
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(runsCmd)
	for _, name := range []string{"stats", "log", "sessions"} {
		assert.True(t, names[name], "runs should have subcommand %q", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestPromptCommand_Flags(t *testing.T) {
	for _, name := range []string{"op", "limit", "subject", "hint", "system", "send"} {
		assert.NotNil(t, promptCmd.Flags().Lookup(name), "prompt should have --%s flag", name)
	}
	assert.Equal(t, "events", promptCmd.Flags().Lookup("op").DefValue)
}

func TestImageCommand_Flags(t *testing.T) {
	for _, name := range []string{"kind", "name", "genre", "size"} {
		assert.NotNil(t, imageCmd.Flags().Lookup(name), "image should have --%s flag", name)
	}
	assert.Equal(t, "1024x1024", imageCmd.Flags().Lookup("size").DefValue)
}
