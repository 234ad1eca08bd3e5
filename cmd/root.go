package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deadonfilm/deadonfilm/internal/config"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
)

// Exit codes let calling scripts tell an ordinary failure from a run
// aborted because source circuits were open.
const (
	ExitCodeFailure = 1
	ExitCodeBreaker = 2
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "deadonfilm",
	Short: "Cause-of-death enrichment engine for film and TV actors",
	Long:  "Augments records of deceased performers with cause-of-death narratives from knowledge bases, obituaries, web search, and LLM providers, under cost and circuit-breaker policy.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return ExitCodeBreaker
	}
	return ExitCodeFailure
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
