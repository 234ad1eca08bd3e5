package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deadonfilm/deadonfilm/internal/batch"
	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/enrich"
	"github.com/deadonfilm/deadonfilm/internal/model"
	"github.com/deadonfilm/deadonfilm/internal/store"
)

var (
	backfillLimit       int
	backfillDryRun      bool
	backfillFresh       bool
	backfillReset       bool
	backfillMaxCost     float64
	backfillSubjectCost float64
	backfillCheckpoint  string
	backfillPolicy      string
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Enrich pending subjects through the Message Batches API",
	Long:  "Submits one asynchronous batch of enrichment prompts, polls to completion, and persists results. Interrupted runs resume from the checkpoint without resubmitting or recharging.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("backfill"); err != nil {
			return err
		}

		env, err := newEnv(ctx, cost.Ceilings{
			PerSubjectUSD: backfillSubjectCost,
			PerRunUSD:     backfillMaxCost,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		eligible, err := env.store.ListEnrichable(ctx, backfillLimit)
		if err != nil {
			return eris.Wrap(err, "list enrichable subjects")
		}
		if len(eligible) == 0 {
			zap.L().Info("no subjects pending enrichment")
			return nil
		}

		policy, err := enrich.NewObscurityPolicy(backfillPolicy)
		if err != nil {
			return err
		}
		subjects := orderByObscurity(eligible, policy)

		if backfillDryRun {
			printBackfillPlan(os.Stdout, eligible, policy)
			return nil
		}

		checkpointPath := backfillCheckpoint
		if checkpointPath == "" {
			checkpointPath = cfg.Batch.CheckpointPath
		}
		cps := batch.NewFileCheckpointStore(checkpointPath)
		if backfillReset {
			if err := cps.Remove(); err != nil {
				return eris.Wrap(err, "discard checkpoint")
			}
		}

		runID := uuid.New().String()
		runner := batch.NewRunner(env.claude, cps, env.store, env.calc,
			env.ledger, env.emitter, batch.Config{
				ModelID:         cfg.Anthropic.BatchModel,
				MaxTokens:       int64(cfg.Anthropic.MaxTokens),
				PollInterval:    time.Duration(cfg.Batch.PollIntervalSecs) * time.Second,
				MaxWait:         time.Duration(cfg.Batch.MaxWaitMins) * time.Minute,
				CheckpointEvery: cfg.Batch.CheckpointEvery,
				Fresh:           backfillFresh,
				Threshold:       cfg.Cascade.ConfidenceThreshold,
			}, runID)

		stats, runErr := runner.Run(ctx, subjects)
		if stats != nil {
			if err := env.store.RecordRunStats(ctx, *stats); err != nil {
				zap.L().Error("record run stats failed", zap.Error(err))
			}
		}
		if runErr != nil {
			return eris.Wrap(runErr, "backfill run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

// orderByObscurity sorts eligible subjects better-known first, since
// richer source coverage makes their batch answers more likely to land.
func orderByObscurity(eligible []store.Enrichable, policy enrich.ObscurityPolicy) []model.Subject {
	sorted := make([]store.Enrichable, len(eligible))
	copy(sorted, eligible)
	sort.SliceStable(sorted, func(i, j int) bool {
		return policy.Score(sorted[i].Rank) < policy.Score(sorted[j].Rank)
	})

	subjects := make([]model.Subject, 0, len(sorted))
	for _, e := range sorted {
		subjects = append(subjects, e.Subject)
	}
	return subjects
}

func printBackfillPlan(out *os.File, eligible []store.Enrichable, policy enrich.ObscurityPolicy) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDIED\tTITLES\tOBSCURITY")
	for _, e := range eligible {
		fmt.Fprintf(w, "nm%07d\t%s\t%s\t%d\t%.2f\n",
			e.Subject.PersonID, e.Subject.Name, e.Subject.DeathYear,
			e.Rank.TitleCount, policy.Score(e.Rank))
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d subjects would be submitted (policy: %s)\n", len(eligible), policy.Name())
}

func init() {
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 100, "max subjects to submit")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "list the subjects that would be submitted and exit")
	backfillCmd.Flags().BoolVar(&backfillFresh, "fresh", false, "let batch results replace fields already on record")
	backfillCmd.Flags().BoolVar(&backfillReset, "reset", false, "discard any existing checkpoint before starting")
	backfillCmd.Flags().Float64Var(&backfillMaxCost, "max-cost", 0, "total run spend ceiling in USD (0 = unlimited)")
	backfillCmd.Flags().Float64Var(&backfillSubjectCost, "subject-cost", 0, "per-subject spend ceiling in USD (0 = unlimited)")
	backfillCmd.Flags().StringVar(&backfillCheckpoint, "checkpoint", "", "checkpoint file path (default from config)")
	backfillCmd.Flags().StringVar(&backfillPolicy, "obscurity-policy", "filmography", "subject ordering policy (filmography, popularity)")
	rootCmd.AddCommand(backfillCmd)
}
