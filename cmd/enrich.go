package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/enrich"
	"github.com/deadonfilm/deadonfilm/internal/model"
)

var (
	enrichID          int64
	enrichLimit       int
	enrichConcurrency int
	enrichMaxCost     float64
	enrichSubjectCost float64
	enrichUseFree     bool
	enrichUsePaid     bool
	enrichUseAI       bool
	enrichStopOnMatch bool
	enrichFresh       bool
	enrichCascadeFile string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run the online source cascade for one or more subjects",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		env, err := newEnv(ctx, cost.Ceilings{
			PerSubjectUSD: enrichSubjectCost,
			PerRunUSD:     enrichMaxCost,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		cascadeCfg, err := cascadeConfig(cmd)
		if err != nil {
			return err
		}

		runID := uuid.New().String()
		orch := enrich.NewOrchestrator(cascadeCfg, env.registry, env.breakers,
			env.ledger, env.emitter, env.store).WithRunID(runID)
		cleanup := newCleanupStage(env, cascadeCfg)

		subjects, err := enrichSubjects(cmd, env)
		if err != nil {
			return err
		}
		if len(subjects) == 0 {
			zap.L().Info("nothing to enrich")
			return nil
		}

		stats := &model.RunStats{
			RunID:     runID,
			Mode:      "online",
			StartedAt: time.Now().UTC(),
		}
		var mu sync.Mutex

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(enrichConcurrency)
		for _, subject := range subjects {
			g.Go(func() error {
				outcome, err := orch.EnrichSubject(gctx, subject)
				if err != nil {
					// Only a run-level ceiling breach aborts the whole run.
					return err
				}
				runCleanup(gctx, cleanup, outcome)
				if perr := persistOutcome(gctx, env, runID, outcome, cascadeCfg.ConfidenceThreshold); perr != nil {
					zap.L().Error("persist outcome failed",
						zap.Int64("person_id", subject.PersonID), zap.Error(perr))
				}

				mu.Lock()
				defer mu.Unlock()
				stats.SubjectsProcessed++
				stats.TotalCostUSD += outcome.TotalCostUSD
				if outcome.Enriched() {
					stats.SubjectsEnriched++
					for _, key := range outcome.Data.FilledFields() {
						stats.CountField(key)
					}
				} else {
					stats.SubjectsFailed++
				}
				for class, n := range outcome.ErrorCounts() {
					for range n {
						stats.CountError(class)
					}
				}
				return nil
			})
		}

		runErr := g.Wait()
		stats.FinishedAt = time.Now().UTC()
		if runErr != nil {
			stats.Err = runErr.Error()
		}
		if err := env.store.RecordRunStats(ctx, *stats); err != nil {
			zap.L().Error("record run stats failed", zap.Error(err))
		}

		zap.L().Info("online run complete",
			zap.String("run_id", runID),
			zap.Int("processed", stats.SubjectsProcessed),
			zap.Int("enriched", stats.SubjectsEnriched),
			zap.Float64("cost_usd", stats.TotalCostUSD))

		if runErr != nil {
			return eris.Wrap(runErr, "enrich run")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

// cascadeConfig merges the config file cascade settings with the
// command toggles.
func cascadeConfig(cmd *cobra.Command) (enrich.Config, error) {
	cc := cfg.Cascade
	if cc.ConfidenceThreshold == 0 {
		cc = enrich.DefaultConfig()
	}
	cc.Categories = map[model.SourceCategory]bool{
		model.CategoryFree: enrichUseFree,
		model.CategoryPaid: enrichUsePaid,
		model.CategoryAI:   enrichUseAI,
	}
	if cmd.Flags().Changed("stop-on-match") {
		cc.StopOnMatch = enrichStopOnMatch
	}
	if enrichCascadeFile != "" {
		var err error
		cc, err = enrich.LoadCascadeFile(enrichCascadeFile, cc)
		if err != nil {
			return cc, err
		}
	}
	return cc, nil
}

// newCleanupStage builds the post-cascade consolidation stage. Returns nil
// when the cascade disabled it; a stage built without credentials reports
// itself unavailable and is skipped at run time.
func newCleanupStage(e *env, cc enrich.Config) *enrich.Consolidator {
	if !cc.Consolidate {
		return nil
	}
	return enrich.NewConsolidator(e.claude, cfg.Anthropic.Model, e.calc, e.ledger)
}

// runCleanup merges multi-source narratives into one account. A cleanup
// failure leaves the raw cascade outcome intact, so it never fails the
// subject.
func runCleanup(ctx context.Context, c *enrich.Consolidator, outcome *enrich.Outcome) {
	if !c.Available() {
		return
	}
	if err := c.Run(ctx, outcome); err != nil {
		zap.L().Warn("consolidate failed",
			zap.Int64("person_id", outcome.Subject.PersonID), zap.Error(err))
	}
}

func enrichSubjects(cmd *cobra.Command, env *env) ([]model.Subject, error) {
	ctx := cmd.Context()
	if cmd.Flags().Changed("id") {
		subject, err := env.store.GetSubject(ctx, enrichID)
		if err != nil {
			return nil, err
		}
		return []model.Subject{*subject}, nil
	}

	eligible, err := env.store.ListEnrichable(ctx, enrichLimit)
	if err != nil {
		return nil, err
	}
	subjects := make([]model.Subject, 0, len(eligible))
	for _, e := range eligible {
		subjects = append(subjects, e.Subject)
	}
	return subjects, nil
}

// persistOutcome writes one subject's merged fields, audit trail, and
// stats. Unresolved subjects still record their stats.
func persistOutcome(ctx context.Context, env *env, runID string, outcome *enrich.Outcome, threshold float64) error {
	if outcome.Enriched() {
		if err := env.store.UpsertDeathRecord(ctx, outcome.Subject.PersonID, outcome.Data, enrichFresh); err != nil {
			return err
		}
		if err := env.store.InvalidateCache(ctx, outcome.Subject.PersonID); err != nil {
			return err
		}
		rows := enrich.FieldProvenances(runID, outcome, threshold)
		if err := env.store.SaveFieldProvenance(ctx, rows); err != nil {
			return err
		}
	}
	return env.store.RecordSubjectStats(ctx, outcome.Stats(runID))
}

func init() {
	enrichCmd.Flags().Int64Var(&enrichID, "id", 0, "enrich a single person by numeric IMDb id")
	enrichCmd.Flags().IntVar(&enrichLimit, "limit", 10, "max subjects to enrich when --id is not set")
	enrichCmd.Flags().IntVar(&enrichConcurrency, "concurrency", 4, "concurrent subjects (each cascade stays sequential)")
	enrichCmd.Flags().Float64Var(&enrichMaxCost, "max-cost", 0, "total run spend ceiling in USD (0 = unlimited)")
	enrichCmd.Flags().Float64Var(&enrichSubjectCost, "subject-cost", 0, "per-subject spend ceiling in USD (0 = unlimited)")
	enrichCmd.Flags().BoolVar(&enrichUseFree, "use-free", true, "enable free knowledge-base sources")
	enrichCmd.Flags().BoolVar(&enrichUsePaid, "use-paid", true, "enable metered search sources")
	enrichCmd.Flags().BoolVar(&enrichUseAI, "use-ai", true, "enable AI sources")
	enrichCmd.Flags().BoolVar(&enrichStopOnMatch, "stop-on-match", true, "stop the cascade once the confidence threshold is met")
	enrichCmd.Flags().BoolVar(&enrichFresh, "fresh", false, "let new results replace fields already on record")
	enrichCmd.Flags().StringVar(&enrichCascadeFile, "cascade-file", "", "YAML file overriding source order and enablement")
	rootCmd.AddCommand(enrichCmd)
}
