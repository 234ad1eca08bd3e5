package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deadonfilm/deadonfilm/internal/batch"
	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the status server",
	Long:  "Exposes breaker states, ledger totals, and checkpoint progress over HTTP, plus an operator endpoint to reset a tripped breaker.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := newEnv(ctx, cost.Ceilings{})
		if err != nil {
			return err
		}
		defer env.Close()

		cps := batch.NewFileCheckpointStore(cfg.Batch.CheckpointPath)
		router := newServeRouter(env.breakers, env.ledger, cps)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down status server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("status server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "status server listen")
		}
		return nil
	},
}

// checkpointSummary is the /api/status projection of a checkpoint.
type checkpointSummary struct {
	RunID     string         `json:"run_id"`
	BatchID   string         `json:"batch_id,omitempty"`
	Processed int            `json:"processed"`
	Counters  batch.Counters `json:"counters"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func newServeRouter(breakers *resilience.CategoryBreakers, ledger *cost.Ledger, cps batch.CheckpointStore) chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		var checkpoint *checkpointSummary
		if cp, err := cps.Load(); err != nil {
			zap.L().Warn("load checkpoint for status", zap.Error(err))
		} else if cp != nil {
			checkpoint = &checkpointSummary{
				RunID:     cp.RunID,
				BatchID:   cp.BatchID,
				Processed: len(cp.Processed),
				Counters:  cp.Counters,
				UpdatedAt: cp.UpdatedAt,
			}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"breakers":   breakers.Snapshot(),
			"ledger":     ledger.Snapshot(),
			"checkpoint": checkpoint,
		})
	})

	r.Post("/api/breaker/{category}/reset", func(w http.ResponseWriter, req *http.Request) {
		category := chi.URLParam(req, "category")
		if !breakers.Reset(category) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": fmt.Sprintf("no breaker for category %q", category),
			})
			return
		}
		zap.L().Info("breaker reset", zap.String("category", category))
		writeJSON(w, http.StatusOK, map[string]string{"reset": category})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
