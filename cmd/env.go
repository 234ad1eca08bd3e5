package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/follow"
	"github.com/deadonfilm/deadonfilm/internal/progress"
	"github.com/deadonfilm/deadonfilm/internal/resilience"
	"github.com/deadonfilm/deadonfilm/internal/source"
	"github.com/deadonfilm/deadonfilm/internal/store"
	anthropicpkg "github.com/deadonfilm/deadonfilm/pkg/anthropic"
	"github.com/deadonfilm/deadonfilm/pkg/firecrawl"
	"github.com/deadonfilm/deadonfilm/pkg/google"
	"github.com/deadonfilm/deadonfilm/pkg/jina"
	"github.com/deadonfilm/deadonfilm/pkg/memento"
	"github.com/deadonfilm/deadonfilm/pkg/perplexity"
	"github.com/deadonfilm/deadonfilm/pkg/wayback"
	"github.com/deadonfilm/deadonfilm/pkg/wikidata"
	"github.com/deadonfilm/deadonfilm/pkg/wikipedia"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// env bundles the shared runtime the commands wire up: the store, the
// source cascade, and the policy objects (breakers, ledger) every path
// observes.
type env struct {
	store    store.Store
	registry *source.Registry
	breakers *resilience.CategoryBreakers
	ledger   *cost.Ledger
	calc     *cost.Calculator
	emitter  *progress.Emitter
	claude   anthropicpkg.Client

	drained chan struct{}
}

func newEnv(ctx context.Context, ceilings cost.Ceilings) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	e := &env{
		store:    st,
		breakers: resilience.NewCategoryBreakers(resilience.FromCircuitConfig(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeoutSecs)),
		ledger:   cost.NewLedger(ceilings),
		calc:     cost.NewCalculator(cfg.Pricing),
		emitter:  progress.NewEmitter(0),
		drained:  make(chan struct{}),
	}
	if cfg.Anthropic.Key != "" {
		e.claude = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}
	e.registry = buildRegistry(e)

	go e.printProgress()
	return e, nil
}

// buildRegistry registers the source cascade in priority order: free
// knowledge bases first, metered search next, AI last.
func buildRegistry(e *env) *source.Registry {
	reg := source.NewRegistry()

	reg.Register(source.NewWikidataAdapter(wikidata.NewClient()))
	reg.Register(source.NewWikipediaAdapter(wikipedia.NewClient()))

	filter := follow.NewURLFilter(cfg.Follow.ExcludePatterns)
	selector := follow.NewSelector(cfg.Follow.MaxFollows, filter)
	fetchers := []follow.Fetcher{
		follow.NewDirectFetcher(),
		follow.NewWaybackFetcher(wayback.NewClient()),
		follow.NewMementoFetcher(memento.NewClient()),
	}
	var jinaClient jina.Client
	if cfg.Jina.Key != "" {
		jinaClient = jina.NewClient(cfg.Jina.Key,
			jina.WithBaseURL(cfg.Jina.BaseURL),
			jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		fetchers = append(fetchers, follow.NewJinaFetcher(jinaClient))
	}
	if cfg.Firecrawl.Key != "" {
		fetchers = append(fetchers, follow.NewFirecrawlFetcher(
			firecrawl.NewClient(cfg.Firecrawl.Key, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))))
	}
	chain := follow.NewChain(filter, fetchers,
		follow.WithMinContentLength(cfg.Follow.MinContentLength),
		follow.WithLimiter(follow.NewDomainLimiter(cfg.Follow.DomainRPS, cfg.Follow.DomainBurst)))

	reg.Register(source.NewObituaryAdapter(jinaClient, selector, chain, cfg.Pricing.Jina.PerMTok))

	var googleClient google.Client
	if cfg.Google.Key != "" && cfg.Google.EngineID != "" {
		googleClient = google.NewClient(cfg.Google.Key, cfg.Google.EngineID)
	}
	reg.Register(source.NewWebSearchAdapter(googleClient, selector, chain, e.calc.GoogleQuery()))

	var perplexityClient perplexity.Client
	if cfg.Perplexity.Key != "" {
		perplexityClient = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model))
	}
	reg.Register(source.NewPerplexityAdapter(perplexityClient, e.calc.PerplexityQuery()))

	reg.Register(source.NewClaudeAdapter(e.claude, cfg.Anthropic.Model, e.calc))

	return reg
}

// printProgress drains the event stream into structured logs so long
// runs stay observable without coupling the core to the CLI.
func (e *env) printProgress() {
	defer close(e.drained)
	for evt := range e.emitter.Events() {
		fields := []zap.Field{zap.String("stage", string(evt.Stage))}
		if evt.Name != "" {
			fields = append(fields, zap.String("name", evt.Name))
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source))
		}
		if evt.Confidence > 0 {
			fields = append(fields, zap.Float64("confidence", evt.Confidence))
		}
		if evt.CostUSD > 0 {
			fields = append(fields, zap.Float64("cost_usd", evt.CostUSD))
		}
		if evt.Total > 0 {
			fields = append(fields, zap.Int("count", evt.Count), zap.Int("total", evt.Total))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}

		switch evt.Stage {
		case progress.StageSubjectDone, progress.StageBatchSubmitted,
			progress.StageBatchPoll, progress.StageRunDone:
			zap.L().Info("progress", fields...)
		default:
			zap.L().Debug("progress", fields...)
		}
	}
}

func (e *env) Close() {
	e.emitter.Close()
	<-e.drained
	if dropped := e.emitter.Dropped(); dropped > 0 {
		zap.L().Debug("progress events dropped", zap.Int64("dropped", dropped))
	}
	_ = e.store.Close()
}
