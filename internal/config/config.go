package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/deadonfilm/deadonfilm/internal/cost"
	"github.com/deadonfilm/deadonfilm/internal/enrich"
	"github.com/deadonfilm/deadonfilm/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Google     GoogleConfig     `yaml:"google" mapstructure:"google"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Cascade    enrich.Config    `yaml:"cascade" mapstructure:"cascade"`
	Follow     FollowConfig     `yaml:"follow" mapstructure:"follow"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	IMDb       IMDbConfig       `yaml:"imdb" mapstructure:"imdb"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver        string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL   string           `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath    string           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	CacheTTLHours int              `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	Pool          store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	Model      string `yaml:"model" mapstructure:"model"`
	BatchModel string `yaml:"batch_model" mapstructure:"batch_model"`
	MaxTokens  int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// GoogleConfig holds Google Programmable Search settings.
type GoogleConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	EngineID string `yaml:"engine_id" mapstructure:"engine_id"`
}

// FirecrawlConfig holds Firecrawl API settings (render fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FollowConfig configures obituary link following.
type FollowConfig struct {
	MaxFollows       int      `yaml:"max_follows" mapstructure:"max_follows"`
	DomainRPS        float64  `yaml:"domain_rps" mapstructure:"domain_rps"`
	DomainBurst      int      `yaml:"domain_burst" mapstructure:"domain_burst"`
	MinContentLength int      `yaml:"min_content_length" mapstructure:"min_content_length"`
	ExcludePatterns  []string `yaml:"exclude_patterns" mapstructure:"exclude_patterns"`
}

// BatchConfig configures checkpointed batch enrichment.
type BatchConfig struct {
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MaxWaitMins      int    `yaml:"max_wait_mins" mapstructure:"max_wait_mins"`
	CheckpointEvery  int    `yaml:"checkpoint_every" mapstructure:"checkpoint_every"`
	CheckpointPath   string `yaml:"checkpoint_path" mapstructure:"checkpoint_path"`
}

// BreakerConfig tunes the per-category circuit breakers. A zero reset
// timeout keeps a tripped breaker open until an operator resets it.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// IMDbConfig configures the dataset sync.
type IMDbConfig struct {
	NamesURL  string `yaml:"names_url" mapstructure:"names_url"`
	ChunkSize int    `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEADONFILM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "deadonfilm.db")
	v.SetDefault("store.cache_ttl_hours", 24)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.batch_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("cascade.confidence_threshold", 0.5)
	v.SetDefault("cascade.stop_on_match", true)
	v.SetDefault("cascade.consolidate", true)
	v.SetDefault("follow.max_follows", 3)
	v.SetDefault("follow.domain_rps", 1.0)
	v.SetDefault("follow.domain_burst", 2)
	v.SetDefault("follow.min_content_length", 200)
	// findagrave.com is deliberately absent: it is a default obituary
	// search site and a trusted follow domain.
	v.SetDefault("follow.exclude_patterns", []string{
		"*pinterest.*", "*facebook.com*", "*youtube.com*",
	})
	v.SetDefault("batch.poll_interval_secs", 30)
	v.SetDefault("batch.max_wait_mins", 1440)
	v.SetDefault("batch.checkpoint_every", 25)
	v.SetDefault("batch.checkpoint_path", ".deadonfilm-batch.json")
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_secs", 0)
	v.SetDefault("imdb.names_url", "https://datasets.imdbws.com/name.basics.tsv.gz")
	v.SetDefault("imdb.chunk_size", 5000)
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.google.per_query", 0.005)
	v.SetDefault("pricing.firecrawl.plan_monthly", 19.00)
	v.SetDefault("pricing.firecrawl.credits_included", 3000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	// Model pricing has no flat defaults; merge the built-in table for
	// any model the file does not override.
	defaults := cost.DefaultRates()
	if cfg.Pricing.Anthropic == nil {
		cfg.Pricing.Anthropic = map[string]cost.ModelRate{}
	}
	for model, rate := range defaults.Anthropic {
		if _, ok := cfg.Pricing.Anthropic[model]; !ok {
			cfg.Pricing.Anthropic[model] = rate
		}
	}

	return &cfg, nil
}

// Validate checks that the settings a command mode depends on are present
// and in range. Mode is one of "enrich", "backfill", "sync", "serve".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	if t := c.Cascade.ConfidenceThreshold; t < 0 || t > 1 {
		problems = append(problems, "cascade.confidence_threshold must be between 0 and 1")
	}

	switch mode {
	case "enrich":
		// The cascade degrades to whatever sources have credentials, so
		// no key is mandatory here.
	case "backfill":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "sync":
		if c.IMDb.NamesURL == "" {
			problems = append(problems, "imdb.names_url is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
