package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Enrichment EnrichmentConfig `yaml:"enrichment" mapstructure:"enrichment"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// EnrichmentConfig holds enrichment provider API settings.
type EnrichmentConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Key         string  `yaml:"key" mapstructure:"key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
	PageSize    int     `yaml:"page_size" mapstructure:"page_size"`
}

// DiscoveryConfig configures buyer-group discovery.
type DiscoveryConfig struct {
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`
	AcceptanceFloor float64 `yaml:"acceptance_floor" mapstructure:"acceptance_floor"`
	TargetsFile     string  `yaml:"targets_file" mapstructure:"targets_file"`
	MaxRetries      int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelayMins  int     `yaml:"retry_delay_mins" mapstructure:"retry_delay_mins"`
	RetrySweepSecs  int     `yaml:"retry_sweep_secs" mapstructure:"retry_sweep_secs"`
}

// RetryConfig holds retry settings for provider calls.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CircuitConfig holds circuit breaker settings for provider calls.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ScoringConfig configures entity scoring and queue eligibility.
type ScoringConfig struct {
	Company          CompanyWeights `yaml:"company" mapstructure:"company"`
	Person           PersonWeights  `yaml:"person" mapstructure:"person"`
	CompanyBlend     float64        `yaml:"company_blend" mapstructure:"company_blend"`
	HalfLifeDays     int            `yaml:"half_life_days" mapstructure:"half_life_days"`
	LookbackDays     int            `yaml:"lookback_days" mapstructure:"lookback_days"`
	RequireContact   bool           `yaml:"require_contact" mapstructure:"require_contact"`
	InertActions     []string       `yaml:"inert_actions" mapstructure:"inert_actions"`
	TerminalStatuses []string       `yaml:"terminal_statuses" mapstructure:"terminal_statuses"`
}

// CompanyWeights are the company-level component weights (sum = 100).
type CompanyWeights struct {
	Size       float64 `yaml:"size" mapstructure:"size"`
	Revenue    float64 `yaml:"revenue" mapstructure:"revenue"`
	Stage      float64 `yaml:"stage" mapstructure:"stage"`
	DealValue  float64 `yaml:"deal_value" mapstructure:"deal_value"`
	BuyerGroup float64 `yaml:"buyer_group" mapstructure:"buyer_group"`
	Recency    float64 `yaml:"recency" mapstructure:"recency"`
}

// PersonWeights are the individual-level component weights (sum = 100).
type PersonWeights struct {
	Role       float64 `yaml:"role" mapstructure:"role"`
	Confidence float64 `yaml:"confidence" mapstructure:"confidence"`
	Seniority  float64 `yaml:"seniority" mapstructure:"seniority"`
	Contact    float64 `yaml:"contact" mapstructure:"contact"`
	Recency    float64 `yaml:"recency" mapstructure:"recency"`
}

// QueueConfig configures the ranked queue.
type QueueConfig struct {
	Size         int    `yaml:"size" mapstructure:"size"`
	MaxPageSize  int    `yaml:"max_page_size" mapstructure:"max_page_size"`
	OrderingMode string `yaml:"ordering_mode" mapstructure:"ordering_mode"`
	CacheTTLSecs int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
}

// RedisConfig configures the optional Redis coordination backend. An empty
// address keeps generations and caching in process.
type RedisConfig struct {
	Addr      string `yaml:"addr" mapstructure:"addr"`
	Password  string `yaml:"password" mapstructure:"password"`
	DB        int    `yaml:"db" mapstructure:"db"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// AnthropicConfig holds Anthropic API settings for strategy reports.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
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
	v.SetEnvPrefix("SPEEDRUN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "speedrun.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("enrichment.timeout_secs", 30)
	v.SetDefault("enrichment.rate_limit", 5.0)
	v.SetDefault("enrichment.burst", 5)
	v.SetDefault("enrichment.page_size", 100)
	v.SetDefault("discovery.concurrency", 5)
	v.SetDefault("discovery.acceptance_floor", 0.5)
	v.SetDefault("discovery.max_retries", 3)
	v.SetDefault("discovery.retry_delay_mins", 15)
	v.SetDefault("discovery.retry_sweep_secs", 300)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("scoring.company.size", 20)
	v.SetDefault("scoring.company.revenue", 15)
	v.SetDefault("scoring.company.stage", 25)
	v.SetDefault("scoring.company.deal_value", 10)
	v.SetDefault("scoring.company.buyer_group", 20)
	v.SetDefault("scoring.company.recency", 10)
	v.SetDefault("scoring.person.role", 35)
	v.SetDefault("scoring.person.confidence", 15)
	v.SetDefault("scoring.person.seniority", 30)
	v.SetDefault("scoring.person.contact", 10)
	v.SetDefault("scoring.person.recency", 10)
	v.SetDefault("scoring.company_blend", 0.6)
	v.SetDefault("scoring.half_life_days", 30)
	v.SetDefault("scoring.lookback_days", 30)
	v.SetDefault("scoring.require_contact", false)
	v.SetDefault("scoring.inert_actions", DefaultInertActions)
	v.SetDefault("scoring.terminal_statuses", DefaultTerminalStatuses)
	v.SetDefault("queue.size", 50)
	v.SetDefault("queue.max_page_size", 100)
	v.SetDefault("queue.ordering_mode", "merged")
	v.SetDefault("queue.cache_ttl_secs", 3600)
	v.SetDefault("redis.key_prefix", "speedrun:")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

	return &cfg, nil
}

// DefaultInertActions are action types that never count as engagement.
var DefaultInertActions = []string{
	"no_action_taken",
	"record_created",
	"record_updated",
	"record_imported",
	"enriched",
	"system_update",
	"field_updated",
}

// DefaultTerminalStatuses are record statuses that keep an entity out of
// the queue for good.
var DefaultTerminalStatuses = []string{"completed", "closed", "won", "lost", "archived", "deleted"}

// Validate checks the settings a command mode depends on. Modes: "store"
// (database only), "discover", "rebuild", "serve", "strategy".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	switch mode {
	case "discover":
		if c.Enrichment.BaseURL == "" {
			errs = append(errs, "enrichment.base_url is required")
		}
		if c.Discovery.AcceptanceFloor <= 0 || c.Discovery.AcceptanceFloor > 1 {
			errs = append(errs, "discovery.acceptance_floor must be in (0, 1]")
		}
	case "rebuild", "serve":
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Queue.Size <= 0 {
			errs = append(errs, "queue.size must be > 0")
		}
		if c.Queue.OrderingMode != "merged" && c.Queue.OrderingMode != "people_first" {
			errs = append(errs, "queue.ordering_mode must be merged or people_first")
		}
	case "strategy":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "store":
	default:
		errs = append(errs, "unknown mode "+mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
