// Package config loads jobs-etl settings from config.yaml and JOBS_*
// environment variables.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/jobs-etl/internal/model"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Merge         MergeConfig         `yaml:"merge" mapstructure:"merge"`
	Fetch         FetchConfig         `yaml:"fetch" mapstructure:"fetch"`
	Enrich        EnrichConfig        `yaml:"enrich" mapstructure:"enrich"`
	CompanySearch CompanySearchConfig `yaml:"company_search" mapstructure:"company_search"`
	Ranking       RankingConfig       `yaml:"ranking" mapstructure:"ranking"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP trigger server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MergeConfig configures batch merging.
type MergeConfig struct {
	// Format is the default batch encoding, json or csv. Empty infers it from
	// the input extension.
	Format string `yaml:"format" mapstructure:"format"`
}

// FetchConfig configures downloads of remote batch files.
type FetchConfig struct {
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// EnrichConfig configures the enrichment passes.
type EnrichConfig struct {
	Limit               int     `yaml:"limit" mapstructure:"limit"`
	Concurrency         int     `yaml:"concurrency" mapstructure:"concurrency"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	// CompanyRetryAfter re-searches no-match companies older than this.
	// Zero never retries.
	CompanyRetryAfter time.Duration `yaml:"company_retry_after" mapstructure:"company_retry_after"`
	SkillsDictionary  string        `yaml:"skills_dictionary" mapstructure:"skills_dictionary"`
	TaxonomyVersion   string        `yaml:"taxonomy_version" mapstructure:"taxonomy_version"`
	BreakerThreshold  int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

// CompanySearchConfig holds company search API settings.
type CompanySearchConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxResults       int     `yaml:"max_results" mapstructure:"max_results"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// RankingConfig points at the preference profile.
type RankingConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("JOBS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("merge.format", "")
	v.SetDefault("fetch.user_agent", "jobs-etl/1.0")
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.rate_per_sec", 5)
	v.SetDefault("enrich.limit", 500)
	v.SetDefault("enrich.concurrency", 4)
	v.SetDefault("enrich.similarity_threshold", 0.80)
	v.SetDefault("enrich.company_retry_after", "0s")
	v.SetDefault("enrich.skills_dictionary", "")
	v.SetDefault("enrich.taxonomy_version", "v1")
	v.SetDefault("enrich.breaker_threshold", 5)
	v.SetDefault("company_search.base_url", "https://api.openwebninja.com")
	v.SetDefault("company_search.api_key", "")
	v.SetDefault("company_search.rate_per_sec", 2)
	v.SetDefault("company_search.max_results", 10)
	v.SetDefault("company_search.timeout_secs", 30)
	v.SetDefault("company_search.max_attempts", 3)
	v.SetDefault("company_search.initial_backoff_ms", 500)
	v.SetDefault("company_search.max_backoff_ms", 10000)
	v.SetDefault("ranking.path", "ranking.yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Scope is one of store,
// merge, enrich, rank, run or serve. Every scope needs a usable store and run
// checks merge, enrich and rank together.
func (c *Config) Validate(scope string) error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return &model.ConfigurationError{Setting: "store.driver", Reason: "must be postgres or sqlite, got " + c.Store.Driver}
	}
	if c.Store.DatabaseURL == "" {
		return &model.ConfigurationError{Setting: "store.database_url", Reason: "required"}
	}

	switch scope {
	case "store":
	case "run":
		for _, sub := range []string{"merge", "enrich", "rank"} {
			if err := c.Validate(sub); err != nil {
				return err
			}
		}
	case "merge":
		switch strings.ToLower(c.Merge.Format) {
		case "", "json", "csv":
		default:
			return &model.ConfigurationError{Setting: "merge.format", Reason: "must be json or csv"}
		}
	case "enrich":
		if c.Enrich.SimilarityThreshold <= 0 || c.Enrich.SimilarityThreshold > 1 {
			return &model.ConfigurationError{Setting: "enrich.similarity_threshold", Reason: "must be in (0, 1]"}
		}
		if c.Enrich.CompanyRetryAfter < 0 {
			return &model.ConfigurationError{Setting: "enrich.company_retry_after", Reason: "must not be negative"}
		}
	case "rank":
		if c.Ranking.Path == "" {
			return &model.ConfigurationError{Setting: "ranking.path", Reason: "required"}
		}
	case "serve":
		if c.Server.Port <= 0 {
			return &model.ConfigurationError{Setting: "server.port", Reason: "must be positive"}
		}
	default:
		return eris.Errorf("config: unknown scope %q", scope)
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
