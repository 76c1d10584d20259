package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	XAI    XAIConfig    `yaml:"xai" mapstructure:"xai"`
	Redis  RedisConfig  `yaml:"redis" mapstructure:"redis"`
	Enrich EnrichConfig `yaml:"enrich" mapstructure:"enrich"`
	Review ReviewConfig `yaml:"review" mapstructure:"review"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the document store backend.
type StoreConfig struct {
	// Driver is postgres, sqlite, or memory.
	Driver           string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath       string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	PartitionKeyPath string `yaml:"partition_key_path" mapstructure:"partition_key_path"`
	MemoryCapacity   int    `yaml:"memory_capacity" mapstructure:"memory_capacity"`
}

// XAIConfig holds the search backend settings.
type XAIConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Model    string `yaml:"model" mapstructure:"model"`
}

// RedisConfig configures the resume queue. An empty Addr disables
// Redis; resume jobs then run on detached in-process goroutines.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	QueueKey string `yaml:"queue_key" mapstructure:"queue_key"`
}

// Enabled reports whether a Redis backend is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// EnrichConfig tunes the enrichment passes.
type EnrichConfig struct {
	HardCapMS          int64 `yaml:"hard_cap_ms" mapstructure:"hard_cap_ms"`
	CompanyConcurrency int   `yaml:"company_concurrency" mapstructure:"company_concurrency"`
	ResumeDelayMS      int64 `yaml:"resume_delay_ms" mapstructure:"resume_delay_ms"`
}

// HardCap returns the per-invocation budget as a duration.
func (e EnrichConfig) HardCap() time.Duration {
	return time.Duration(e.HardCapMS) * time.Millisecond
}

// ResumeDelay returns the resume cooldown as a duration.
func (e EnrichConfig) ResumeDelay() time.Duration {
	return time.Duration(e.ResumeDelayMS) * time.Millisecond
}

// ReviewConfig tunes review link verification.
type ReviewConfig struct {
	CheckTimeoutSecs int `yaml:"check_timeout_secs" mapstructure:"check_timeout_secs"`
	MaxBodyBytes     int `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// CheckTimeout returns the per-link verification timeout.
func (r ReviewConfig) CheckTimeout() time.Duration {
	return time.Duration(r.CheckTimeoutSecs) * time.Second
}

// ServerConfig configures the HTTP server.
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
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.partition_key_path", "/normalized_domain")
	v.SetDefault("store.sqlite_path", "enrich.db")
	v.SetDefault("store.memory_capacity", 1000)
	v.SetDefault("xai.endpoint", "https://api.x.ai/v1/chat/completions")
	v.SetDefault("xai.model", "grok-4-fast")
	v.SetDefault("redis.queue_key", "enrich:resume")
	v.SetDefault("enrich.hard_cap_ms", 25000)
	v.SetDefault("enrich.company_concurrency", 2)
	v.SetDefault("enrich.resume_delay_ms", 30000)
	v.SetDefault("review.check_timeout_secs", 8)
	v.SetDefault("review.max_body_bytes", 262144)
	v.SetDefault("server.port", 8080)
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

// Validate checks the configuration for one run mode. Modes: enrich,
// serve, resume, sessions.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	default:
		problems = append(problems, "store.driver must be one of memory, sqlite, postgres")
	}

	if c.Enrich.CompanyConcurrency < 1 || c.Enrich.CompanyConcurrency > 4 {
		problems = append(problems, "enrich.company_concurrency must be between 1 and 4")
	}
	if c.Enrich.HardCapMS <= 0 {
		problems = append(problems, "enrich.hard_cap_ms must be > 0")
	}

	switch mode {
	case "enrich", "serve", "resume":
		if c.XAI.Key == "" {
			problems = append(problems, "xai.key is required")
		}
	case "sessions":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}
	if mode == "resume" && !c.Redis.Enabled() {
		problems = append(problems, "redis.addr is required for the resume worker")
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
