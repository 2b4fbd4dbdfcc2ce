package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kcmetrolive/metro-agent/internal/budget"
	"github.com/kcmetrolive/metro-agent/internal/cost"
	"github.com/kcmetrolive/metro-agent/internal/db"
	"github.com/kcmetrolive/metro-agent/internal/pipeline"
	"github.com/kcmetrolive/metro-agent/internal/research"
	"github.com/kcmetrolive/metro-agent/internal/schedule"
	"github.com/kcmetrolive/metro-agent/internal/signal"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Research  ResearchConfig  `yaml:"research" mapstructure:"research"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Supabase  SupabaseConfig  `yaml:"supabase" mapstructure:"supabase"`
	Bunny     BunnyConfig     `yaml:"bunny" mapstructure:"bunny"`
	Analytics AnalyticsConfig `yaml:"analytics" mapstructure:"analytics"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Budget    budget.Config   `yaml:"budget" mapstructure:"budget"`
	Pipeline  pipeline.Config `yaml:"pipeline" mapstructure:"pipeline"`
	Schedule  schedule.Config `yaml:"schedule" mapstructure:"schedule"`
	Signals   SignalConfig    `yaml:"signals" mapstructure:"signals"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the records and budget backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string        `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// RedisConfig points the agent state and the signal stream at Redis. An
// empty Addr keeps both in the store.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// ResearchConfig selects the research backend.
type ResearchConfig struct {
	Provider string          `yaml:"provider" mapstructure:"provider"`
	Client   research.Config `yaml:"client" mapstructure:"client"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	Model      string `yaml:"model" mapstructure:"model"`
	ImageModel string `yaml:"image_model" mapstructure:"image_model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// SupabaseConfig holds the analytics project credentials.
type SupabaseConfig struct {
	URL        string  `yaml:"url" mapstructure:"url"`
	AnonKey    string  `yaml:"anon_key" mapstructure:"anon_key"`
	ServiceKey string  `yaml:"service_key" mapstructure:"service_key"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// BunnyConfig holds the image CDN storage zone.
type BunnyConfig struct {
	Zone       string  `yaml:"zone" mapstructure:"zone"`
	AccessKey  string  `yaml:"access_key" mapstructure:"access_key"`
	PullZone   string  `yaml:"pull_zone" mapstructure:"pull_zone"`
	StorageURL string  `yaml:"storage_url" mapstructure:"storage_url"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// AnalyticsConfig selects the analytics sink: supabase, postgres, memory or
// none.
type AnalyticsConfig struct {
	Sink string `yaml:"sink" mapstructure:"sink"`
}

// NotifyConfig configures operator notifications.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Prefix     string `yaml:"prefix" mapstructure:"prefix"`
}

// SignalConfig selects how stage completion signals are delivered: inline,
// queue or redis.
type SignalConfig struct {
	Bus       string             `yaml:"bus" mapstructure:"bus"`
	QueueSize int                `yaml:"queue_size" mapstructure:"queue_size"`
	Redis     signal.RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
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
	v.SetEnvPrefix("METRO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "metro.db")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.prefix", "metro:")
	v.SetDefault("research.provider", "openai")
	v.SetDefault("research.client.temperature", 0.3)
	v.SetDefault("research.client.max_tokens", 4000)
	v.SetDefault("research.client.probe_timeout", "30s")
	v.SetDefault("research.client.image_timeout", "60s")
	v.SetDefault("research.client.image_prefix", "images")
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.image_model", "dall-e-3")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.anon_key", "")
	v.SetDefault("supabase.service_key", "")
	v.SetDefault("supabase.rate_limit", 10)
	v.SetDefault("bunny.zone", "")
	v.SetDefault("bunny.access_key", "")
	v.SetDefault("bunny.pull_zone", "")
	v.SetDefault("bunny.storage_url", "")
	v.SetDefault("bunny.rate_limit", 5)
	v.SetDefault("analytics.sink", "memory")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.prefix", "[KC Metro Live]")
	v.SetDefault("budget.daily_limit", 5.00)
	v.SetDefault("budget.warning_ratio", 0.8)
	v.SetDefault("budget.log_cap", 100)
	v.SetDefault("budget.default_unit_cost", 0.10)
	v.SetDefault("budget.timezone", "America/Chicago")
	v.SetDefault("pipeline.events_timeout", "300s")
	v.SetDefault("pipeline.max_limit", 10)
	v.SetDefault("pipeline.run_log_cap", 100)
	v.SetDefault("schedule.cron", "0 6 * * *")
	v.SetDefault("schedule.limit", 10)
	v.SetDefault("schedule.interval", "1m")
	v.SetDefault("schedule.timezone", "America/Chicago")
	v.SetDefault("signals.bus", "queue")
	v.SetDefault("signals.queue_size", 16)
	v.SetDefault("signals.redis.stream", "metro:stage_completed")
	v.SetDefault("signals.redis.group", "pipeline")
	v.SetDefault("signals.redis.consumer", "worker-1")
	v.SetDefault("signals.redis.block", "5s")
	v.SetDefault("signals.redis.max_len", 1000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "10s")
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
	if len(cfg.Pricing.Models) == 0 {
		cfg.Pricing = cost.DefaultRates()
	}

	return &cfg, nil
}

// Validate reports settings that would stop the agent from running.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return eris.New("config: store.database_url is required for the postgres driver")
		}
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	switch c.Research.Provider {
	case "openai", "anthropic":
	default:
		return eris.Errorf("config: unknown research provider %q", c.Research.Provider)
	}
	switch c.Signals.Bus {
	case "inline", "queue":
	case "redis":
		if c.Redis.Addr == "" {
			return eris.New("config: redis.addr is required for the redis signal bus")
		}
	default:
		return eris.Errorf("config: unknown signal bus %q", c.Signals.Bus)
	}
	if c.Budget.DailyLimit < 0 {
		return eris.Errorf("config: budget.daily_limit must be non-negative, got %v", c.Budget.DailyLimit)
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
