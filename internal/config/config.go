package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Sources   []SourceConfig  `yaml:"sources" mapstructure:"sources" validate:"dive"`
	Validate  ValidateConfig  `yaml:"validate" mapstructure:"validate"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Run       RunConfig       `yaml:"run" mapstructure:"run"`
	Health    HealthConfig    `yaml:"health" mapstructure:"health"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Schedule  ScheduleConfig  `yaml:"schedule" mapstructure:"schedule"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// MonitorConfig configures background health checks and alerting.
type MonitorConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackHours        int     `yaml:"lookback_hours" mapstructure:"lookback_hours" validate:"min=1"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	ConflictThreshold    int     `yaml:"conflict_threshold" mapstructure:"conflict_threshold"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Path        string `yaml:"path" mapstructure:"path"`
}

// SourceConfig configures one upstream source. Precedence ranks sources
// for reconciliation, 1 highest; sources may share a rank.
type SourceConfig struct {
	ID         string  `yaml:"id" mapstructure:"id" validate:"required"`
	Kind       string  `yaml:"kind" mapstructure:"kind" validate:"oneof=refsite official curated"`
	BaseURL    string  `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	Precedence int     `yaml:"precedence" mapstructure:"precedence" validate:"min=1"`
	MaxRPM     float64 `yaml:"max_requests_per_minute" mapstructure:"max_requests_per_minute" validate:"gt=0"`
	MinDelay   string  `yaml:"min_delay" mapstructure:"min_delay"`
	Disabled   bool    `yaml:"disabled" mapstructure:"disabled"`
}

// MinDelayDuration parses the configured minimum inter-request delay.
func (s SourceConfig) MinDelayDuration() time.Duration {
	d, err := time.ParseDuration(s.MinDelay)
	if err != nil {
		return 0
	}
	return d
}

// ValidateConfig configures the field validator.
type ValidateConfig struct {
	// RulesPath optionally overrides the built-in rule set with a YAML
	// file merged over the defaults.
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
	// MaxInvalidFraction rejects a record outright when more than this
	// fraction of its required fields fail validation.
	MaxInvalidFraction float64 `yaml:"max_invalid_fraction" mapstructure:"max_invalid_fraction" validate:"gte=0,lte=1"`
}

// ReconcileConfig configures the merge step.
type ReconcileConfig struct {
	// DefaultTolerance is the numeric disagreement allowed before a field
	// is flagged conflicted, for fields without a specific entry.
	DefaultTolerance float64 `yaml:"default_tolerance" mapstructure:"default_tolerance" validate:"gte=0"`
	// Tolerances maps field name to its own tolerance (e.g. pts: 0.5).
	Tolerances map[string]float64 `yaml:"tolerances" mapstructure:"tolerances"`
}

// RunConfig bounds run execution.
type RunConfig struct {
	TimeoutMins    int `yaml:"timeout_mins" mapstructure:"timeout_mins" validate:"min=1"`
	MaxAttempts    int `yaml:"max_attempts" mapstructure:"max_attempts" validate:"min=1"`
	BackoffBaseSec int `yaml:"backoff_base_secs" mapstructure:"backoff_base_secs" validate:"min=1"`
}

// HealthConfig configures the per-source rolling health window.
type HealthConfig struct {
	WindowSize     int     `yaml:"window_size" mapstructure:"window_size" validate:"min=1"`
	MinSuccessRate float64 `yaml:"min_success_rate" mapstructure:"min_success_rate" validate:"gte=0,lte=1"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port" validate:"min=1,max=65535"`
}

// ScheduleConfig configures unattended collection runs.
type ScheduleConfig struct {
	// Cron is a standard 5-field cron expression; empty disables the
	// scheduler.
	Cron   string `yaml:"cron" mapstructure:"cron"`
	Season int    `yaml:"season" mapstructure:"season"`
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
	v.SetEnvPrefix("STATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "statsync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("validate.max_invalid_fraction", 0.5)
	v.SetDefault("reconcile.default_tolerance", 0.5)
	v.SetDefault("run.timeout_mins", 30)
	v.SetDefault("run.max_attempts", 3)
	v.SetDefault("run.backoff_base_secs", 5)
	v.SetDefault("health.window_size", 20)
	v.SetDefault("health.min_success_rate", 0.3)
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.lookback_hours", 24)
	v.SetDefault("monitor.failure_rate_threshold", 0.5)
	v.SetDefault("monitor.conflict_threshold", 50)

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
	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultSources()
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: invalid")
	}

	return &cfg, nil
}

// defaultSources mirrors the three sources the collector was built
// around; a config file replaces them wholesale.
func defaultSources() []SourceConfig {
	return []SourceConfig{
		{
			ID:         "refsite",
			Kind:       "refsite",
			BaseURL:    "https://stats.refsite.example.com",
			Precedence: 1,
			MaxRPM:     20,
			MinDelay:   "3s",
		},
		{
			ID:         "official",
			Kind:       "official",
			BaseURL:    "https://api.official.example.com",
			Precedence: 2,
			MaxRPM:     30,
			MinDelay:   "2s",
		},
		{
			ID:         "curated",
			Kind:       "curated",
			BaseURL:    "https://data.curated.example.com",
			Precedence: 3,
			MaxRPM:     60,
			MinDelay:   "1s",
		},
	}
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
