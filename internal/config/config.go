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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Detect    DetectConfig    `yaml:"detect" mapstructure:"detect"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings for the detection passes.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotionConfig holds the case-management dashboard credentials and the
// databases incidents and alerts are written to.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	IncidentDB string `yaml:"incident_db" mapstructure:"incident_db"`
	AlertDB    string `yaml:"alert_db" mapstructure:"alert_db"`
}

// IngestConfig configures corpus ingestion runs.
type IngestConfig struct {
	UserAgent    string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs  int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int    `yaml:"max_retries" mapstructure:"max_retries"`
	CatalogPath  string `yaml:"catalog_path" mapstructure:"catalog_path"`
	Jurisdiction string `yaml:"jurisdiction" mapstructure:"jurisdiction"`
}

// DetectConfig configures the multi-perspective detection engine.
type DetectConfig struct {
	BatchSize           int `yaml:"batch_size" mapstructure:"batch_size"`
	MinConfidence       int `yaml:"min_confidence" mapstructure:"min_confidence"`
	EscalateConfidence  int `yaml:"escalate_confidence" mapstructure:"escalate_confidence"`
	RecordDelayMillis   int `yaml:"record_delay_millis" mapstructure:"record_delay_millis"`
	RecurrenceThreshold int `yaml:"recurrence_threshold" mapstructure:"recurrence_threshold"`
}

// ServerConfig configures the webhook server.
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
	v.SetEnvPrefix("LEXVEILLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Keys without a meaningful default still get an empty one:
	// AutomaticEnv only resolves keys viper knows about, so a key with no
	// default and no config-file entry would never see its env override.
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.incident_db", "")
	v.SetDefault("notion.alert_db", "")
	v.SetDefault("ingest.jurisdiction", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.timeout_secs", 60)
	v.SetDefault("ingest.user_agent", "lexveille/1.0")
	v.SetDefault("ingest.timeout_secs", 30)
	v.SetDefault("ingest.max_retries", 3)
	v.SetDefault("ingest.catalog_path", "catalog.yaml")
	v.SetDefault("detect.batch_size", 20)
	v.SetDefault("detect.min_confidence", 50)
	v.SetDefault("detect.escalate_confidence", 70)
	v.SetDefault("detect.record_delay_millis", 1500)
	v.SetDefault("detect.recurrence_threshold", 2)

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
