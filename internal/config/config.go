// Package config provides configuration loading for lessond.
//
// Configuration is read from a YAML file and overridden by LESSOND_*
// environment variables. Missing values fall back to defaults. The
// lesson policy has its own loader in the policy package.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Extraction providers.
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Config holds the complete lessond configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Storage       StorageConfig       `koanf:"storage"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Policy        PolicyConfig        `koanf:"policy"`
	Extraction    ExtractionConfig    `koanf:"extraction"`
	Engine        EngineConfig        `koanf:"engine"`
	Alerting      AlertingConfig      `koanf:"alerting"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects and configures the lesson repository.
type StorageConfig struct {
	Backend string `koanf:"backend"`

	// Path is the JSON document (file) or database file (sqlite).
	Path string `koanf:"path"`

	// FlushInterval enables buffered writes for the file backend.
	FlushInterval Duration `koanf:"flush_interval"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword Secret `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`
}

// MetricsConfig holds metrics collector persistence settings.
type MetricsConfig struct {
	// Path of the metrics document. Empty keeps metrics in memory.
	Path string `koanf:"path"`
}

// PolicyConfig locates the policy file.
type PolicyConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// ExtractionConfig configures the text-generation service used to propose lessons.
type ExtractionConfig struct {
	Provider      string   `koanf:"provider"`
	Model         string   `koanf:"model"`
	APIKey        Secret   `koanf:"api_key"`
	BaseURL       string   `koanf:"base_url"`
	Timeout       Duration `koanf:"timeout"`
	MaxTokens     int      `koanf:"max_tokens"`
	MinConfidence float64  `koanf:"min_confidence"`
}

// EngineConfig controls the periodic curation and evaluation loop.
type EngineConfig struct {
	Interval Duration `koanf:"interval"`
	Lookback Duration `koanf:"lookback"`
}

// AlertingConfig configures alert delivery. Alerts are always logged;
// a NATS URL adds publishing.
type AlertingConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ObservabilityConfig holds logging and OpenTelemetry settings.
type ObservabilityConfig struct {
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"`
	OTLPInsecure    bool   `koanf:"otlp_insecure"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.Path == "" {
		switch cfg.Storage.Backend {
		case BackendFile:
			cfg.Storage.Path = "~/.local/share/lessond/lessons.json"
		case BackendSQLite:
			cfg.Storage.Path = "~/.local/share/lessond/lessons.db"
		}
	}
	if cfg.Storage.Backend == BackendRedis {
		if cfg.Storage.RedisAddr == "" {
			cfg.Storage.RedisAddr = "localhost:6379"
		}
		if cfg.Storage.RedisPrefix == "" {
			cfg.Storage.RedisPrefix = "lessond"
		}
	}

	if cfg.Extraction.Provider == "" {
		cfg.Extraction.Provider = ProviderNone
	}
	if cfg.Extraction.Timeout == 0 {
		cfg.Extraction.Timeout = Duration(60 * time.Second)
	}
	if cfg.Extraction.MaxTokens == 0 {
		cfg.Extraction.MaxTokens = 2048
	}
	if cfg.Extraction.MinConfidence == 0 {
		cfg.Extraction.MinConfidence = 0.7
	}

	if cfg.Engine.Interval == 0 {
		cfg.Engine.Interval = Duration(time.Hour)
	}
	if cfg.Engine.Lookback == 0 {
		cfg.Engine.Lookback = Duration(7 * 24 * time.Hour)
	}

	if cfg.Alerting.SubjectPrefix == "" {
		cfg.Alerting.SubjectPrefix = "lessond.alerts"
	}

	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "lessond"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.OTLPProtocol == "" {
		cfg.Observability.OTLPProtocol = "grpc"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path required for %s backend", c.Storage.Backend)
		}
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("redis address required for redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}
	if c.Storage.FlushInterval != 0 && c.Storage.Backend != BackendFile {
		return errors.New("flush interval only applies to the file backend")
	}

	switch c.Extraction.Provider {
	case ProviderNone:
	case ProviderAnthropic, ProviderOpenAI:
		if !c.Extraction.APIKey.IsSet() {
			return fmt.Errorf("api key required for %s extraction", c.Extraction.Provider)
		}
	default:
		return fmt.Errorf("unknown extraction provider: %q", c.Extraction.Provider)
	}
	if c.Extraction.MinConfidence < 0 || c.Extraction.MinConfidence > 1 {
		return fmt.Errorf("min confidence %.2f outside [0,1]", c.Extraction.MinConfidence)
	}

	if c.Engine.Interval <= 0 {
		return errors.New("engine interval must be positive")
	}
	if c.Engine.Lookback <= 0 {
		return errors.New("engine lookback must be positive")
	}

	switch c.Observability.OTLPProtocol {
	case "grpc", "http/protobuf":
	default:
		return fmt.Errorf("unknown otlp protocol: %q", c.Observability.OTLPProtocol)
	}
	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}
