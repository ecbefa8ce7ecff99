package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//	required: Must be provided (no default)
type Config struct {
	// Server basics
	Port int    `env:"PORT" envDefault:"4000"`
	Env  string `env:"ENVIRONMENT" envDefault:"development"`

	// External systems
	MongoURI    string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017/parley"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	KafkaBroker string `env:"KAFKA_BROKER" envDefault:"localhost:9092"`

	// Broker consumer group, shared across replicas so partitions divide work
	ConsumerGroup string `env:"KAFKA_CONSUMER_GROUP" envDefault:"parley-pipeline"`

	// Auth
	JWTAccessSecret  string        `env:"JWT_ACCESS_SECRET,required"`
	JWTRefreshSecret string        `env:"JWT_REFRESH_SECRET,required"`
	JWTAccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"900s"`
	JWTRefreshTTL    time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`

	// Moderation / sentiment analyzer
	AnalyzerURL     string        `env:"FASTAPI_URL" envDefault:"http://localhost:8000"`
	AnalyzerTimeout time.Duration `env:"ANALYZER_TIMEOUT" envDefault:"5s"`
	ServiceSecret   string        `env:"SERVICE_SHARED_SECRET" envDefault:""`

	// HTTP
	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"*"`

	// Gateway capacity
	MaxConnections     int     `env:"WS_MAX_CONNECTIONS" envDefault:"5000"`
	MaxGoroutines      int     `env:"WS_MAX_GOROUTINES" envDefault:"20000"`
	CPURejectThreshold float64 `env:"WS_CPU_REJECT_THRESHOLD" envDefault:"85.0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file and the environment.
// Priority: ENV vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be 1-65535, got %d", c.Port)
	}
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if c.JWTRefreshTTL < c.JWTAccessTTL {
		return fmt.Errorf("JWT_REFRESH_TTL (%s) must be >= JWT_ACCESS_TTL (%s)", c.JWTRefreshTTL, c.JWTAccessTTL)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("WS_MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("WS_CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Brokers splits KAFKA_BROKER into a broker list.
func (c *Config) Brokers() []string {
	result := []string{}
	for _, b := range strings.Split(c.KafkaBroker, ",") {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Origins splits CORS_ORIGINS into an origin list.
func (c *Config) Origins() []string {
	result := []string{}
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// LogConfig logs configuration using structured logging. Secrets are elided.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Env).
		Int("port", c.Port).
		Str("mongo_uri", redactURI(c.MongoURI)).
		Str("redis_url", redactURI(c.RedisURL)).
		Str("kafka_broker", c.KafkaBroker).
		Str("consumer_group", c.ConsumerGroup).
		Dur("jwt_access_ttl", c.JWTAccessTTL).
		Dur("jwt_refresh_ttl", c.JWTRefreshTTL).
		Str("analyzer_url", c.AnalyzerURL).
		Dur("analyzer_timeout", c.AnalyzerTimeout).
		Str("cors_origins", c.CORSOrigins).
		Int("max_connections", c.MaxConnections).
		Int("max_goroutines", c.MaxGoroutines).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}

// redactURI strips userinfo from connection URIs before logging.
func redactURI(uri string) string {
	at := strings.LastIndex(uri, "@")
	if at == -1 {
		return uri
	}
	scheme := strings.Index(uri, "://")
	if scheme == -1 {
		return "***" + uri[at:]
	}
	return uri[:scheme+3] + "***" + uri[at:]
}
