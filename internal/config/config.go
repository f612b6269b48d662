// Package config loads engine configuration from a YAML file and
// QUILL_-prefixed environment variables, with environment taking precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr         string   `mapstructure:"addr"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// StreamConfig configures the streaming channel.
type StreamConfig struct {
	Endpoint          string        `mapstructure:"endpoint"`
	FallbackEndpoint  string        `mapstructure:"fallback_endpoint"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
	MaxReconnects     int           `mapstructure:"max_reconnects"`
	QueueSize         int           `mapstructure:"queue_size"`
	HistorySize       int           `mapstructure:"history_size"`
}

// PipelineConfig bounds concurrent request processing.
type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	ResultCache   int           `mapstructure:"result_cache"`
	GroupDeadline time.Duration `mapstructure:"group_deadline"`
	RoutesFile    string        `mapstructure:"routes_file"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig toggles pipeline span export.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DocumentConfig seeds the in-memory demo document.
type DocumentConfig struct {
	Ref     string `mapstructure:"ref"`
	Content string `mapstructure:"content"`
}

// Config is the full engine configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Document DocumentConfig `mapstructure:"document"`
}

// Load reads configuration from path (optional) and the environment.
// Missing file is not an error; defaults cover every field.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8420")
	v.SetDefault("server.allow_origins", []string{})
	v.SetDefault("stream.endpoint", "ws://127.0.0.1:8420/api/stream")
	v.SetDefault("stream.fallback_endpoint", "http://127.0.0.1:8420/api/events")
	v.SetDefault("stream.heartbeat_interval", 15*time.Second)
	v.SetDefault("stream.stale_after", 45*time.Second)
	v.SetDefault("stream.backoff_base", 2*time.Second)
	v.SetDefault("stream.backoff_cap", 32*time.Second)
	v.SetDefault("stream.max_reconnects", 5)
	v.SetDefault("stream.queue_size", 256)
	v.SetDefault("stream.history_size", 512)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 64)
	v.SetDefault("pipeline.result_cache", 512)
	v.SetDefault("pipeline.group_deadline", 10*time.Second)
	v.SetDefault("pipeline.routes_file", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("document.ref", "demo")
	v.SetDefault("document.content", "")

	v.SetEnvPrefix("QUILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
