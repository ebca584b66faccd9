// Package config loads and validates gateway configuration.
//
// DESIGN: YAML file with ${VAR} expansion, layered as
// Defaults() <- file <- environment overrides (PORT, DIFY_API_URL, DIFY_API_KEY).
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full gateway configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Downstream   DownstreamConfig   `yaml:"downstream"`
	Conversation ConversationConfig `yaml:"conversation"`
	Usage        UsageConfig        `yaml:"usage"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
}

// ServerConfig controls the inbound HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // 0 = no limit (streaming)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// UpstreamConfig describes the conversational provider.
type UpstreamConfig struct {
	BaseURL         string        `yaml:"base_url"`
	ChatPath        string        `yaml:"chat_path"`
	APIKey          string        `yaml:"api_key"` // fallback when the client sends no bearer token
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	BlockingTimeout time.Duration `yaml:"blocking_timeout"`
}

// ChatURL returns the full upstream chat endpoint.
func (u UpstreamConfig) ChatURL() string {
	return strings.TrimRight(u.BaseURL, "/") + "/" + strings.TrimLeft(u.ChatPath, "/")
}

// DownstreamConfig shapes client-facing responses.
type DownstreamConfig struct {
	Model string `yaml:"model"`
}

// ConversationConfig selects the correlation store backend.
type ConversationConfig struct {
	Backend    string `yaml:"backend"`     // memory, sqlite
	SQLitePath string `yaml:"sqlite_path"` // file path or ":memory:"
}

// UsageConfig selects how usage counters are filled when the upstream omits them.
type UsageConfig struct {
	Estimator string `yaml:"estimator"` // placeholder, tiktoken
	Encoding  string `yaml:"encoding"`
}

// MonitoringConfig contains logging and telemetry settings.
type MonitoringConfig struct {
	LogLevel         string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat        string `yaml:"log_format"` // json, console
	LogOutput        string `yaml:"log_output"` // stdout, stderr, or file path
	TelemetryEnabled bool   `yaml:"telemetry_enabled"`
	TelemetryPath    string `yaml:"telemetry_path"`
	TelemetryStdout  bool   `yaml:"telemetry_stdout"` // also log each request event
}

// Defaults returns a config with every field set to its default.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     DefaultServerReadTimeout,
			WriteTimeout:    DefaultServerWriteTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Upstream: UpstreamConfig{
			BaseURL:         DefaultUpstreamBaseURL,
			ChatPath:        DefaultChatPath,
			ConnectTimeout:  DefaultConnectTimeout,
			BlockingTimeout: DefaultBlockingTimeout,
		},
		Downstream: DownstreamConfig{
			Model: DefaultDownstreamModel,
		},
		Conversation: ConversationConfig{
			Backend: BackendMemory,
		},
		Usage: UsageConfig{
			Estimator: EstimatorPlaceholder,
			Encoding:  DefaultTokenEncoding,
		},
		Monitoring: MonitoringConfig{
			LogLevel:  "info",
			LogFormat: "console",
			LogOutput: "stdout",
		},
	}
}

// Load reads a YAML config file. An empty path yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Defaults()
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML config, expanding ${VAR} references first.
func LoadFromBytes(data []byte) (*Config, error) {
	cfg := Defaults()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets the classic deployment variables override the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DIFY_API_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("DIFY_API_KEY"); v != "" && c.Upstream.APIKey == "" {
		c.Upstream.APIKey = v
	}
}

// Validate checks the configuration for values the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream.base_url is not an absolute URL: %q", c.Upstream.BaseURL)
	}
	if c.Upstream.ConnectTimeout <= 0 {
		return fmt.Errorf("upstream.connect_timeout must be > 0")
	}
	if c.Upstream.BlockingTimeout < 0 {
		return fmt.Errorf("upstream.blocking_timeout must be >= 0")
	}
	switch c.Conversation.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Conversation.SQLitePath == "" {
			return fmt.Errorf("conversation.sqlite_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("conversation.backend must be %q or %q, got %q", BackendMemory, BackendSQLite, c.Conversation.Backend)
	}
	switch c.Usage.Estimator {
	case EstimatorPlaceholder, EstimatorTiktoken:
	default:
		return fmt.Errorf("usage.estimator must be %q or %q, got %q", EstimatorPlaceholder, EstimatorTiktoken, c.Usage.Estimator)
	}
	if c.Monitoring.TelemetryEnabled && c.Monitoring.TelemetryPath == "" && !c.Monitoring.TelemetryStdout {
		return fmt.Errorf("monitoring.telemetry_path or telemetry_stdout is required when telemetry is enabled")
	}
	return nil
}
