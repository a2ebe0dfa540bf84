package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr                = ":8008"
	DefaultEngine              = "llama"
	DefaultCtxSize             = 4096
	DefaultGPULayers           = 40
	DefaultIdleTimeoutSeconds  = 300
	DefaultPollIntervalSeconds = 10
	DefaultMaxWaitSeconds      = 30
	DefaultMaxBodyBytes        = 1 << 20
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "console"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	ModelPath string `json:"model_path" yaml:"model_path" toml:"model_path"`
	ModelName string `json:"model_name" yaml:"model_name" toml:"model_name"`

	Engine       string `json:"engine" yaml:"engine" toml:"engine"`
	ServerURL    string `json:"server_url" yaml:"server_url" toml:"server_url"`
	ServerAPIKey string `json:"server_api_key" yaml:"server_api_key" toml:"server_api_key"`

	CtxSize int `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads int `json:"threads" yaml:"threads" toml:"threads"`
	// GPULayers is a pointer so an explicit 0 (CPU only) survives defaults.
	GPULayers *int `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`

	IdleTimeoutSeconds    int `json:"idle_timeout_seconds" yaml:"idle_timeout_seconds" toml:"idle_timeout_seconds"`
	PollIntervalSeconds   int `json:"poll_interval_seconds" yaml:"poll_interval_seconds" toml:"poll_interval_seconds"`
	MaxWaitSeconds        int `json:"max_wait_seconds" yaml:"max_wait_seconds" toml:"max_wait_seconds"`
	RequestTimeoutSeconds int `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`

	MaxBodyBytes    int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	LogLevel        string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat       string `json:"log_format" yaml:"log_format" toml:"log_format"`
	RequestLogLevel string `json:"request_log_level" yaml:"request_log_level" toml:"request_log_level"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	Preload bool `json:"preload" yaml:"preload" toml:"preload"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// ApplyDefaults fills unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.CtxSize <= 0 {
		c.CtxSize = DefaultCtxSize
	}
	if c.Threads <= 0 {
		c.Threads = runtime.NumCPU()
	}
	if c.GPULayers == nil {
		n := DefaultGPULayers
		c.GPULayers = &n
	}
	if c.IdleTimeoutSeconds <= 0 {
		c.IdleTimeoutSeconds = DefaultIdleTimeoutSeconds
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if c.MaxWaitSeconds <= 0 {
		c.MaxWaitSeconds = DefaultMaxWaitSeconds
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.RequestLogLevel == "" {
		c.RequestLogLevel = c.LogLevel
	}
}

// Validate reports configuration that cannot be served.
func (c Config) Validate() error {
	switch c.Engine {
	case "llama":
		if strings.TrimSpace(c.ModelPath) == "" {
			return fmt.Errorf("model_path is required for the llama engine")
		}
	case "server":
		if strings.TrimSpace(c.ServerURL) == "" {
			return fmt.Errorf("server_url is required for the server engine")
		}
	default:
		return fmt.Errorf("unknown engine %q (want llama or server)", c.Engine)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q (want console or json)", c.LogFormat)
	}
	return nil
}

func (c Config) IdleTimeout() time.Duration { return seconds(c.IdleTimeoutSeconds) }

func (c Config) PollInterval() time.Duration { return seconds(c.PollIntervalSeconds) }

func (c Config) MaxWait() time.Duration { return seconds(c.MaxWaitSeconds) }

func (c Config) RequestTimeout() time.Duration { return seconds(c.RequestTimeoutSeconds) }

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
