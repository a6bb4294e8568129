package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider ProviderConfig `yaml:"provider"`
	Agent    AgentConfig    `yaml:"agent"`
	Tools    ToolsConfig    `yaml:"tools"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	RequestsPerMin int    `yaml:"requests_per_min"` // 0 disables rate limiting
	Burst          int    `yaml:"burst"`
}

// ProviderConfig holds upstream completion API settings.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// PoolConfig configures HTTP connection pooling for the provider client.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// BreakerConfig configures the circuit breaker around the provider.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// AgentConfig holds ReAct orchestration settings.
type AgentConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	MaxTokens     int `yaml:"max_tokens"`
	TokenBudget   int `yaml:"token_budget"` // warn-only prompt size ceiling
}

// ToolsConfig holds tool execution settings.
type ToolsConfig struct {
	WorkingDir    string        `yaml:"working_dir"`
	PythonTimeout time.Duration `yaml:"python_timeout"`
	JSTimeout     time.Duration `yaml:"js_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stdout", "stderr", or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8000",
			RequestsPerMin: 60,
			Burst:          10,
		},
		Provider: ProviderConfig{
			Name:        "deepseek",
			Model:       "deepseek-reasoner",
			BaseURL:     "https://api.deepseek.com/v1",
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
		},
		Agent: AgentConfig{
			MaxIterations: 10,
			MaxTokens:     4096,
			TokenBudget:   64000,
		},
		Tools: ToolsConfig{
			WorkingDir:    "./workspace",
			PythonTimeout: 30 * time.Second,
			JSTimeout:     5 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides.
// A missing file is not an error; defaults plus env overrides are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, validate(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps DEEPCHAT_* env vars to config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DEEPCHAT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DEEPCHAT_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("DEEPCHAT_API_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("DEEPCHAT_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("DEEPCHAT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("DEEPCHAT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("DEEPCHAT_TOOLS_WORKING_DIR"); v != "" {
		cfg.Tools.WorkingDir = v
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url must not be empty")
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = 10
	}
	if cfg.Tools.PythonTimeout <= 0 {
		cfg.Tools.PythonTimeout = 30 * time.Second
	}
	if cfg.Tools.JSTimeout <= 0 {
		cfg.Tools.JSTimeout = 5 * time.Second
	}
	return nil
}
