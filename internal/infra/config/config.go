package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       ProviderConfig  `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retriever RetrieverConfig `yaml:"retriever"`
	ToolHost  ToolHostConfig  `yaml:"tool_host"`
	Session   SessionConfig   `yaml:"session"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	RequestsPerMin int    `yaml:"requests_per_min"`
	Burst          int    `yaml:"burst"`
}

// ProviderConfig holds settings for the chat completion provider.
// Any OpenAI-compatible endpoint works via BaseURL.
type ProviderConfig struct {
	Name           string               `yaml:"name"`
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Model          string               `yaml:"model"`
	Temperature    float64              `yaml:"temperature"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the LLM provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// EmbeddingConfig holds text embedding provider settings.
type EmbeddingConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key,omitempty"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// RetrieverConfig holds knowledge retriever settings.
type RetrieverConfig struct {
	IndexPath        string `yaml:"index_path"`
	TopK             int    `yaml:"top_k"`
	MaxContextTokens int    `yaml:"max_context_tokens"`
	PreviewLen       int    `yaml:"preview_len"`
}

// ToolHostConfig holds remote tool host settings. Server and Token are the
// credentials injected into privileged (prefix-matched) tool calls.
type ToolHostConfig struct {
	URL         string        `yaml:"url"`
	Prefix      string        `yaml:"prefix"`
	Server      string        `yaml:"server"`
	Token       string        `yaml:"token"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// SessionConfig holds conversation history settings.
type SessionConfig struct {
	MaxMessages int `yaml:"max_messages"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			RequestsPerMin: 100,
			Burst:          20,
		},
		LLM: ProviderConfig{
			Name:        "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			ConnTimeout: 30 * time.Second,
			RespTimeout: 120 * time.Second,
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Embedding: EmbeddingConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Retriever: RetrieverConfig{
			IndexPath:        "./data/index.db",
			TopK:             4,
			MaxContextTokens: 6000,
			PreviewLen:       200,
		},
		ToolHost: ToolHostConfig{
			Prefix:      "aem-",
			CallTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			MaxMessages: 10,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps environment variables to config fields. The AEM and
// OpenAI variables keep their conventional names; everything else is AEMBOT_*.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = v
		}
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = v
		}
	}
	if v := os.Getenv("AEM_SERVER"); v != "" {
		cfg.ToolHost.Server = v
	}
	if v := os.Getenv("AEM_TOKEN"); v != "" {
		cfg.ToolHost.Token = v
	}
	if v := os.Getenv("MCP_SERVER_URL"); v != "" {
		cfg.ToolHost.URL = v
	}
	if v := os.Getenv("AEMBOT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AEMBOT_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("AEMBOT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("AEMBOT_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("AEMBOT_INDEX_PATH"); v != "" {
		cfg.Retriever.IndexPath = v
	}
	if v := os.Getenv("AEMBOT_RETRIEVER_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retriever.TopK = n
		}
	}
	if v := os.Getenv("AEMBOT_SESSION_MAX_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Session.MaxMessages = n
		}
	}
	if v := os.Getenv("AEMBOT_TOOL_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.ToolHost.CallTimeout = d
		}
	}
	if v := os.Getenv("AEMBOT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("AEMBOT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("AEMBOT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("AEMBOT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// Validate checks config invariants that would otherwise surface as confusing
// runtime failures.
func Validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if cfg.Session.MaxMessages <= 0 {
		return fmt.Errorf("session.max_messages must be positive, got %d", cfg.Session.MaxMessages)
	}
	if cfg.Retriever.TopK <= 0 {
		return fmt.Errorf("retriever.top_k must be positive, got %d", cfg.Retriever.TopK)
	}
	if cfg.ToolHost.CallTimeout <= 0 {
		return fmt.Errorf("tool_host.call_timeout must be positive")
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be in [0, 2], got %v", cfg.LLM.Temperature)
	}
	return nil
}
