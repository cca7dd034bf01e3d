// Package config loads the process configuration from a YAML file with
// environment variable expansion and overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for vaagent.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	LLM        LLMConfig        `yaml:"llm"`
	Search     SearchConfig     `yaml:"search"`
	Agent      AgentConfig      `yaml:"agent"`
	Stream     StreamConfig     `yaml:"stream"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // sqlite | postgres
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type CheckpointConfig struct {
	// Backend is "memory" (process lifetime) or "sql" (the configured database).
	Backend string `yaml:"backend"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // openai | anthropic | mock
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

type SearchConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	MaxResults  int           `yaml:"max_results"`
	SearchDepth string        `yaml:"search_depth"`
	Topic       string        `yaml:"topic"`
	Timeout     time.Duration `yaml:"timeout"`
}

type AgentConfig struct {
	MaxSteps           int           `yaml:"max_steps"`
	MaxCycles          int           `yaml:"max_cycles"`
	ModelTimeout       time.Duration `yaml:"model_timeout"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	MaxParallelTools   int           `yaml:"max_parallel_tools"`
	MaxHistoryMessages int           `yaml:"max_history_messages"`
	ReturnToSupervisor bool          `yaml:"return_to_supervisor"`
}

type StreamConfig struct {
	EmitToolEnd bool `yaml:"emit_tool_end"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Environment  string  `yaml:"environment"`
}

// Default returns the configuration used without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)

	return cfg
}

// Load reads the configuration file at path, expands ${VAR} references,
// applies defaults and environment overrides and validates the result. An
// empty path yields the defaults with environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(cfg)

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "file:vaagent.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = "memory"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.2
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Search.MaxResults == 0 {
		cfg.Search.MaxResults = 5
	}
	if cfg.Search.Timeout == 0 {
		cfg.Search.Timeout = 20 * time.Second
	}
	if cfg.Agent.MaxSteps == 0 {
		cfg.Agent.MaxSteps = 8
	}
	if cfg.Agent.MaxCycles == 0 {
		cfg.Agent.MaxCycles = 10
	}
	if cfg.Agent.ModelTimeout == 0 {
		cfg.Agent.ModelTimeout = 60 * time.Second
	}
	if cfg.Agent.ToolTimeout == 0 {
		cfg.Agent.ToolTimeout = 30 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnv overrides file values with environment variables. Provider API
// keys fall back to their conventional variable names.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	var errs []error

	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("VAAGENT_HOST", &cfg.Server.Host)
	integer("VAAGENT_PORT", &cfg.Server.Port)
	str("VAAGENT_DB_DRIVER", &cfg.Database.Driver)
	str("VAAGENT_DB_DSN", &cfg.Database.DSN)
	str("VAAGENT_CHECKPOINT_BACKEND", &cfg.Checkpoint.Backend)
	str("VAAGENT_LLM_PROVIDER", &cfg.LLM.Provider)
	str("VAAGENT_LLM_MODEL", &cfg.LLM.Model)
	str("VAAGENT_LLM_BASE_URL", &cfg.LLM.BaseURL)
	integer("VAAGENT_MAX_STEPS", &cfg.Agent.MaxSteps)
	integer("VAAGENT_MAX_CYCLES", &cfg.Agent.MaxCycles)
	duration("VAAGENT_MODEL_TIMEOUT", &cfg.Agent.ModelTimeout)
	duration("VAAGENT_TOOL_TIMEOUT", &cfg.Agent.ToolTimeout)
	boolean("VAAGENT_RETURN_TO_SUPERVISOR", &cfg.Agent.ReturnToSupervisor)
	boolean("VAAGENT_EMIT_TOOL_END", &cfg.Stream.EmitToolEnd)
	str("VAAGENT_LOG_LEVEL", &cfg.Logging.Level)
	str("VAAGENT_LOG_FORMAT", &cfg.Logging.Format)
	str("VAAGENT_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	str("VAAGENT_TAVILY_BASE_URL", &cfg.Search.BaseURL)

	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			str("OPENAI_API_KEY", &cfg.LLM.APIKey)
		case "anthropic":
			str("ANTHROPIC_API_KEY", &cfg.LLM.APIKey)
		}
	}
	str("VAAGENT_LLM_API_KEY", &cfg.LLM.APIKey)

	if cfg.Search.APIKey == "" {
		str("TAVILY_API_KEY", &cfg.Search.APIKey)
	}

	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3", "postgres", "postgresql", "pq":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	switch c.Checkpoint.Backend {
	case "memory", "sql":
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q must be memory or sql", c.Checkpoint.Backend))
	}

	switch c.LLM.Provider {
	case "openai", "anthropic", "mock":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q must be openai, anthropic or mock", c.LLM.Provider))
	}

	if c.Agent.MaxSteps < 1 {
		errs = append(errs, errors.New("agent.max_steps must be positive"))
	}

	if c.Agent.MaxCycles < 1 {
		errs = append(errs, errors.New("agent.max_cycles must be positive"))
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be json or text", c.Logging.Format))
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, errors.New("tracing.sampling_rate must be within [0, 1]"))
	}

	return errors.Join(errs...)
}
