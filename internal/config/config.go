package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/usage"
)

// EnvPrefix prefixes environment overrides, e.g. PROCUREFLOW_SERVER_PORT.
const EnvPrefix = "PROCUREFLOW"

type Config struct {
	Environment     string             `mapstructure:"environment" yaml:"environment"`
	Server          ServerConfig       `mapstructure:"server" yaml:"server"`
	Auth            AuthConfig         `mapstructure:"auth" yaml:"auth"`
	Database        DatabaseConfig     `mapstructure:"database" yaml:"database"`
	Redis           RedisConfig        `mapstructure:"redis" yaml:"redis"`
	Log             LogConfig          `mapstructure:"log" yaml:"log"`
	Providers       []ProviderConfig   `mapstructure:"providers" yaml:"providers"`
	DefaultProvider string             `mapstructure:"default_provider" yaml:"default_provider"`
	Reliability     ReliabilityConfig  `mapstructure:"reliability" yaml:"reliability"`
	Orchestrator    OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Memory          MemoryConfig       `mapstructure:"memory" yaml:"memory"`
	Tools           ToolsConfig        `mapstructure:"tools" yaml:"tools"`
	Safety          SafetyConfig       `mapstructure:"safety" yaml:"safety"`
	Pricing         PricingConfig      `mapstructure:"pricing" yaml:"pricing"`
}

type ServerConfig struct {
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	CORSOrigins    string `mapstructure:"cors_origins" yaml:"cors_origins"`
	RequestsPerMin int    `mapstructure:"requests_per_min" yaml:"requests_per_min"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Required  bool   `mapstructure:"required" yaml:"required"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"` // memory, postgres or sqlite
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
	Path     string `mapstructure:"path" yaml:"path"` // sqlite file
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// ProviderConfig declares one LLM provider. The API key is read from the
// environment variable named by APIKeyEnv when APIKey is empty.
type ProviderConfig struct {
	Name                string        `mapstructure:"name" yaml:"name"`
	Type                string        `mapstructure:"type" yaml:"type"`
	BaseURL             string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey              string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APIKeyEnv           string        `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	Model               string        `mapstructure:"model" yaml:"model"`
	RPMLimit            int           `mapstructure:"rpm_limit" yaml:"rpm_limit"`
	Burst               int           `mapstructure:"burst" yaml:"burst"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SupportsToolCalling *bool         `mapstructure:"supports_tool_calling" yaml:"supports_tool_calling,omitempty"`
}

// LLMConfig resolves the provider's runtime configuration.
func (p ProviderConfig) LLMConfig() llm.ProviderConfig {
	key := p.APIKey
	if key == "" && p.APIKeyEnv != "" {
		key = os.Getenv(p.APIKeyEnv)
	}
	tools := true
	if p.SupportsToolCalling != nil {
		tools = *p.SupportsToolCalling
	}
	return llm.ProviderConfig{
		Name:                p.Name,
		Type:                p.Type,
		APIKey:              key,
		BaseURL:             p.BaseURL,
		Model:               p.Model,
		RPMLimit:            p.RPMLimit,
		Burst:               p.Burst,
		Timeout:             p.Timeout,
		SupportsToolCalling: tools,
	}
}

type ReliabilityConfig struct {
	DefaultTimeout   time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	DefaultRPM       int           `mapstructure:"default_rpm" yaml:"default_rpm"`
	DefaultBurst     int           `mapstructure:"default_burst" yaml:"default_burst"`
	MaxWait          time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay        time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay         time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier       float64       `mapstructure:"multiplier" yaml:"multiplier"`
	Jitter           float64       `mapstructure:"jitter" yaml:"jitter"`
	BreakerWindow    time.Duration `mapstructure:"breaker_window" yaml:"breaker_window"`
	BreakerSamples   int           `mapstructure:"breaker_samples" yaml:"breaker_samples"`
	BreakerMinCalls  int           `mapstructure:"breaker_min_calls" yaml:"breaker_min_calls"`
	BreakerThreshold float64       `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerReset     time.Duration `mapstructure:"breaker_reset" yaml:"breaker_reset"`
}

// RetryPolicy builds the gateway retry policy
func (r ReliabilityConfig) RetryPolicy() *llm.RetryPolicy {
	return &llm.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		MaxDelay:    r.MaxDelay,
		Multiplier:  r.Multiplier,
		Jitter:      r.Jitter,
	}
}

// BreakerConfig builds the circuit breaker settings
func (r ReliabilityConfig) BreakerConfig() llm.BreakerConfig {
	return llm.BreakerConfig{
		Window:       r.BreakerWindow,
		MaxSamples:   r.BreakerSamples,
		MinRequests:  r.BreakerMinCalls,
		FailureRatio: r.BreakerThreshold,
		ResetTimeout: r.BreakerReset,
	}
}

type OrchestratorConfig struct {
	MaxToolCallsPerTurn int           `mapstructure:"max_tool_calls_per_turn" yaml:"max_tool_calls_per_turn"`
	TurnTimeout         time.Duration `mapstructure:"turn_timeout" yaml:"turn_timeout"`
	MaxTokens           int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	// Temperature is sent with every provider call when set; unset leaves
	// each provider's own default.
	Temperature *float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
}

type MemoryConfig struct {
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`
	TokenBudget  int    `mapstructure:"token_budget" yaml:"token_budget"`
	MaxMessages  int    `mapstructure:"max_messages" yaml:"max_messages"`
}

type ToolsConfig struct {
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Parallelism int           `mapstructure:"parallelism" yaml:"parallelism"`
}

type SafetyConfig struct {
	MaxInputChars int      `mapstructure:"max_input_chars" yaml:"max_input_chars"`
	Patterns      []string `mapstructure:"patterns" yaml:"patterns,omitempty"`
	Moderation    bool     `mapstructure:"moderation" yaml:"moderation"`
	// ModerationProvider names the openai provider whose key is used.
	ModerationProvider string `mapstructure:"moderation_provider" yaml:"moderation_provider,omitempty"`
}

type PricingConfig struct {
	Default usage.Price   `mapstructure:"default" yaml:"default"`
	Prices  []usage.Price `mapstructure:"prices" yaml:"prices,omitempty"`
}

// Table builds the pricing table. Configured prices extend the built-in list
// and win on conflicts.
func (p PricingConfig) Table() *usage.Pricing {
	prices := append(usage.DefaultPrices(), p.Prices...)
	return usage.NewPricing(prices, p.Default)
}

const defaultSystemPrompt = `You are ProcureFlow, a procurement assistant. Help the user find catalog items, manage their cart and place orders using the available tools. Only call checkout after the user explicitly confirms. Prices are in USD.`

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("server.requests_per_min", 120)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.required", false)

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "procureflow")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "procureflow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "procureflow.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("providers", []map[string]any{
		{"name": "openai", "type": "openai", "api_key_env": "OPENAI_API_KEY", "model": "gpt-4o-mini", "rpm_limit": 500, "burst": 20},
		{"name": "anthropic", "type": "anthropic", "api_key_env": "ANTHROPIC_API_KEY", "model": "claude-3-5-haiku-20241022", "rpm_limit": 50, "burst": 5},
		{"name": "gemini", "type": "gemini", "api_key_env": "GEMINI_API_KEY", "model": "gemini-2.0-flash", "rpm_limit": 60, "burst": 10},
		{"name": "ollama", "type": "ollama", "base_url": "http://localhost:11434", "model": "llama3.1", "rpm_limit": 600, "burst": 10},
	})
	v.SetDefault("default_provider", "")

	v.SetDefault("reliability.default_timeout", "30s")
	v.SetDefault("reliability.default_rpm", 60)
	v.SetDefault("reliability.default_burst", 10)
	v.SetDefault("reliability.max_wait", "10s")
	v.SetDefault("reliability.max_attempts", 3)
	v.SetDefault("reliability.base_delay", "500ms")
	v.SetDefault("reliability.max_delay", "8s")
	v.SetDefault("reliability.multiplier", 2.0)
	v.SetDefault("reliability.jitter", 0.2)
	v.SetDefault("reliability.breaker_window", "60s")
	v.SetDefault("reliability.breaker_samples", 20)
	v.SetDefault("reliability.breaker_min_calls", 5)
	v.SetDefault("reliability.breaker_threshold", 0.5)
	v.SetDefault("reliability.breaker_reset", "30s")

	v.SetDefault("orchestrator.max_tool_calls_per_turn", 8)
	v.SetDefault("orchestrator.turn_timeout", "90s")
	v.SetDefault("orchestrator.max_tokens", 1024)

	v.SetDefault("memory.system_prompt", defaultSystemPrompt)
	v.SetDefault("memory.token_budget", 6000)
	v.SetDefault("memory.max_messages", 40)

	v.SetDefault("tools.timeout", "5s")
	v.SetDefault("tools.parallelism", 4)

	v.SetDefault("safety.max_input_chars", 4000)
	v.SetDefault("safety.moderation", false)

	v.SetDefault("pricing.default.input_per_million", 1.0)
	v.SetDefault("pricing.default.output_per_million", 3.0)
}

// Load resolves configuration from defaults, an optional JSON config file and
// PROCUREFLOW_* environment variables. An empty path searches ., ./config
// and ~/.procureflow for config.json; a missing file is not an error. No
// network access happens here.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without a default are only seen in the environment when bound.
	_ = v.BindEnv("orchestrator.temperature", EnvPrefix+"_ORCHESTRATOR_TEMPERATURE")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".procureflow"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyProviderDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyProviderDefaults() {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			p.Name = p.Type
		}
		if p.RPMLimit <= 0 {
			p.RPMLimit = c.Reliability.DefaultRPM
		}
		if p.Burst <= 0 {
			p.Burst = c.Reliability.DefaultBurst
		}
		if p.Timeout <= 0 {
			p.Timeout = c.Reliability.DefaultTimeout
		}
	}
}

var knownProviderTypes = map[string]bool{
	"openai":            true,
	"anthropic":         true,
	"gemini":            true,
	"openai-compatible": true,
	"ollama":            true,
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of memory, postgres, sqlite", c.Database.Driver))
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required when auth.required is set"))
	}

	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if !knownProviderTypes[p.Type] {
			errs = append(errs, fmt.Errorf("provider %q has unknown type %q", p.Name, p.Type))
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("provider %q declared twice", p.Name))
		}
		seen[p.Name] = true
	}
	if c.DefaultProvider != "" && !seen[c.DefaultProvider] {
		errs = append(errs, fmt.Errorf("default_provider %q is not declared", c.DefaultProvider))
	}

	if c.Reliability.MaxAttempts < 1 {
		errs = append(errs, errors.New("reliability.max_attempts must be at least 1"))
	}
	if c.Reliability.BreakerThreshold <= 0 || c.Reliability.BreakerThreshold > 1 {
		errs = append(errs, errors.New("reliability.breaker_threshold must be in (0, 1]"))
	}
	if c.Orchestrator.MaxToolCallsPerTurn < 1 {
		errs = append(errs, errors.New("orchestrator.max_tool_calls_per_turn must be at least 1"))
	}
	if t := c.Orchestrator.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, errors.New("orchestrator.temperature must be in [0, 2]"))
	}
	if c.Memory.TokenBudget < 1 {
		errs = append(errs, errors.New("memory.token_budget must be positive"))
	}
	if c.Tools.Timeout <= 0 {
		errs = append(errs, errors.New("tools.timeout must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ProviderConfigs returns the resolved providers in selection order. The
// default provider, when set, comes first.
func (c *Config) ProviderConfigs() []llm.ProviderConfig {
	out := make([]llm.ProviderConfig, 0, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == c.DefaultProvider {
			out = append(out, p.LLMConfig())
		}
	}
	for _, p := range c.Providers {
		if p.Name != c.DefaultProvider {
			out = append(out, p.LLMConfig())
		}
	}
	return out
}

// Redacted returns a copy safe to print: secrets are masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out := c
	out.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	out.Database.Password = mask(c.Database.Password)
	out.Redis.Password = mask(c.Redis.Password)
	out.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		p.APIKey = mask(p.APIKey)
		out.Providers[i] = p
	}
	return out
}
