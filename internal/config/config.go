package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role identifies which model a component talks to. Every model call in the
// system goes out under exactly one role.
type Role string

const (
	RoleReasoner   Role = "reasoner"
	RoleSummarizer Role = "summarizer"
	RoleCritic     Role = "critic"
	RoleVoter      Role = "voter"
	RoleFuser      Role = "fuser"
)

// ModelConfig describes one backend model endpoint.
type ModelConfig struct {
	Name        string  `mapstructure:"name"`
	Model       string  `mapstructure:"model"`
	APIURL      string  `mapstructure:"api_url"`
	APIKeyEnv   string  `mapstructure:"api_key_env"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	// Resolved from APIKeyEnv at load time; never serialized.
	APIKey string `mapstructure:"-"`
}

// ReasoningConfig controls the pass loop.
type ReasoningConfig struct {
	NumPasses   int  `mapstructure:"num_passes"`
	MaxSteps    int  `mapstructure:"max_steps"`
	EnableCache bool `mapstructure:"enable_cache"`
}

// ValidationConfig controls the generate-then-vote validator.
type ValidationConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	NumCounterArguments int  `mapstructure:"num_counter_arguments"`
	NumVoters           int  `mapstructure:"num_voters"`
	PassThreshold       int  `mapstructure:"pass_threshold"`
}

// ContextConfig controls per-step context construction.
type ContextConfig struct {
	EnableSummary       bool `mapstructure:"enable_summary"`
	PreserveRecentSteps int  `mapstructure:"preserve_recent_steps"`
}

// FusionConfig controls transcript fusion.
type FusionConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// HTTPConfig tunes the shared backend HTTP client.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxConns       int           `mapstructure:"max_conns"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
}

// CacheConfig controls the optional Redis response cache.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Addr    string        `mapstructure:"addr"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// ServerConfig configures the public API and admin listeners.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AdminPort int    `mapstructure:"admin_port"`
}

// ServiceConfig is metadata reported by the API surface.
type ServiceConfig struct {
	ModelName   string `mapstructure:"model_name"`
	Description string `mapstructure:"description"`
}

// TracingConfig configures optional OTLP export.
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// Config is the root configuration object. It is loaded once at startup and
// injected explicitly into component constructors; there are no package-level
// configuration globals.
type Config struct {
	Service    ServiceConfig          `mapstructure:"service"`
	Server     ServerConfig           `mapstructure:"server"`
	Models     map[string]ModelConfig `mapstructure:"models"`
	Reasoning  ReasoningConfig        `mapstructure:"reasoning"`
	Validation ValidationConfig       `mapstructure:"validation"`
	Context    ContextConfig          `mapstructure:"context"`
	Fusion     FusionConfig           `mapstructure:"fusion"`
	HTTP       HTTPConfig             `mapstructure:"http"`
	Cache      CacheConfig            `mapstructure:"cache"`
	Tracing    TracingConfig          `mapstructure:"tracing"`

	TemplateDir string `mapstructure:"template_dir"`
}

// Default returns a configuration with every knob at its documented default.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			ModelName:   "manifold",
			Description: "Parallel multi-pass reasoning with adversarial validation",
		},
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8000,
			AdminPort: 8081,
		},
		Models: map[string]ModelConfig{},
		Reasoning: ReasoningConfig{
			NumPasses:   3,
			MaxSteps:    20,
			EnableCache: true,
		},
		Validation: ValidationConfig{
			Enabled:             true,
			NumCounterArguments: 3,
			NumVoters:           3,
			PassThreshold:       2,
		},
		Context: ContextConfig{
			EnableSummary:       true,
			PreserveRecentSteps: 2,
		},
		Fusion: FusionConfig{Enabled: true},
		HTTP: HTTPConfig{
			Timeout:        120 * time.Second,
			ConnectTimeout: 10 * time.Second,
			MaxConns:       0, // derived from fan-out when unset
			RetryAttempts:  3,
		},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     time.Hour,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "manifold",
		},
		TemplateDir: "config/prompts",
	}
}

// PeakConcurrency is the number of simultaneous in-flight backend requests
// the connection pool must tolerate: one reasoning call plus one full
// validation round per pass, all overlapping.
func (c *Config) PeakConcurrency() int {
	return c.Reasoning.NumPasses * (1 + c.Validation.NumCounterArguments + c.Validation.NumVoters)
}

// Model returns the model configuration for a role, falling back to the
// reasoner entry so a minimal config with one model still serves every role.
func (c *Config) Model(role Role) (ModelConfig, error) {
	if m, ok := c.Models[string(role)]; ok {
		return m, nil
	}
	if m, ok := c.Models[string(RoleReasoner)]; ok {
		return m, nil
	}
	return ModelConfig{}, fmt.Errorf("no model configured for role %q", role)
}

// Load reads the YAML config at path (env MANIFOLD_CONFIG overrides, then
// the path argument, then ./config/manifold.yaml), applies MANIFOLD_*
// environment overrides and resolves API keys.
func Load(path string) (*Config, error) {
	if env := os.Getenv("MANIFOLD_CONFIG"); env != "" {
		path = env
	}
	if path == "" {
		path = "config/manifold.yaml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MANIFOLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	resolveAPIKeys(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveAPIKeys(cfg *Config) {
	for name, m := range cfg.Models {
		if m.APIKeyEnv != "" {
			m.APIKey = os.Getenv(m.APIKeyEnv)
		}
		cfg.Models[name] = m
	}
}

// Validate rejects configurations the engine cannot honor.
func (c *Config) Validate() error {
	if c.Reasoning.NumPasses < 1 {
		return fmt.Errorf("reasoning.num_passes must be >= 1, got %d", c.Reasoning.NumPasses)
	}
	if c.Reasoning.MaxSteps < 1 {
		return fmt.Errorf("reasoning.max_steps must be >= 1, got %d", c.Reasoning.MaxSteps)
	}
	if c.Validation.NumCounterArguments < 1 {
		return fmt.Errorf("validation.num_counter_arguments must be >= 1, got %d", c.Validation.NumCounterArguments)
	}
	if c.Validation.NumVoters < 1 {
		return fmt.Errorf("validation.num_voters must be >= 1, got %d", c.Validation.NumVoters)
	}
	if c.Validation.PassThreshold < 1 || c.Validation.PassThreshold > c.Validation.NumVoters {
		return fmt.Errorf("validation.pass_threshold must be in [1,%d], got %d",
			c.Validation.NumVoters, c.Validation.PassThreshold)
	}
	if c.Context.PreserveRecentSteps < 0 {
		return fmt.Errorf("context.preserve_recent_steps must be >= 0, got %d", c.Context.PreserveRecentSteps)
	}
	if c.HTTP.RetryAttempts < 1 {
		return fmt.Errorf("http.retry_attempts must be >= 1, got %d", c.HTTP.RetryAttempts)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	if _, ok := c.Models[string(RoleReasoner)]; !ok {
		return fmt.Errorf("models.%s is required", RoleReasoner)
	}
	return nil
}
