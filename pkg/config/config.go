package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/parley/pkg/models"
	"github.com/pario-ai/parley/pkg/pricing"
	"github.com/pario-ai/parley/pkg/retry"
)

// Config holds all parley configuration.
type Config struct {
	Providers []ProviderConfig `yaml:"providers" validate:"dive"`
	// Aliases maps short names to provider IDs.
	Aliases map[string]string `yaml:"aliases"`
	Review  ReviewConfig      `yaml:"review"`
	Cache   CacheConfig       `yaml:"cache"`
	Ledger  LedgerConfig      `yaml:"ledger"`
	Retry   retry.Policy      `yaml:"retry"`
	Budget  BudgetConfig      `yaml:"budget"`
	Pricing PricingConfig     `yaml:"pricing"`
	Log     LogConfig         `yaml:"log"`
	Server  ServerConfig      `yaml:"server"`
}

// ProviderConfig defines one upstream provider.
// Vendor is "openai" (default), "anthropic" or "google".
type ProviderConfig struct {
	ID      string `yaml:"id" validate:"required"`
	Vendor  string `yaml:"vendor" validate:"omitempty,oneof=openai anthropic google gemini"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	// APIKeyEnv names the environment variable read when APIKey is empty.
	APIKeyEnv        string         `yaml:"api_key_env"`
	BaseURL          string         `yaml:"base_url" validate:"omitempty,url"`
	Timeout          time.Duration  `yaml:"timeout" validate:"gte=0"`
	Modes            []models.Focus `yaml:"modes"`
	BillsFailedCalls bool           `yaml:"bills_failed_calls"`
}

// Key returns the API key, falling back to APIKeyEnv.
func (p ProviderConfig) Key() string {
	if p.APIKey != "" {
		return p.APIKey
	}
	if p.APIKeyEnv != "" {
		return os.Getenv(p.APIKeyEnv)
	}
	return ""
}

// ReviewConfig controls request orchestration.
type ReviewConfig struct {
	// Providers is used when a request names none.
	Providers         []string      `yaml:"providers"`
	// PlanProviders is used by planning requests that name none. Empty
	// falls back to Providers.
	PlanProviders     []string      `yaml:"plan_providers"`
	Deadline          time.Duration `yaml:"deadline" validate:"gt=0"`
	CallTimeout       time.Duration `yaml:"call_timeout" validate:"gt=0"`
	CostWarnThreshold float64       `yaml:"cost_warn_threshold" validate:"gte=0"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir"`
	TTL     time.Duration `yaml:"ttl" validate:"gt=0"`
}

// LedgerConfig controls the usage ledger.
type LedgerConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// BudgetConfig controls budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies" validate:"dive"`
}

// PricingConfig extends the built-in price table.
type PricingConfig struct {
	// File is an optional YAML file of overrides.
	File   string                `yaml:"file"`
	Prices []models.ModelPricing `yaml:"prices"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Listen         string        `yaml:"listen" validate:"required"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// AliasMap returns the configured aliases plus each vendor name mapped to the
// first provider of that vendor, unless configured otherwise.
func (c *Config) AliasMap() map[string]string {
	out := make(map[string]string, len(c.Aliases)+3)
	for _, p := range c.Providers {
		vendor := p.Vendor
		switch vendor {
		case "":
			vendor = "openai"
		case "gemini":
			vendor = "google"
		}
		if _, ok := out[vendor]; !ok && vendor != p.ID {
			out[vendor] = p.ID
		}
	}
	for k, v := range c.Aliases {
		out[k] = v
	}
	return out
}

// Dir returns parley's configuration directory, honouring XDG_CONFIG_HOME.
func Dir() string {
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return filepath.Join(d, "parley")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	return filepath.Join(home, ".config", "parley")
}

// DefaultPath is where Load looks when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func dataDir() string {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "parley")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	return filepath.Join(home, ".local", "share", "parley")
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{ID: "gpt", Vendor: "openai", Model: "gpt-5.2-chat-latest", APIKeyEnv: "OPENAI_API_KEY"},
			{ID: "gemini", Vendor: "google", Model: "gemini-3-flash-preview", APIKeyEnv: "GOOGLE_AI_API_KEY"},
			{ID: "claude", Vendor: "anthropic", Model: "claude-sonnet-4-5-20250929", APIKeyEnv: "ANTHROPIC_API_KEY"},
		},
		Review: ReviewConfig{
			Providers:         []string{"gpt", "gemini"},
			Deadline:          3 * time.Minute,
			CallTimeout:       2 * time.Minute,
			CostWarnThreshold: pricing.DefaultWarnThreshold,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     24 * time.Hour,
		},
		Ledger: LedgerConfig{
			Path: filepath.Join(dataDir(), "usage.db"),
		},
		Retry: retry.DefaultPolicy(),
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Listen:         "127.0.0.1:8787",
			RequestTimeout: 4 * time.Minute,
		},
	}
}

// Load reads a YAML config file and expands environment variables. An
// empty path reads DefaultPath, and a missing default file yields Default().
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// ValidationError lists every invalid field of a config.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return "invalid config: " + strings.Join(msgs, "; ")
}

// Validate checks field constraints and cross references between sections.
func (c *Config) Validate() error {
	fields := make(map[string]string)
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			fields[fe.Namespace()] = describe(fe)
		}
	}

	ids := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if ids[p.ID] {
			fields[fmt.Sprintf("Config.Providers[%d].ID", i)] = fmt.Sprintf("duplicate provider id %q", p.ID)
		}
		ids[p.ID] = true
		for _, m := range p.Modes {
			if !m.Valid() {
				fields[fmt.Sprintf("Config.Providers[%d].Modes", i)] = fmt.Sprintf("unknown mode %q", m)
			}
		}
	}
	for alias, target := range c.Aliases {
		if !ids[target] {
			fields["Config.Aliases."+alias] = fmt.Sprintf("alias %q points at unknown provider %q", alias, target)
		}
	}
	aliases := c.AliasMap()
	for _, name := range c.Review.Providers {
		if !ids[name] && aliases[name] == "" && name != "all" {
			fields["Config.Review.Providers"] = fmt.Sprintf("default provider %q is not configured", name)
		}
	}
	for _, name := range c.Review.PlanProviders {
		if !ids[name] && aliases[name] == "" && name != "all" {
			fields["Config.Review.PlanProviders"] = fmt.Sprintf("plan provider %q is not configured", name)
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed on '%s'", field, fe.Tag())
	}
}
