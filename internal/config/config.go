package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/storyforge/internal/assembly"
	"github.com/vampirenirmal/storyforge/internal/provider"
	"github.com/vampirenirmal/storyforge/internal/quality"
	"github.com/vampirenirmal/storyforge/internal/tokens"
)

type Config struct {
	Providers  []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
	Quality    QualityConfig    `yaml:"quality"`
	Generation GenerationConfig `yaml:"generation"`
	Output     OutputConfig     `yaml:"output"`
}

// ProviderConfig describes one upstream generation API in failover order.
type ProviderConfig struct {
	Name              string                `yaml:"name" validate:"required"`
	APIKey            string                `yaml:"api_key"`
	APIKeyEnv         string                `yaml:"api_key_env"`
	BaseURL           string                `yaml:"base_url" validate:"required,url"`
	TimeoutSeconds    int                   `yaml:"timeout" validate:"omitempty,min=10,max=3600"`
	RequestsPerMinute int                   `yaml:"requests_per_minute" validate:"omitempty,min=1,max=1000"`
	Burst             int                   `yaml:"burst" validate:"omitempty,min=1,max=100"`
	Tiers             map[string]TierConfig `yaml:"tiers"`
}

// TierConfig overrides the model and pricing bound to one capability tier.
type TierConfig struct {
	Model        string  `yaml:"model" validate:"required"`
	InCostPer1K  float64 `yaml:"in_cost_per_1k"`
	OutCostPer1K float64 `yaml:"out_cost_per_1k"`
}

type QualityConfig struct {
	Weights         map[string]float64 `yaml:"weights"`
	AcceptThreshold float64            `yaml:"accept_threshold"`
	RepairThreshold float64            `yaml:"repair_threshold"`
	StructuralFloor float64            `yaml:"structural_floor"`
	PatternCapScore float64            `yaml:"pattern_cap_score"`
}

type GenerationConfig struct {
	Language         string  `yaml:"language"`
	MaxContextTokens int     `yaml:"max_context_tokens" validate:"omitempty,min=500"`
	MaxFacts         int     `yaml:"max_facts" validate:"omitempty,min=1"`
	BudgetUSD        float64 `yaml:"budget_usd"`
	Concurrency      int     `yaml:"concurrency" validate:"omitempty,min=1,max=32"`
}

type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads the config file, applies .env and environment overrides, fills
// defaults and validates. An empty path falls back to STORYFORGE_CONFIG, then
// the XDG location. A missing file yields pure defaults so a fresh install
// can run against environment variables alone.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = resolvePath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.resolveKeys(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolvePath() string {
	if path := os.Getenv("STORYFORGE_CONFIG"); path != "" {
		return path
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "storyforge", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "storyforge", "config.yaml")
}

// Default is the runnable baseline: one Anthropic-shaped provider keyed from
// the environment, default gate thresholds, default context budgets.
func Default() Config {
	return Config{
		Providers: []ProviderConfig{{
			Name:              "primary",
			APIKeyEnv:         "STORYFORGE_API_KEY",
			BaseURL:           "https://api.anthropic.com",
			TimeoutSeconds:    300,
			RequestsPerMinute: 30,
			Burst:             10,
		}},
	}
}

func (c *Config) applyDefaults() {
	gate := quality.DefaultConfig()
	if c.Quality.Weights == nil {
		c.Quality.Weights = gate.Weights
	}
	if c.Quality.AcceptThreshold == 0 {
		c.Quality.AcceptThreshold = gate.AcceptThreshold
	}
	if c.Quality.RepairThreshold == 0 {
		c.Quality.RepairThreshold = gate.RepairThreshold
	}
	if c.Quality.StructuralFloor == 0 {
		c.Quality.StructuralFloor = gate.StructuralFloor
	}
	if c.Quality.PatternCapScore == 0 {
		c.Quality.PatternCapScore = gate.PatternCapScore
	}

	budgets := assembly.DefaultBudgets()
	if c.Generation.MaxContextTokens == 0 {
		c.Generation.MaxContextTokens = budgets.MaxContextTokens
	}
	if c.Generation.MaxFacts == 0 {
		c.Generation.MaxFacts = budgets.MaxFacts
	}
	if c.Generation.Language == "" {
		c.Generation.Language = "en"
	}
	if c.Generation.Concurrency == 0 {
		c.Generation.Concurrency = 1
	}

	if c.Output.Dir == "" {
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			c.Output.Dir = filepath.Join(xdg, "storyforge", "output")
		} else {
			home, _ := os.UserHomeDir()
			c.Output.Dir = filepath.Join(home, ".local", "share", "storyforge", "output")
		}
	} else {
		c.Output.Dir = expandTilde(c.Output.Dir)
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.TimeoutSeconds == 0 {
			p.TimeoutSeconds = 300
		}
		if p.RequestsPerMinute == 0 {
			p.RequestsPerMinute = 30
		}
		if p.Burst == 0 {
			p.Burst = 10
		}
	}
}

// resolveKeys fills each provider's API key from the environment when the
// file carries a placeholder or names an env var. Keys never round-trip
// through saved config.
func (c *Config) resolveKeys() error {
	for i := range c.Providers {
		p := &c.Providers[i]
		if strings.HasPrefix(p.APIKey, "${") && strings.HasSuffix(p.APIKey, "}") {
			p.APIKeyEnv = strings.TrimSuffix(strings.TrimPrefix(p.APIKey, "${"), "}")
			p.APIKey = ""
		}
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
		}
		if p.APIKey == "" {
			return fmt.Errorf("provider %s: no API key in config or $%s", p.Name, p.APIKeyEnv)
		}
	}
	return nil
}

// Validate checks structure with the validator and semantics that tags cannot
// express, like gate weights summing to one.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if err := c.GateConfig().Valid(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	for _, p := range c.Providers {
		for tier := range p.Tiers {
			if _, err := parseTier(tier); err != nil {
				return fmt.Errorf("provider %s: %w", p.Name, err)
			}
		}
	}
	return nil
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func parseTier(name string) (provider.Tier, error) {
	switch name {
	case "standard":
		return provider.TierStandard, nil
	case "enhanced":
		return provider.TierEnhanced, nil
	case "maximum":
		return provider.TierMaximum, nil
	default:
		return 0, fmt.Errorf("unknown tier %q", name)
	}
}

// GateConfig converts the quality section into the gate's config.
func (c *Config) GateConfig() quality.Config {
	gate := quality.DefaultConfig()
	gate.Weights = c.Quality.Weights
	gate.AcceptThreshold = c.Quality.AcceptThreshold
	gate.RepairThreshold = c.Quality.RepairThreshold
	gate.StructuralFloor = c.Quality.StructuralFloor
	gate.PatternCapScore = c.Quality.PatternCapScore
	return gate
}

// AssemblyBudgets converts the generation section into context budgets.
func (c *Config) AssemblyBudgets() assembly.Budgets {
	budgets := assembly.DefaultBudgets()
	budgets.MaxContextTokens = c.Generation.MaxContextTokens
	budgets.MaxFacts = c.Generation.MaxFacts
	return budgets
}

// TokenProfile converts the generation section into an estimator profile.
func (c *Config) TokenProfile() tokens.ModelProfile {
	return tokens.ModelProfile{Language: c.Generation.Language}
}

// BuildProviders constructs the failover chain in config order.
func (c *Config) BuildProviders() ([]provider.Provider, error) {
	providers := make([]provider.Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		opts := []provider.Option{
			provider.WithTimeout(time.Duration(p.TimeoutSeconds) * time.Second),
			provider.WithRateLimit(p.RequestsPerMinute, p.Burst),
		}
		if len(p.Tiers) > 0 {
			tiers := make(map[provider.Tier]provider.TierPricing, len(p.Tiers))
			for name, tc := range p.Tiers {
				tier, err := parseTier(name)
				if err != nil {
					return nil, fmt.Errorf("provider %s: %w", p.Name, err)
				}
				tiers[tier] = provider.TierPricing{
					Model:        tc.Model,
					InCostPer1K:  tc.InCostPer1K,
					OutCostPer1K: tc.OutCostPer1K,
				}
			}
			opts = append(opts, provider.WithTiers(tiers))
		}
		providers = append(providers, provider.NewClient(p.Name, p.APIKey, p.BaseURL, opts...))
	}
	return providers, nil
}
