package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("STORYFORGE_API_KEY", "test-key-0123456789")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "test-key-0123456789" {
		t.Errorf("default provider not keyed from env: %+v", cfg.Providers)
	}
	if cfg.Quality.AcceptThreshold != 85 || cfg.Quality.RepairThreshold != 70 {
		t.Errorf("default thresholds = %f/%f", cfg.Quality.AcceptThreshold, cfg.Quality.RepairThreshold)
	}
	if cfg.Generation.MaxContextTokens == 0 || cfg.Generation.MaxFacts == 0 {
		t.Error("generation defaults not applied")
	}
	if cfg.Output.Dir == "" {
		t.Error("output dir default not applied")
	}
}

func TestLoadFileWithEnvPlaceholder(t *testing.T) {
	t.Setenv("MY_PROVIDER_KEY", "placeholder-key-0123456789")

	path := writeConfig(t, `
providers:
  - name: primary
    api_key: ${MY_PROVIDER_KEY}
    base_url: https://api.anthropic.com
  - name: backup
    api_key_env: MY_PROVIDER_KEY
    base_url: https://api.openai.com/v1
    requests_per_minute: 60
generation:
  language: pl
  budget_usd: 12.5
  concurrency: 3
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Providers[0].APIKey != "placeholder-key-0123456789" {
		t.Error("placeholder key not resolved from env")
	}
	if cfg.Providers[1].APIKey != "placeholder-key-0123456789" {
		t.Error("api_key_env not resolved")
	}
	if cfg.Providers[1].RequestsPerMinute != 60 {
		t.Errorf("rpm = %d, want 60", cfg.Providers[1].RequestsPerMinute)
	}
	if cfg.Providers[0].TimeoutSeconds != 300 {
		t.Errorf("timeout default = %d, want 300", cfg.Providers[0].TimeoutSeconds)
	}
	if cfg.Generation.Language != "pl" || cfg.Generation.BudgetUSD != 12.5 || cfg.Generation.Concurrency != 3 {
		t.Errorf("generation section = %+v", cfg.Generation)
	}
}

func TestLoadMissingKeyFails(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: primary
    api_key_env: DEFINITELY_NOT_SET_KEY
    base_url: https://api.anthropic.com
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "no API key") {
		t.Errorf("error = %v, want missing key failure", err)
	}
}

func TestLoadRejectsBadWeights(t *testing.T) {
	t.Setenv("STORYFORGE_API_KEY", "test-key-0123456789")

	path := writeConfig(t, `
providers:
  - name: primary
    api_key_env: STORYFORGE_API_KEY
    base_url: https://api.anthropic.com
quality:
  weights:
    structural: 0.5
    continuity: 0.2
    style: 0.2
    dialogue: 0.2
    engagement: 0.2
`)

	if _, err := Load(path); err == nil {
		t.Error("weights summing to 1.3 must fail validation")
	}
}

func TestLoadRejectsUnknownTier(t *testing.T) {
	t.Setenv("STORYFORGE_API_KEY", "test-key-0123456789")

	path := writeConfig(t, `
providers:
  - name: primary
    api_key_env: STORYFORGE_API_KEY
    base_url: https://api.anthropic.com
    tiers:
      turbo:
        model: some-model
`)

	if _, err := Load(path); err == nil {
		t.Error("unknown tier name must fail validation")
	}
}

func TestLoadRejectsBadURL(t *testing.T) {
	t.Setenv("STORYFORGE_API_KEY", "test-key-0123456789")

	path := writeConfig(t, `
providers:
  - name: primary
    api_key_env: STORYFORGE_API_KEY
    base_url: not-a-url
`)

	if _, err := Load(path); err == nil {
		t.Error("invalid base_url must fail validation")
	}
}

func TestConversions(t *testing.T) {
	t.Setenv("STORYFORGE_API_KEY", "test-key-0123456789")

	path := writeConfig(t, `
providers:
  - name: primary
    api_key_env: STORYFORGE_API_KEY
    base_url: https://api.anthropic.com
quality:
  accept_threshold: 90
  repair_threshold: 75
generation:
  language: ru
  max_context_tokens: 3000
  max_facts: 15
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	gate := cfg.GateConfig()
	if gate.AcceptThreshold != 90 || gate.RepairThreshold != 75 {
		t.Errorf("gate thresholds = %f/%f", gate.AcceptThreshold, gate.RepairThreshold)
	}

	budgets := cfg.AssemblyBudgets()
	if budgets.MaxContextTokens != 3000 || budgets.MaxFacts != 15 {
		t.Errorf("budgets = %+v", budgets)
	}

	if cfg.TokenProfile().Language != "ru" {
		t.Errorf("token profile language = %s", cfg.TokenProfile().Language)
	}
}

func TestBuildProviders(t *testing.T) {
	t.Setenv("STORYFORGE_API_KEY", "test-key-0123456789")

	path := writeConfig(t, `
providers:
  - name: primary
    api_key_env: STORYFORGE_API_KEY
    base_url: https://api.anthropic.com
    tiers:
      standard:
        model: custom-small
        in_cost_per_1k: 0.001
        out_cost_per_1k: 0.002
  - name: backup
    api_key_env: STORYFORGE_API_KEY
    base_url: https://api.openai.com/v1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	providers, err := cfg.BuildProviders()
	if err != nil {
		t.Fatalf("BuildProviders() error: %v", err)
	}
	if len(providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(providers))
	}
	if providers[0].Name() != "primary" || providers[1].Name() != "backup" {
		t.Errorf("failover order = %s, %s", providers[0].Name(), providers[1].Name())
	}
}
