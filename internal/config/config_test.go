package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LLM.DefaultProvider != "openai" {
		t.Errorf("expected default provider 'openai', got '%s'", cfg.LLM.DefaultProvider)
	}

	if cfg.Budget.Search != 2 || cfg.Budget.Scrape != 2 || cfg.Budget.Directions != 10 || cfg.Budget.Calendar != 1 {
		t.Errorf("unexpected default budget: %+v", cfg.Budget)
	}

	if cfg.Planning.MaxRevisions != 3 {
		t.Errorf("expected max_revisions 3, got %d", cfg.Planning.MaxRevisions)
	}

	if cfg.Planning.RepairRetries != 2 {
		t.Errorf("expected repair_retries 2, got %d", cfg.Planning.RepairRetries)
	}

	if cfg.Tools.Scrape.UserAgent != "Mozilla/5.0 (compatible; WebSearchBot/1.0)" {
		t.Errorf("unexpected scrape user agent %q", cfg.Tools.Scrape.UserAgent)
	}

	if !strings.HasSuffix(cfg.Storage.RoutesPath, "lines.json") {
		t.Errorf("unexpected routes path %q", cfg.Storage.RoutesPath)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, ".tripai", "config.yaml")

	// Load config (should create default)
	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	if cfg.LLM.DefaultProvider != "openai" {
		t.Errorf("expected default provider 'openai', got '%s'", cfg.LLM.DefaultProvider)
	}

	// Load again to test reading existing file
	cfg2, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load existing config: %v", err)
	}

	if cfg2.Planning.MinDate != cfg.Planning.MinDate {
		t.Error("config values changed on reload")
	}
}

func TestLoadFromPath_ReadsFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  default_provider: gemini
  providers:
    gemini:
      model: gemini-2.5-pro
budget:
  search: 4
planning:
  max_revisions: 1
  approval: model
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.LLM.DefaultProvider != "gemini" {
		t.Errorf("expected gemini, got %s", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Providers["gemini"].Model != "gemini-2.5-pro" {
		t.Errorf("expected gemini-2.5-pro, got %s", cfg.LLM.Providers["gemini"].Model)
	}
	if cfg.Budget.Search != 4 {
		t.Errorf("expected search budget 4, got %d", cfg.Budget.Search)
	}
	if cfg.Planning.MaxRevisions != 1 {
		t.Errorf("expected max_revisions 1, got %d", cfg.Planning.MaxRevisions)
	}
	if cfg.Planning.Approval != "model" {
		t.Errorf("expected approval model, got %s", cfg.Planning.Approval)
	}
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	t.Setenv("TRIPAI_PLANNING_MAX_REVISIONS", "7")
	t.Setenv("MAPBOX_ACCESS_TOKEN", "pk.test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SEARCH_ENGINE_ID", "cx-test")

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Planning.MaxRevisions != 7 {
		t.Errorf("expected env override 7, got %d", cfg.Planning.MaxRevisions)
	}
	if cfg.Tools.Directions.AccessToken != "pk.test" {
		t.Errorf("expected mapbox token from env, got %q", cfg.Tools.Directions.AccessToken)
	}
	if cfg.LLM.Providers["openai"].APIKey != "sk-test" {
		t.Errorf("expected openai key from env, got %q", cfg.LLM.Providers["openai"].APIKey)
	}
	if cfg.Tools.Search.EngineID != "cx-test" {
		t.Errorf("expected engine id from env, got %q", cfg.Tools.Search.EngineID)
	}
}

func TestSaveToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	cfg := Default()
	cfg.Budget.Directions = 3
	if err := cfg.SaveToPath(path); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Budget.Directions != 3 {
		t.Errorf("expected directions budget 3, got %d", loaded.Budget.Directions)
	}
}

func TestMinDate(t *testing.T) {
	cfg := Default()
	d, err := cfg.MinDate()
	if err != nil {
		t.Fatal(err)
	}
	if d.Format("2006-01-02") != "2025-10-01" {
		t.Errorf("unexpected min date %s", d)
	}

	cfg.Planning.MinDate = ""
	d, err = cfg.MinDate()
	if err != nil || !d.IsZero() {
		t.Errorf("empty min date should be zero, got %v %v", d, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"empty provider", func(c *Config) { c.LLM.DefaultProvider = "" }, "default_provider"},
		{"unknown provider", func(c *Config) { c.LLM.DefaultProvider = "nope" }, "not found"},
		{"unknown fixing provider", func(c *Config) { c.LLM.FixingProvider = "nope" }, "fixing provider"},
		{"negative budget", func(c *Config) { c.Budget.Scrape = -1 }, "budget.scrape"},
		{"negative revisions", func(c *Config) { c.Planning.MaxRevisions = -1 }, "max_revisions"},
		{"negative retries", func(c *Config) { c.Planning.RepairRetries = -1 }, "repair_retries"},
		{"bad min date", func(c *Config) { c.Planning.MinDate = "October" }, "min_date"},
		{"bad approval", func(c *Config) { c.Planning.Approval = "vibes" }, "approval"},
		{"bad variant", func(c *Config) { c.Planning.SchemaVariant = "both" }, "schema_variant"},
		{"bad backend", func(c *Config) { c.Tools.Calendar.Backend = "google" }, "backend"},
		{"bad timezone", func(c *Config) { c.Tools.Calendar.DefaultTimezone = "Mars/Olympus" }, "default_timezone"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := expandPath("~/x/y"); got != filepath.Join(home, "x/y") {
		t.Errorf("unexpected expansion %q", got)
	}
	if got := expandPath("/abs"); got != "/abs" {
		t.Errorf("absolute path changed: %q", got)
	}
}
