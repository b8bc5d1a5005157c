package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the trip planner.
// It is loaded from ~/.tripai/config.yaml and can be overridden by environment variables.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Tools    ToolsConfig    `mapstructure:"tools" yaml:"tools"`
	Budget   BudgetConfig   `mapstructure:"budget" yaml:"budget"`
	Planning PlanningConfig `mapstructure:"planning" yaml:"planning"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig contains configuration for Language Model providers.
type LLMConfig struct {
	// DefaultProvider drives the clarify and plan conversations ("openai", "openrouter", "gemini", "ollama")
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// FixingProvider repairs malformed structured output; empty reuses DefaultProvider
	FixingProvider string `mapstructure:"fixing_provider" yaml:"fixing_provider"`
	// FixingModel overrides the fixing provider's model
	FixingModel string `mapstructure:"fixing_model" yaml:"fixing_model"`
	// Providers maps provider names to their specific configuration
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

// ProviderConfig contains configuration for a specific LLM provider.
type ProviderConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	Model       string  `mapstructure:"model" yaml:"model,omitempty"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty"`
	TimeoutSec  int     `mapstructure:"timeout_sec" yaml:"timeout_sec,omitempty"`
}

// ToolsConfig groups the external tool adapters.
type ToolsConfig struct {
	Search     SearchConfig     `mapstructure:"search" yaml:"search"`
	Scrape     ScrapeConfig     `mapstructure:"scrape" yaml:"scrape"`
	Directions DirectionsConfig `mapstructure:"directions" yaml:"directions"`
	Calendar   CalendarConfig   `mapstructure:"calendar" yaml:"calendar"`
}

// SearchConfig configures Google Custom Search.
type SearchConfig struct {
	APIKey      string `mapstructure:"api_key" yaml:"api_key"`
	EngineID    string `mapstructure:"engine_id" yaml:"engine_id"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	CacheTTLSec int    `mapstructure:"cache_ttl_sec" yaml:"cache_ttl_sec"`
	TimeoutSec  int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// ScrapeConfig configures page fetching.
type ScrapeConfig struct {
	UserAgent     string `mapstructure:"user_agent" yaml:"user_agent"`
	MaxBodyChars  int    `mapstructure:"max_body_chars" yaml:"max_body_chars"`
	MaxFetchBytes int64  `mapstructure:"max_fetch_bytes" yaml:"max_fetch_bytes"`
	TimeoutSec    int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// DirectionsConfig configures the Mapbox Directions API.
type DirectionsConfig struct {
	AccessToken  string `mapstructure:"access_token" yaml:"access_token"`
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint"`
	Profile      string `mapstructure:"profile" yaml:"profile"`
	Geometries   string `mapstructure:"geometries" yaml:"geometries"`
	Language     string `mapstructure:"language" yaml:"language"`
	Overview     string `mapstructure:"overview" yaml:"overview"`
	Alternatives bool   `mapstructure:"alternatives" yaml:"alternatives"`
	Steps        bool   `mapstructure:"steps" yaml:"steps"`
	TimeoutSec   int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// CalendarConfig configures event booking.
type CalendarConfig struct {
	// Backend is "ics" (append to an .ics file) or "none"
	Backend string `mapstructure:"backend" yaml:"backend"`
	// ICSPath is the calendar file for the ics backend
	ICSPath string `mapstructure:"ics_path" yaml:"ics_path"`
	// DefaultTimezone is used when the trip location cannot be resolved
	DefaultTimezone string `mapstructure:"default_timezone" yaml:"default_timezone"`
}

// BudgetConfig holds per-session tool call ceilings.
type BudgetConfig struct {
	Search     int `mapstructure:"search" yaml:"search"`
	Scrape     int `mapstructure:"scrape" yaml:"scrape"`
	Directions int `mapstructure:"directions" yaml:"directions"`
	Calendar   int `mapstructure:"calendar" yaml:"calendar"`
}

// PlanningConfig controls the planning pipeline.
type PlanningConfig struct {
	// MinDate is the earliest trip date accepted (YYYY-MM-DD)
	MinDate string `mapstructure:"min_date" yaml:"min_date"`
	// MaxRevisions bounds the feedback → re-plan cycle
	MaxRevisions int `mapstructure:"max_revisions" yaml:"max_revisions"`
	// RepairRetries bounds model-assisted repair of structured output
	RepairRetries int `mapstructure:"repair_retries" yaml:"repair_retries"`
	// ClarifyMaxSteps and PlanMaxSteps bound each sub-conversation
	ClarifyMaxSteps int `mapstructure:"clarify_max_steps" yaml:"clarify_max_steps"`
	PlanMaxSteps    int `mapstructure:"plan_max_steps" yaml:"plan_max_steps"`
	// MaxActivitiesPerDay is enforced on extracted plans (0 disables)
	MaxActivitiesPerDay int `mapstructure:"max_activities_per_day" yaml:"max_activities_per_day"`
	// Approval is "markers" or "model"
	Approval string `mapstructure:"approval" yaml:"approval"`
	// VerifyRoutes requires every routeId to exist in the route store
	VerifyRoutes bool `mapstructure:"verify_routes" yaml:"verify_routes"`
	// SchemaVariant is "route_ref" or "inline"
	SchemaVariant string `mapstructure:"schema_variant" yaml:"schema_variant"`
}

// StorageConfig locates persisted state.
type StorageConfig struct {
	RoutesPath  string `mapstructure:"routes_path" yaml:"routes_path"`
	HistoryPath string `mapstructure:"history_path" yaml:"history_path"`
}

// ServerConfig configures `tripai serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	dataDir := DataDir()

	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "openai",
			Providers: map[string]ProviderConfig{
				"openai": {
					Model: "gpt-4o",
				},
				"openrouter": {
					Endpoint: "https://openrouter.ai/api/v1",
					Model:    "openai/gpt-4o",
				},
				"gemini": {
					Model: "gemini-2.5-flash",
				},
				"ollama": {
					Endpoint: "http://127.0.0.1:11434/v1",
					Model:    "llama3.1",
				},
			},
		},
		Tools: ToolsConfig{
			Search: SearchConfig{
				Endpoint:    "https://www.googleapis.com/customsearch/v1",
				CacheTTLSec: 600,
				TimeoutSec:  30,
			},
			Scrape: ScrapeConfig{
				UserAgent:     "Mozilla/5.0 (compatible; WebSearchBot/1.0)",
				MaxBodyChars:  20000,
				MaxFetchBytes: 2 << 20,
				TimeoutSec:    30,
			},
			Directions: DirectionsConfig{
				Endpoint:     "https://api.mapbox.com",
				Profile:      "driving",
				Geometries:   "geojson",
				Language:     "en",
				Overview:     "simplified",
				Alternatives: true,
				Steps:        true,
				TimeoutSec:   30,
			},
			Calendar: CalendarConfig{
				Backend:         "ics",
				ICSPath:         filepath.Join(dataDir, "trips.ics"),
				DefaultTimezone: "Asia/Tokyo",
			},
		},
		Budget: BudgetConfig{
			Search:     2,
			Scrape:     2,
			Directions: 10,
			Calendar:   1,
		},
		Planning: PlanningConfig{
			MinDate:             "2025-10-01",
			MaxRevisions:        3,
			RepairRetries:       2,
			ClarifyMaxSteps:     8,
			PlanMaxSteps:        24,
			MaxActivitiesPerDay: 5,
			Approval:            "markers",
			VerifyRoutes:        true,
			SchemaVariant:       "route_ref",
		},
		Storage: StorageConfig{
			RoutesPath:  filepath.Join(dataDir, "lines.json"),
			HistoryPath: filepath.Join(dataDir, "history.db"),
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "tripai.log"),
		},
	}
}

// DataDir returns the trip planner data directory (~/.tripai).
func DataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tripai")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Load reads configuration from the default location (~/.tripai/config.yaml)
// and merges with environment variables. If no config file exists, it creates
// one with default values.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath())
}

// envBindings maps config keys to the conventional variable names of each service.
var envBindings = map[string]string{
	"llm.providers.openai.api_key":     "OPENAI_API_KEY",
	"llm.providers.openrouter.api_key": "OPEN_ROUTER_API_KEY",
	"llm.providers.gemini.api_key":     "GEMINI_API_KEY",
	"tools.search.api_key":             "CUSTOM_SEARCH_API_KEY",
	"tools.search.engine_id":           "SEARCH_ENGINE_ID",
	"tools.directions.access_token":    "MAPBOX_ACCESS_TOKEN",
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: TRIPAI_PLANNING_MAX_REVISIONS=5
	v.SetEnvPrefix("TRIPAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		prefixed := "TRIPAI_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Tools.Calendar.ICSPath = expandPath(cfg.Tools.Calendar.ICSPath)
	cfg.Storage.RoutesPath = expandPath(cfg.Storage.RoutesPath)
	cfg.Storage.HistoryPath = expandPath(cfg.Storage.HistoryPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// MinDate parses Planning.MinDate. An empty value yields the zero time.
func (c *Config) MinDate() (time.Time, error) {
	if c.Planning.MinDate == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", c.Planning.MinDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid planning.min_date %q: %w", c.Planning.MinDate, err)
	}
	return t, nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.LLM.DefaultProvider == "" {
		return fmt.Errorf("llm.default_provider cannot be empty")
	}
	if _, exists := c.LLM.Providers[c.LLM.DefaultProvider]; !exists {
		return fmt.Errorf("default provider '%s' not found in providers map", c.LLM.DefaultProvider)
	}
	if p := c.LLM.FixingProvider; p != "" {
		if _, exists := c.LLM.Providers[p]; !exists {
			return fmt.Errorf("fixing provider '%s' not found in providers map", p)
		}
	}

	for name, n := range map[string]int{
		"budget.search":     c.Budget.Search,
		"budget.scrape":     c.Budget.Scrape,
		"budget.directions": c.Budget.Directions,
		"budget.calendar":   c.Budget.Calendar,
	} {
		if n < 0 {
			return fmt.Errorf("%s cannot be negative", name)
		}
	}

	if c.Planning.MaxRevisions < 0 {
		return fmt.Errorf("planning.max_revisions cannot be negative")
	}
	if c.Planning.RepairRetries < 0 {
		return fmt.Errorf("planning.repair_retries cannot be negative")
	}
	if _, err := c.MinDate(); err != nil {
		return err
	}
	if c.Planning.Approval != "markers" && c.Planning.Approval != "model" {
		return fmt.Errorf("invalid planning.approval '%s', must be 'markers' or 'model'", c.Planning.Approval)
	}
	if c.Planning.SchemaVariant != "route_ref" && c.Planning.SchemaVariant != "inline" {
		return fmt.Errorf("invalid planning.schema_variant '%s', must be 'route_ref' or 'inline'", c.Planning.SchemaVariant)
	}

	if b := c.Tools.Calendar.Backend; b != "ics" && b != "none" {
		return fmt.Errorf("invalid tools.calendar.backend '%s', must be 'ics' or 'none'", b)
	}
	if c.Tools.Calendar.DefaultTimezone != "" {
		if _, err := time.LoadLocation(c.Tools.Calendar.DefaultTimezone); err != nil {
			return fmt.Errorf("invalid tools.calendar.default_timezone: %w", err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
