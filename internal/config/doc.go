// Package config provides configuration management for the trip planner.
//
// # Overview
//
// The config package uses Viper to load configuration from YAML files and
// environment variables. The file lives at ~/.tripai/config.yaml and is
// created with defaults on first use.
//
// # Environment Variables
//
// All configuration values can be overridden using environment variables
// with the TRIPAI_ prefix. Nested fields are separated by underscores.
//
// Examples:
//   - TRIPAI_LLM_DEFAULT_PROVIDER=gemini
//   - TRIPAI_PLANNING_MAX_REVISIONS=5
//   - TRIPAI_BUDGET_DIRECTIONS=6
//
// Service credentials are also read from their conventional names:
// OPENAI_API_KEY, OPEN_ROUTER_API_KEY, GEMINI_API_KEY, CUSTOM_SEARCH_API_KEY,
// SEARCH_ENGINE_ID and MAPBOX_ACCESS_TOKEN. The CLI loads a .env file from
// the working directory before reading configuration.
//
// # Configuration Sections
//
//   - LLM: planning and fixing model providers
//   - Tools: search, scrape, directions and calendar adapters
//   - Budget: per-session tool call ceilings
//   - Planning: revision cap, repair retries, validation rules
//   - Storage: route store and run history locations
//   - Server: websocket server address
//   - Logging: log level and output file
package config
