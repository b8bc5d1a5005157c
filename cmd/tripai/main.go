// Package main is the entry point for the tripai CLI.
// tripai turns a trip request into a day-by-day plan through a short
// conversation, then books the approved plan in a calendar.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hiroaki404/trip-ai/internal/config"
	"github.com/hiroaki404/trip-ai/internal/logging"
)

var (
	version   = "0.1.0"
	cfgPath   string
	verbose   bool
	logCloser io.Closer
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tripai",
		Short: "tripai - conversational trip planner",
		Long: `tripai asks a few questions about your trip, researches and drafts an itinerary,
lets you revise it, and adds the approved trip to your calendar.

Plan a trip:        tripai plan "day trip to Kamakura from Tokyo"
Serve the web UI:   tripai serve
Past runs:          tripai history list`,
		SilenceUsage:       true,
		PersistentPreRunE:  initLogging,
		PersistentPostRunE: closeLogging,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.tripai/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: skipConfig,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tripai v%s\n", version)
		},
	})

	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

// skipConfig marks commands that must run without loading (and thereby
// creating) the config file.
var skipConfig = map[string]string{"skip_config": "true"}

func initLogging(cmd *cobra.Command, args []string) error {
	loadEnvFiles()

	logCfg := &logging.Config{Level: "warn"}
	if cmd.Annotations["skip_config"] == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logCfg.Level = cfg.Logging.Level
		logCfg.FilePath = cfg.Logging.File
	}
	if verbose {
		logCfg.Level = "debug"
		logCfg.Console = true
	}

	var err error
	logCloser, err = logging.Setup(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: file logging disabled: %v\n", err)
		logCfg.FilePath = ""
		logCloser, _ = logging.Setup(logCfg)
	}

	log.Debug().Str("config", configPath()).Str("command", cmd.Name()).Msg("tripai started")
	return nil
}

func closeLogging(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// loadEnvFiles loads API keys from ./.env and ~/.tripai/.env. Variables
// already set in the environment win.
func loadEnvFiles() {
	for _, path := range []string{".env", filepath.Join(config.DataDir(), ".env")} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot read %s: %v\n", path, err)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

var loadedConfig *config.Config

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultPath()
}

func loadConfig() (*config.Config, error) {
	if loadedConfig != nil {
		return loadedConfig, nil
	}
	cfg, err := config.LoadFromPath(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	loadedConfig = cfg
	return cfg, nil
}
