package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hiroaki404/trip-ai/internal/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(masked(cfg))
			if err != nil {
				return err
			}
			fmt.Println(titleStyle.Render("tripai configuration") + "  " + dimStyle.Render(configPath()))
			fmt.Print(string(out))
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a config file with default values",
		Annotations: skipConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := config.Default().SaveToPath(path); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration file path",
		Annotations: skipConfig,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(configPath())
		},
	})

	return cmd
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}

// masked returns a copy of cfg with keys and tokens hidden.
func masked(cfg *config.Config) config.Config {
	out := *cfg
	out.LLM.Providers = make(map[string]config.ProviderConfig, len(cfg.LLM.Providers))
	for name, p := range cfg.LLM.Providers {
		p.APIKey = mask(p.APIKey)
		out.LLM.Providers[name] = p
	}
	out.Tools.Search.APIKey = mask(cfg.Tools.Search.APIKey)
	out.Tools.Directions.AccessToken = mask(cfg.Tools.Directions.AccessToken)
	return out
}
