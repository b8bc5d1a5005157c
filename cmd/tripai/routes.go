package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hiroaki404/trip-ai/internal/routes"
)

func routesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Inspect stored route geometry",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored route ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := routes.Open(cfg.Storage.RoutesPath)
			ids := store.IDs()
			if len(ids) == 0 {
				fmt.Println("No routes stored.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one route with its length",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			g, err := routes.Open(cfg.Storage.RoutesPath).Get(args[0])
			if errors.Is(err, routes.ErrNotFound) {
				return fmt.Errorf("route %s not found in %s", args[0], cfg.Storage.RoutesPath)
			}
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("Route " + g.ID))
			fmt.Printf("Points: %d\n", len(g.Points))
			fmt.Printf("Length: %.2f km\n", g.Length()/1000)
			for i, p := range g.Points {
				fmt.Printf("  %3d  %.6f, %.6f\n", i+1, p.Lon(), p.Lat())
			}
			return nil
		},
	})

	return cmd
}
