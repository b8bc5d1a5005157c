package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hiroaki404/trip-ai/internal/history"
)

var titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

func openHistory() (*history.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return history.Open(cfg.Storage.HistoryPath)
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse past planning runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs yet.")
				return nil
			}
			for _, r := range runs {
				summary := r.Summary
				if summary == "" {
					summary = r.Input
				}
				fmt.Printf("%s  %s  %-9s  %s\n",
					r.ID[:min(8, len(r.ID))],
					r.CreatedAt.Local().Format("2006-01-02 15:04"),
					r.Status,
					truncate(summary, 60))
			}
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show one run and its plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory()
			if err != nil {
				return err
			}
			defer store.Close()

			r, err := findRun(context.Background(), store, args[0])
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("Run " + r.ID))
			fmt.Printf("Created:   %s\n", r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Printf("Status:    %s\n", r.Status)
			fmt.Printf("Duration:  %s\n", r.Duration.Round(time.Second))
			fmt.Printf("Revisions: %d\n", r.Revisions)
			fmt.Printf("Request:   %s\n", r.Input)
			if r.Error != "" {
				fmt.Printf("Error:     %s\n", r.Error)
			}
			if r.Booking != "" {
				fmt.Printf("Booking:   %s\n", r.Booking)
			}
			if r.RevisionLimitReached {
				fmt.Println("Finished at the revision limit.")
			}

			if p, err := r.Plan(); err == nil {
				fmt.Print(renderMarkdown(newMarkdownRenderer(), p.Markdown()))
			}
			return nil
		},
	})

	return cmd
}

// findRun accepts a full id or the short prefix printed by list.
func findRun(ctx context.Context, store *history.Store, id string) (history.Run, error) {
	r, err := store.Get(ctx, id)
	if err == nil || !errors.Is(err, history.ErrNotFound) {
		return r, err
	}
	runs, err := store.List(ctx, 500)
	if err != nil {
		return history.Run{}, err
	}
	for _, r := range runs {
		if strings.HasPrefix(r.ID, id) {
			return r, nil
		}
	}
	return history.Run{}, fmt.Errorf("run %s: %w", id, history.ErrNotFound)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
