// Package main is the entrypoint for the ldawatch CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kiranshivaraju/ldawatch/internal/config"
	"github.com/spf13/cobra"
)

const cliExecutable = "ldawatch"

// logLevel is raised or lowered once config is loaded.
var logLevel = new(slog.LevelVar)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := newRootCommand().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// newRootCommand builds the top-level command with its global flags.
func newRootCommand() *cobra.Command {
	var (
		baseURL string
		jobID   string
	)

	cmd := &cobra.Command{
		Use:   cliExecutable,
		Short: "Start LDA training jobs and follow their progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	cmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Training service base URL (overrides LDAWATCH_BASE_URL)")
	cmd.PersistentFlags().StringVar(&jobID, "job-id", "", "Job identifier (overrides LDAWATCH_JOB_ID)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(config.WithBaseURL(baseURL), config.WithJobID(jobID))
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logLevel.Set(cfg.Log.Level)
		return cfg, nil
	}

	cmd.AddCommand(newWatchCommand(load))
	cmd.AddCommand(newProgressCommand(load))
	cmd.AddCommand(newCancelCommand(load))

	return cmd
}

type configLoader func() (*config.Config, error)
