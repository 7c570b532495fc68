package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/kiranshivaraju/ldawatch/internal/trainer"
	"github.com/spf13/cobra"
)

func newProgressCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Query the job's progress once and print it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			client := trainer.NewHTTPClient(cfg.Service.BaseURL, cfg.Service.Timeout)
			p, err := client.Progress(cmd.Context(), cfg.Service.JobID)
			if err != nil {
				return fmt.Errorf("query progress: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func newCancelCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Ask the training service to cancel the job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			client := trainer.NewHTTPClient(cfg.Service.BaseURL, cfg.Service.Timeout)
			resp, err := client.CancelTraining(cmd.Context(), cfg.Service.JobID)
			if err != nil {
				return fmt.Errorf("cancel training: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
