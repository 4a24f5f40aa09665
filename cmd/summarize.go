package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/scrape"
)

func newSummarizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summarize <url>",
		Short: "Summarizes one site and prints the result",
		Long: `Runs the pipeline for the given seed URL in the foreground and prints
the result as JSON. The result is also written to the configured sinks.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := app.Close(cmd.Context()); cerr != nil {
					app.Logger().Warn("close failed", zap.Error(cerr))
				}
			}()

			result, err := app.Supervisor().RunSync(cmd.Context(), args[0])
			switch {
			case errors.Is(err, scrape.ErrNoResult):
				return errors.New("scraping completed but no data was returned")
			case err != nil:
				return fmt.Errorf("summarize %s: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return nil
		},
	}
}
