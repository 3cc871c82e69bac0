package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crlink-unfurler/internal/dispatcher"
	"github.com/JakeFAU/crlink-unfurler/internal/unfurl"
)

type previewEntry struct {
	URL      string       `json:"url"`
	Outcome  string       `json:"outcome"`
	Adapters []string     `json:"adapters,omitempty"`
	Card     *unfurl.Card `json:"card,omitempty"`
}

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview URL...",
		Short: "Resolve links and print the cards as JSON without posting to Slack",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), rt.cfg.EventTimeout())
			defer cancel()
			resolutions := rt.app.Resolve(ctx, args)
			entries := make([]previewEntry, 0, len(resolutions))
			for _, res := range resolutions {
				entry := previewEntry{URL: res.URL, Outcome: res.Outcome, Adapters: res.Adapters}
				if res.Outcome == dispatcher.OutcomeMatched {
					card := res.Card
					entry.Card = &card
				}
				entries = append(entries, entry)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(entries); err != nil {
				return fmt.Errorf("write preview: %w", err)
			}
			return nil
		},
	}
}
