package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Slack Events API webhook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.cfg.RequireSlack(); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			if err := rt.app.Run(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			rt.logger.Info("serve command finished", zap.Int("port", rt.cfg.Server.Port))
			return nil
		},
	}
}
