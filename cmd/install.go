package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crlink-unfurler/internal/store"
)

func newInstallCmd() *cobra.Command {
	var inst store.Installation
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Record a workspace bot token in the installation store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if rt.cfg.DB.DSN == "" {
				return errors.New("install: db.dsn is required to persist installations")
			}
			if inst.TeamID == "" && inst.EnterpriseID == "" {
				return errors.New("install: --team or --enterprise is required")
			}
			if !strings.HasPrefix(inst.BotToken, "xoxb-") {
				return errors.New("install: --token must be a bot token (xoxb-)")
			}
			inst.InstalledAt = time.Now().UTC()
			if err := rt.app.Installations().StoreInstallation(cmd.Context(), inst); err != nil {
				return fmt.Errorf("install: %w", err)
			}
			rt.logger.Info("installation stored",
				zap.String("team", inst.TeamID),
				zap.String("enterprise", inst.EnterpriseID),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "installed team=%q enterprise=%q\n", inst.TeamID, inst.EnterpriseID)
			return nil
		},
	}
	cmd.Flags().StringVar(&inst.TeamID, "team", "", "Slack team ID")
	cmd.Flags().StringVar(&inst.EnterpriseID, "enterprise", "", "Slack Enterprise Grid ID")
	cmd.Flags().StringVar(&inst.BotToken, "token", "", "bot token (xoxb-...)")
	cmd.Flags().StringVar(&inst.BotUserID, "bot-user", "", "bot user ID")
	return cmd
}
