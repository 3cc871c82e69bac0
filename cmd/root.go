// Package cmd defines the CLI commands for the crlink-unfurler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crlink-unfurler/internal/app"
	"github.com/JakeFAU/crlink-unfurler/internal/config"
	"github.com/JakeFAU/crlink-unfurler/internal/dispatcher"
	"github.com/JakeFAU/crlink-unfurler/internal/logging"
	"github.com/JakeFAU/crlink-unfurler/internal/store"
)

// App is the slice of the application container the commands use.
type App interface {
	Run(ctx context.Context) error
	Resolve(ctx context.Context, urls []string) []dispatcher.Resolution
	Installations() store.InstallationRepository
	Close()
}

// runtime is stored in the command context by the root pre-run hook.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
	app    App
}

type runtimeKey struct{}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger)
}

// newLogger builds the process logger; tests replace it.
var newLogger = logging.New

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "crlink-unfurler",
		Short: "Slack link unfurler for Chromium code review, bug and source links.",
		Long: `crlink-unfurler receives Slack link_shared events and replies with rich
preview cards for Chromium code reviews, bugs and source browser links.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey{}, &runtime{
				cfg:    cfg,
				logger: logger,
				app:    appInstance,
			}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey{}).(*runtime); ok && rt.app != nil {
				rt.app.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); UNFURLER_* env vars override it")

	cmd.AddCommand(newServeCmd(), newPreviewCmd(), newInstallCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey{}).(*runtime)
	if !ok || rt == nil || rt.app == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// Execute runs the root command.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
