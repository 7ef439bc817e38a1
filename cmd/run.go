// File: cmd/run.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mirahq/mira-core/internal/action"
	"github.com/mirahq/mira-core/internal/config"
	"github.com/mirahq/mira-core/internal/observability"
	"github.com/mirahq/mira-core/internal/service"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Starts the behavioral capture and suggestion pipeline",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line values override
			// the config file and environment.
			if err := viper.BindPFlag("tracker.session_id", cmd.Flags().Lookup("session-id")); err != nil {
				return err
			}
			if err := viper.BindPFlag("actions.backend_base_url", cmd.Flags().Lookup("backend-url")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// The context passed from main is signal-aware.
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return fmt.Errorf("failed to finalize config with flag overrides: %w", err)
			}

			logger.Info("Starting pipeline",
				zap.Bool("tracker_enabled", cfg.Tracker().Enabled),
				zap.Duration("upload_interval", cfg.Uploader().Interval),
				zap.String("backend_url", cfg.Actions().BackendBaseURL),
			)

			factory := service.NewComponentFactory()

			// The daemon runs without a frontend bridge; navigation and
			// prefill hooks are registered by embedding clients.
			components, err := factory.Create(ctx, cfg, action.Hooks{}, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize pipeline components: %w", err)
			}
			defer components.Shutdown()

			components.Start(ctx)

			<-ctx.Done()
			logger.Info("Shutdown signal received, stopping pipeline")
			return nil
		},
	}

	runCmd.Flags().String("session-id", "", "Session identifier override. (Overrides config/env)")
	runCmd.Flags().String("backend-url", "", "Base URL for backend action calls. (Overrides config/env)")

	return runCmd
}
