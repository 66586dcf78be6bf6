// Package cmd defines and implements the CLI commands for the pagekeep
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pagekeep/pagekeep/internal/app"
	"github.com/pagekeep/pagekeep/internal/logging"
	"github.com/pagekeep/pagekeep/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can replace
// it with a mock factory.
var newApp = func() (*app.App, error) {
	return app.New()
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagekeep",
		Short: "Archive live web pages into self-contained local snapshots.",
		Long: `pagekeep renders pages in a headless browser, downloads every
referenced resource server-side, rewrites the HTML and CSS to point at the
local copies, and persists the result as a browsable capture directory with
a queryable index.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp()
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cobra.OnInitialize(config.InitConfig, func() {
		if cfgFile == "" {
			return
		}
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			logging.L.Error("Error reading config file", zap.String("path", cfgFile), zap.Error(err))
		}
	})

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.* searched in ., /etc/pagekeep/, $HOME/.pagekeep)")

	cmd.AddCommand(newCaptureCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newWorkerCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	logging.InitLogger()

	if err := newRootCmd().Execute(); err != nil {
		logging.L.Fatal("Command execution failed", zap.Error(err))
	}
}
