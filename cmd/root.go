// Package cmd defines the CLI commands for the scrape-engine executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscrape-engine/internal/config"
	"github.com/JakeFAU/webscrape-engine/internal/logging"
)

// envKey is the context key for the loaded config and logger.
type envKey struct{}

type appEnv struct {
	cfg    config.Config
	logger *zap.Logger
}

// loadEnv reads the config file and builds the logger.
func loadEnv(path string) (appEnv, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return appEnv{}, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		File:        cfg.Logging.File,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return appEnv{}, fmt.Errorf("init logger: %w", err)
	}
	return appEnv{cfg: cfg, logger: logger}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scrape-engine",
		Short: "Tiered scrape-job execution engine.",
		Long: `scrape-engine admits scrape jobs, runs them through a fast HTTP tier,
a rendered browser tier and a stealth tier, and reports the extracted page data.`,
		SilenceUsage: true,

		// Runs before every subcommand so each one sees the same config and logger.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := loadEnv(cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, rt))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(envKey{}).(appEnv); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSubmitCmd())
	cmd.AddCommand(newClassifyCmd())
	return cmd
}

func resolveEnv(ctx context.Context) (appEnv, error) {
	rt, ok := ctx.Value(envKey{}).(appEnv)
	if !ok {
		return appEnv{}, errors.New("config not loaded")
	}
	return rt, nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
