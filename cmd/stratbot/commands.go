package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/alanyoungcy/stratbot/internal/app"
	"github.com/alanyoungcy/stratbot/internal/config"
)

// newRootCmd creates the root command. Running it without a subcommand starts
// the application.
func newRootCmd() *cobra.Command {
	var (
		configPath string
		mode       string
	)

	rootCmd := &cobra.Command{
		Use:           "stratbot",
		Short:         "stratbot - AI-assisted strategy and trade processing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), configPath, mode)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "path to configuration file (empty for defaults and environment only)")
	rootCmd.Flags().StringVar(&mode, "mode", "", "override the configured mode (full|headless)")

	rootCmd.AddCommand(newMigrateCmd(&configPath))
	rootCmd.AddCommand(newConfigCmd(&configPath))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(*configPath, "")
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), cfg, logger)
		},
	}
}

func newConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configPath, "")
			if err != nil {
				return err
			}
			redacted := config.RedactedConfig(cfg)
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(redacted)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stratbot %s\n", version)
		},
	}
}

// loadConfig reads and validates the configuration and builds the JSON
// logger at the configured level. A non-empty mode overrides the file.
func loadConfig(path, mode string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if mode != "" {
		cfg.Mode = mode
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}

func runApp(parent context.Context, configPath, mode string) error {
	cfg, logger, err := loadConfig(configPath, mode)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", slog.String("config", configPath))

	application := app.New(cfg, version, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			return err
		}
		logger.Info("application shut down gracefully")
	}

	logger.Info("stratbot stopped")
	return nil
}
