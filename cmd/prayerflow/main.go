package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/app"
	"prayerflow/internal/config"
)

var Version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "prayerflow",
		Short:         "Prayer request intake, moderation and delivery",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (or CONFIG_PATH)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(dispatchCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(envCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "critical: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the metrics listener and the dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), *configPath, func(ctx context.Context, cfg *config.Config, log logger.Logger) error {
				log.Info("application starting", "version", cfg.App.Version, "env", cfg.Env)
				if err := app.Run(ctx, cfg, log); err != nil {
					log.Error("application crashed", "error", err)
					return err
				}
				log.Info("shutdown complete")
				return nil
			})
		},
	}
}

func dispatchCmd(configPath *string) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send due messages from the delivery queue",
		Long: `Send due messages from the delivery queue.

Examples:
  prayerflow dispatch --once      # one batch, for cron
  prayerflow dispatch             # loop on dispatcher.interval`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), *configPath, func(ctx context.Context, cfg *config.Config, log logger.Logger) error {
				return app.Dispatch(ctx, cfg, log, once)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "process a single batch and exit")
	return cmd
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate up|down",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(app.MigrateUp), string(app.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), *configPath, func(_ context.Context, cfg *config.Config, log logger.Logger) error {
				return app.Migrate(&cfg.Database, log, app.MigrateDirection(args[0]))
			})
		},
	}
}

func envCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables that override the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			desc, err := config.Describe()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), desc)
			return err
		},
	}
}

func withRuntime(
	parent context.Context,
	configPath string,
	run func(ctx context.Context, cfg *config.Config, log logger.Logger) error,
) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	opts := []logger.Option{logger.WithLevel(logLevel(cfg.Logger.Level))}
	if cfg.Logger.Filename != "" {
		opts = append(opts, logger.WithRotation(cfg.Logger.Filename, cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.MaxAge))
	}
	log, err := logger.InitLogger(logger.ZapEngine, cfg.App.Name, cfg.Env, opts...)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}

	return run(ctx, cfg, log)
}

func logLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}
