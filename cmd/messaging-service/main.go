package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "postbox/cmd/messaging-service/docs"
	"postbox/internal/config"
	"postbox/internal/constants"
	"postbox/internal/logger"
	"postbox/pkg/bootstrap"
	"postbox/pkg/logging"
	"postbox/pkg/migrations"
)

var (
	configFile string
)

// @title           Postbox Messaging API
// @version         1.0
// @description     Send messages, read conversations and track guaranteed delivery to live recipients.

// @BasePath  /api/v1

// @schemes   http https

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceName,
		Short: "Messaging service with guaranteed live delivery",
		Long:  "Messaging service accepts messages over HTTP and Kafka, stores them in PostgreSQL and relays them to connected recipients until acknowledged",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (or CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(earlyLog *logging.EarlyLog) (*config.Config, logger.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, constants.ServiceName)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the messaging service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(logging.NewEarlyLog())
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logging.WithServiceName(ctx, constants.ServiceName)

			log.InfowCtx(ctx, "Starting messaging service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(context.Background())
				return err
			}

			log.InfowCtx(ctx, "Service running")
			runErr := app.Run(ctx)
			if shutdownErr := app.Shutdown(context.Background()); shutdownErr != nil {
				log.ErrorwCtx(ctx, "Shutdown finished with errors", "error", shutdownErr)
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
				return runErr
			}
			log.InfowCtx(ctx, "Service shutdown complete")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Apply or inspect the PostgreSQL schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(logging.NewEarlyLog())
			if err != nil {
				return err
			}
			defer log.Sync()

			connector := bootstrap.NewDatabaseConnector(cfg, log)
			db, err := connector.InitPostgreSQL(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			switch args[0] {
			case "up":
				if err := migrations.Up(db); err != nil {
					return err
				}
			case "down":
				if err := migrations.Down(db, steps); err != nil {
					return err
				}
			}

			version, dirty, err := migrations.Version(db)
			if err != nil {
				return err
			}
			log.Infow("Schema version", "version", version, "dirty", dirty)
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back with down")
	return cmd
}
