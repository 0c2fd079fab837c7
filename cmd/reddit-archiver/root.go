package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Ragnaruk/reddit-archiver/internal/archiver"
	"github.com/Ragnaruk/reddit-archiver/internal/bot"
	"github.com/Ragnaruk/reddit-archiver/internal/config"
	"github.com/Ragnaruk/reddit-archiver/internal/reddit"
	"github.com/Ragnaruk/reddit-archiver/internal/storage"
)

const rootLongDesc = `Archive your saved Reddit posts and browse them from Telegram.

  reddit-archiver run     Run the bot and the daily sync together
  reddit-archiver bot     Run only the Telegram bot
  reddit-archiver sync    Perform one sync pass and exit`

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "reddit-archiver",
		Short:         "Personal archive of saved Reddit posts with a Telegram frontend",
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs", "Directory containing config.yaml")

	cmd.AddCommand(newRunCmd(&configPath))
	cmd.AddCommand(newBotCmd(&configPath))
	cmd.AddCommand(newSyncCmd(&configPath))

	return cmd
}

// setup loads config and builds the logger and the shared repository.
func setup(configPath string) (config.Config, *logrus.Logger, *storage.BadgerRepository, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("error loading configuration: %w", err)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)

	log.WithFields(logrus.Fields{
		"badgerdb_path": cfg.BadgerDBPath,
		"sync_hour_utc": cfg.SyncHourUTC,
	}).Info("Configuration loaded successfully")

	repo, err := storage.NewBadgerRepository(cfg.BadgerDBPath, log)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return cfg, log, repo, nil
}

func newEngine(cfg config.Config, repo *storage.BadgerRepository, log *logrus.Logger) *archiver.Engine {
	client := reddit.NewClient(reddit.Config{
		ClientID:     cfg.RedditClientID,
		ClientSecret: cfg.RedditClientSecret,
		Username:     cfg.RedditUsername,
		Password:     cfg.RedditPassword,
		UserAgent:    cfg.UserAgent,
	}, log)
	return archiver.NewEngine(client, repo, log)
}

func newBotCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run only the Telegram bot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, repo, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer closeRepo(repo, log)

			if err := cfg.ValidateBot(); err != nil {
				return err
			}

			botHandler, err := bot.NewHandler(cfg, repo, repo, log)
			if err != nil {
				return fmt.Errorf("failed to initialize Telegram bot handler: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("Reddit Archiver bot is running. Press Ctrl+C to exit.")
			botHandler.Start(ctx)
			return nil
		},
	}
}

func newSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Perform one incremental sync pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, repo, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer closeRepo(repo, log)

			if err := cfg.ValidateSync(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			inserted, skipped, err := newEngine(cfg, repo, log).Run(ctx)
			if err != nil {
				return fmt.Errorf("sync pass failed: %w", err)
			}
			log.WithFields(logrus.Fields{
				"inserted": inserted,
				"skipped":  skipped,
			}).Info("Sync finished")
			return nil
		},
	}
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the Telegram bot and the daily sync scheduler together",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, repo, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer closeRepo(repo, log)

			if err := cfg.ValidateBot(); err != nil {
				return err
			}
			if err := cfg.ValidateSync(); err != nil {
				return err
			}

			botHandler, err := bot.NewHandler(cfg, repo, repo, log)
			if err != nil {
				return fmt.Errorf("failed to initialize Telegram bot handler: %w", err)
			}

			scheduler := archiver.NewScheduler(
				newEngine(cfg, repo, log),
				time.Duration(cfg.SyncHourUTC)*time.Hour,
				log,
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go scheduler.Start(ctx)
			go botHandler.Start(ctx)

			log.Info("Reddit Archiver is running. Press Ctrl+C to exit.")
			<-ctx.Done()

			log.Info("Shutting down Reddit Archiver...")
			return nil
		},
	}
}

func closeRepo(repo *storage.BadgerRepository, log logrus.FieldLogger) {
	log.Info("Closing database...")
	if err := repo.Close(); err != nil {
		log.WithError(err).Error("Error closing database")
	}
}
