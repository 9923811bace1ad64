// Package cli provides the initialization shared by cmd/incomes and
// cmd/incomectl.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"incomes/internal/amqp"
	"incomes/internal/backup"
	"incomes/internal/config"
	"incomes/internal/log"
	"incomes/internal/offsite"
	"incomes/internal/storage"
)

// SetupLogger initializes structured logging at the given level and sets it
// as the default logger.
func SetupLogger(level string) *log.Logger {
	lvl := log.ParseLevel(level)
	logger := log.New(log.Config{
		Level:     lvl,
		Component: log.ComponentApp,
		Handler:   slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}),
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}
	return cfg
}

// InitSQLite opens the SQLite repository and applies migrations.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *log.Logger, dbPath string) *storage.SQLiteRepository {
	repo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", log.FieldError, err, "path", dbPath)
		os.Exit(1)
	}
	logger.Info("SQLite repository ready", "path", dbPath, "schema_version", repo.SchemaVersion())
	return repo
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ConnectAMQP dials the broker when AMQP_URL is set. A nil client means events
// are disabled.
func ConnectAMQP(cfg *config.Config, logger *log.Logger) (*amqp.Client, error) {
	logger = logger.WithComponent(log.ComponentAMQP)
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - no AMQP_URL provided")
		return nil, nil
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchangeName, cfg.AMQPQueueName, logger)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchangeName, "queue", cfg.AMQPQueueName)
	return client, nil
}

// OpenGCS creates the off-site uploader when BACKUP_GCS_BUCKET is set. A nil
// uploader means off-site copies are disabled.
func OpenGCS(ctx context.Context, cfg *config.Config, logger *log.Logger) (*offsite.GCSUploader, error) {
	if cfg.BackupGCSBucket == "" {
		return nil, nil
	}
	u, err := offsite.NewGCSUploader(ctx, cfg.BackupGCSBucket, cfg.BackupGCSPrefix, cfg.GoogleCredentialsFile)
	if err != nil {
		return nil, err
	}
	logger.WithComponent(log.ComponentOffsite).Info("Off-site backup enabled", "bucket", cfg.BackupGCSBucket, "prefix", cfg.BackupGCSPrefix)
	return u, nil
}

// NewBackupJob builds the backup job from configuration. Nil collaborators are
// left out so the job never sees a typed nil interface.
func NewBackupJob(cfg *config.Config, sink backup.LogSink, logger *log.Logger, uploader *offsite.GCSUploader, notifier *amqp.Client) *backup.Job {
	var opts []backup.Option
	if uploader != nil {
		opts = append(opts, backup.WithUploader(uploader))
	}
	if notifier != nil {
		opts = append(opts, backup.WithNotifier(notifier))
	}
	return backup.NewJob(backup.Config{
		SourcePath: cfg.SQLiteDBPath,
		Dir:        filepath.Clean(cfg.BackupDir),
		Prefix:     cfg.BackupPrefix,
		RetainDays: cfg.BackupRetainDays,
	}, sink, logger, opts...)
}
