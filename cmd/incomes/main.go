package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"incomes/internal/auth"
	"incomes/internal/cache"
	"incomes/internal/cli"
	apphttp "incomes/internal/http"
	"incomes/internal/log"
	"incomes/internal/services"
	"incomes/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx, stop := cli.SignalContext()
	defer stop()

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	authSvc := auth.NewService(repo, cfg.JWTSecret, cfg.AccessTokenTTL, logger)
	if _, err := authSvc.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword); err != nil {
		logger.Error("Failed to seed admin account", log.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := cli.ConnectAMQP(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	var publisher services.ImportPublisher
	if amqpClient != nil {
		defer amqpClient.Close()
		publisher = amqpClient
	}

	uploader, err := cli.OpenGCS(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize off-site storage", log.FieldError, err)
		os.Exit(1)
	}
	if uploader != nil {
		defer uploader.Close()
	}

	statsCache := cache.NewLRUCache[any](cfg.StatsCacheMaxEntries, cfg.StatsCacheTTL)
	cacheManager := cache.NewManager(logger)
	cacheManager.Register(statsCache)
	cacheManager.StartCleanup(cfg.StatsCacheTTL)
	defer cacheManager.Stop()

	job := cli.NewBackupJob(cfg, repo, logger, uploader, amqpClient)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Dependencies{
		Auth:   authSvc,
		Income: services.NewIncomeService(repo, statsCache, logger),
		Import: services.NewImportService(repo, publisher, logger),
		Backup: job,
		DB:     repo,
	}, apphttp.Options{
		CORSOrigins:        cfg.CORSOrigins,
		TrustedProxies:     cfg.TrustedProxies,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxImportSizeBytes: cfg.MaxImportSizeBytes,
	}, logger)

	// Configure server timeouts and limits
	srv.ReadTimeout = 30 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	var scheduler *worker.BackupScheduler
	if cfg.BackupEnabled {
		scheduler = worker.NewBackupScheduler(job, worker.ScheduleConfig{
			Hour:     cfg.BackupHour,
			Minute:   cfg.BackupMinute,
			Location: cfg.ScheduleLocation(),
		}, logger)
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("Failed to start backup scheduler", log.FieldError, err)
			os.Exit(1)
		}
	} else {
		logger.Info("Scheduled backups disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting incomes server", "port", cfg.Port, "db", cfg.SQLiteDBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				logger.Error("Backup scheduler shutdown error", log.FieldError, err)
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
