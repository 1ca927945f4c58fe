package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"readmaster/internal/cronauth"
	"readmaster/internal/util"
	"readmaster/services/worker/internal/app"
	"readmaster/services/worker/internal/config"
	"readmaster/services/worker/internal/scheduler"
	"readmaster/services/worker/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioBucket:    cfg.MinioBucket,
		MinioUseSSL:    cfg.MinioUseSSL,
		RedisAddr:      cfg.RedisAddr,
		RedisPassword:  cfg.RedisPassword,
		ImportStream:   cfg.ImportStream,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		FetchTimeout:   time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		FetchMaxBytes:  cfg.FetchMaxBytes,
		FetchUserAgent: cfg.FetchUserAgent,
		BatchSize:      cfg.BatchSize,
		JobConcurrency: cfg.JobConcurrency,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	guard, err := cronauth.New(cfg.CronSecret, cfg.CronSecretHash)
	if err != nil {
		log.Fatalf("failed to init cron guard: %v", err)
	}

	httpServer, err := server.New(server.Config{App: appCore, Guard: guard})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	appCore.StartImports(context.Background(), cfg.ImportConcurrency)

	if cfg.SchedulerEnabled {
		sched := scheduler.New(appCore)
		sched.Start()
		defer sched.Stop()
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// Cron triggers hold the response open until the job finishes.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("worker listening", "addr", addr, "scheduler", cfg.SchedulerEnabled)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
