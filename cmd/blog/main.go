package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"blog/config"
	"blog/internal/app"
	"blog/internal/lib/logger/sl"

	"github.com/gin-gonic/gin"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const _shutdownPeriod = 15 * time.Second

func main() {
	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	log.Info("starting blog", slog.String("env", cfg.Env))

	if cfg.Env != envLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storageApp, err := app.NewStorageApp(rootCtx, log, cfg.StoragePath, cfg.Revocation)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := storageApp.Stop(); err != nil {
			log.Error("closing storage app", sl.Err(err))
		}
	}()

	application, err := app.New(log, cfg, storageApp)
	if err != nil {
		panic(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		application.PurgeWorker.Run(rootCtx)
	}()

	go application.HTTPServer.MustRun()

	// Waiting for SIGINT (pkill -2) or SIGTERM
	<-rootCtx.Done()
	stop()

	log.Info("received shutdown signal, shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), _shutdownPeriod)
	defer cancel()

	application.HTTPServer.Stop(shutdownCtx)
	wg.Wait()

	log.Info("server shut down gracefully")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
