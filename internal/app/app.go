package app

import (
	"fmt"
	"log/slog"

	"blog/config"
	httpapp "blog/internal/app/http"
	"blog/internal/lib/hasher"
	"blog/internal/lib/jwt"
	"blog/internal/services/auth"
	"blog/internal/services/purge"
	"blog/internal/services/tokens"
)

type App struct {
	HTTPServer  *httpapp.App
	PurgeWorker *purge.Worker
	StorageApp  *StorageApp
}

func New(log *slog.Logger, cfg *config.Config, storageApp *StorageApp) (*App, error) {
	const op = "app.New"

	codec, err := jwt.New(jwt.Config{
		Secret: cfg.Token.Secret,
		Method: cfg.Token.Algorithm,
		TTL:    cfg.Token.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tokenManager := tokens.New(log, codec, storageApp.Revocations(), cfg.Token.RefreshTolerance, cfg.Token.RevokeOnRefresh)

	authService := auth.New(log, storageApp.Storage(), storageApp.Storage(), hasher.New(cfg.BcryptCost), tokenManager)

	httpApp, err := httpapp.New(log, authService, httpapp.Options{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &App{
		HTTPServer:  httpApp,
		PurgeWorker: purge.New(log, storageApp.Revocations(), cfg.Revocation.PurgeInterval),
		StorageApp:  storageApp,
	}, nil
}
