package httpapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	authhttp "blog/internal/http/auth"
	"blog/internal/http/middleware"
	"blog/internal/lib/logger/sl"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type App struct {
	log        *slog.Logger
	httpServer *http.Server
	port       int
}

type Options struct {
	Port           int
	Timeout        time.Duration
	TrustedProxies []string
	AllowedOrigins []string
}

// New creates new HTTP server app.
func New(log *slog.Logger, authService authhttp.Auth, opts Options) (*App, error) {
	const op = "httpapp.New"

	router := gin.New()

	// nil disables trusting X-Forwarded-For entirely
	if err := router.SetTrustedProxies(opts.TrustedProxies); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	router.Use(
		middleware.Recovery(log),
		middleware.Logger(log),
		corsConfig(opts.AllowedOrigins),
	)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authhttp.Register(router, log, authService)

	return &App{
		log: log,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", opts.Port),
			Handler:           router,
			ReadHeaderTimeout: opts.Timeout,
			ReadTimeout:       opts.Timeout,
			WriteTimeout:      opts.Timeout,
		},
		port: opts.Port,
	}, nil
}

func corsConfig(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "PATCH"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", middleware.NewTokenHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}

	return cors.New(cfg)
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

func (a *App) MustRun() {
	if err := a.Run(); err != nil {
		panic(err)
	}
}

func (a *App) Run() error {
	const op = "httpapp.Run"

	l, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("http server started", slog.String("addr", l.Addr().String()))

	if err := a.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Stop waits for in-flight requests until ctx is done, then closes the
// remaining connections.
func (a *App) Stop(ctx context.Context) {
	const op = "httpapp.Stop"

	log := a.log.With(slog.String("op", op))
	log.Info("stopping http server", slog.Int("port", a.port))

	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed, forcing close", sl.Err(err))
		_ = a.httpServer.Close()
	}
}
