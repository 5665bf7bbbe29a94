// Package purge periodically removes revocation entries whose tokens have expired.
package purge

import (
	"context"
	"log/slog"
	"time"

	"blog/internal/lib/logger/sl"
)

const DefaultInterval = time.Hour

type Purger interface {
	PurgeRevokedTokens(ctx context.Context, now time.Time) (int64, error)
}

type Worker struct {
	log      *slog.Logger
	purger   Purger
	interval time.Duration
}

func New(log *slog.Logger, purger Purger, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		log:      log,
		purger:   purger,
		interval: interval,
	}
}

// Run purges once immediately and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	const op = "purge.Run"

	log := w.log.With(slog.String("op", op))
	log.Info("revocation purge started", slog.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.PurgeOnce(ctx)

		select {
		case <-ctx.Done():
			log.Info("revocation purge stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) PurgeOnce(ctx context.Context) int64 {
	const op = "purge.PurgeOnce"

	n, err := w.purger.PurgeRevokedTokens(ctx, time.Now())
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("failed to purge revoked tokens", slog.String("op", op), sl.Err(err))
		}
		return 0
	}

	if n > 0 {
		w.log.Info("purged revoked tokens", slog.String("op", op), slog.Int64("count", n))
	}

	return n
}
