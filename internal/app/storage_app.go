package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"blog/config"
	"blog/internal/storage"
	redisstorage "blog/internal/storage/redis"
	"blog/internal/storage/sqlite"

	"github.com/redis/go-redis/v9"
)

// StorageApp owns the database handles. Users always live in sqlite; the
// revocation list lives in sqlite or redis depending on configuration.
type StorageApp struct {
	storage     *sqlite.Storage
	rdb         *redis.Client
	revocations storage.RevocationStore
}

func NewStorageApp(ctx context.Context, log *slog.Logger, storagePath string, revocation config.RevocationConfig) (*StorageApp, error) {
	const op = "app.NewStorageApp"

	if err := sqlite.Migrate(storagePath, sqlite.DefaultMigrationsTable); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	st, err := sqlite.New(storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s := &StorageApp{storage: st, revocations: st}

	if revocation.Backend == config.RevocationBackendRedis {
		rdb, err := redisstorage.Connect(ctx, revocation.Redis.Addr, revocation.Redis.Password, revocation.Redis.DB)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.rdb = rdb
		s.revocations = redisstorage.New(rdb, redisstorage.DefaultKeyPrefix)
	}

	log.Info("storage ready",
		slog.String("storage_path", storagePath),
		slog.String("revocation_backend", revocation.Backend),
	)

	return s, nil
}

func (s *StorageApp) Stop() error {
	var errs []error
	if s.rdb != nil {
		errs = append(errs, s.rdb.Close())
	}
	errs = append(errs, s.storage.Close())
	return errors.Join(errs...)
}

func (s *StorageApp) Storage() *sqlite.Storage {
	return s.storage
}

func (s *StorageApp) Revocations() storage.RevocationStore {
	return s.revocations
}
