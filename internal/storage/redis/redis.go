// Package redis is a revocation store backed by Redis. Entries carry a TTL that
// ends when the revoked token expires, so Redis purges them on its own.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "blog:blacklist:"

// minTTL keeps already-expired tokens recordable; SET rejects non-positive expirations.
const minTTL = time.Second

type Storage struct {
	rdb    redis.UniversalClient
	prefix string
}

func New(rdb redis.UniversalClient, prefix string) *Storage {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Storage{rdb: rdb, prefix: prefix}
}

// Connect dials addr and checks the connection with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	const op = "storage.redis.Connect"

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return rdb, nil
}

func (s *Storage) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	const op = "storage.redis.RevokeToken"

	ttl := time.Until(expiresAt)
	if ttl < minTTL {
		ttl = minTTL
	}

	created, err := s.rdb.SetNX(ctx, s.key(jti), strconv.FormatInt(time.Now().Unix(), 10), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return created, nil
}

func (s *Storage) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	const op = "storage.redis.IsTokenRevoked"

	n, err := s.rdb.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

// PurgeRevokedTokens is a no-op: keys expire with their tokens.
func (s *Storage) PurgeRevokedTokens(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *Storage) key(jti string) string {
	return s.prefix + jti
}
