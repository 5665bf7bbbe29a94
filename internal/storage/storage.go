package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// RevocationStore is the durable set of revoked token ids.
type RevocationStore interface {
	// RevokeToken records jti as revoked. It reports false when the jti
	// was already present; that is not an error.
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) (revoked bool, err error)
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	// PurgeRevokedTokens deletes entries whose token expired before now.
	PurgeRevokedTokens(ctx context.Context, now time.Time) (int64, error)
}
