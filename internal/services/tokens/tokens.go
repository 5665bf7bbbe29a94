package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"blog/internal/lib/jwt"
	"blog/internal/lib/logger/sl"
)

const DefaultRefreshTolerance = 120 * time.Second

// Expected outcomes. Callers must not tell them apart in responses; all of
// them satisfy errors.Is(err, jwt.ErrInvalidToken).
var (
	ErrMalformedToken = fmt.Errorf("%w: malformed token", jwt.ErrInvalidToken)
	ErrRevokedToken   = fmt.Errorf("%w: token revoked", jwt.ErrInvalidToken)
)

// Token is a freshly issued session token.
type Token struct {
	Value     string
	JTI       string
	ExpiresAt time.Time
}

// Result of VerifyAndRefresh. NewToken is nil unless the presented token was
// inside the refresh tolerance window.
type Result struct {
	Claims   *jwt.Claims
	NewToken *Token
}

func (r *Result) NeedsRefresh() bool {
	return r.NewToken != nil
}

type RevocationStore interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) (revoked bool, err error)
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// Manager drives a token through issue, verification, rolling refresh and revocation.
type Manager struct {
	log             *slog.Logger
	codec           *jwt.Codec
	revocations     RevocationStore
	tolerance       time.Duration
	revokeOnRefresh bool
}

// New returns a Manager. A non-positive tolerance selects DefaultRefreshTolerance.
// With revokeOnRefresh set, a refreshed token is revoked as soon as its
// replacement is minted instead of staying valid until it expires.
func New(
	log *slog.Logger,
	codec *jwt.Codec,
	revocations RevocationStore,
	tolerance time.Duration,
	revokeOnRefresh bool,
) *Manager {
	if tolerance <= 0 {
		tolerance = DefaultRefreshTolerance
	}
	return &Manager{
		log:             log,
		codec:           codec,
		revocations:     revocations,
		tolerance:       tolerance,
		revokeOnRefresh: revokeOnRefresh,
	}
}

func (m *Manager) TTL() time.Duration {
	return m.codec.TTL()
}

func (m *Manager) RefreshTolerance() time.Duration {
	return m.tolerance
}

// Now is the clock tokens are issued and checked against.
func (m *Manager) Now() time.Time {
	return m.codec.Now()
}

// Issue mints a token for subject with the default lifetime.
func (m *Manager) Issue(subject string) (Token, error) {
	const op = "tokens.Issue"

	value, claims, err := m.codec.Encode(subject, 0)
	if err != nil {
		return Token{}, fmt.Errorf("%s: %w", op, err)
	}

	return Token{
		Value:     value,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify returns the claims of a token that is correctly signed, unexpired,
// carries a jti and subject, and has not been revoked. Any of those checks
// failing yields an error matching jwt.ErrInvalidToken; any other error is a
// storage failure.
func (m *Manager) Verify(ctx context.Context, token string) (*jwt.Claims, error) {
	const op = "tokens.Verify"

	claims, err := m.codec.Decode(token)
	if err != nil {
		m.log.Debug("token rejected", slog.String("op", op), sl.Err(err))
		return nil, err
	}

	if claims.ID == "" || claims.Subject == "" {
		m.log.Debug("token rejected", slog.String("op", op), sl.Err(ErrMalformedToken))
		return nil, ErrMalformedToken
	}

	revoked, err := m.revocations.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		m.log.Error("failed to check revocation", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if revoked {
		m.log.Debug("token rejected", slog.String("op", op), sl.Err(ErrRevokedToken))
		return nil, ErrRevokedToken
	}

	return claims, nil
}

// VerifyAndRefresh verifies token and, when less than tolerance remains
// before it expires, mints a replacement bound to the same subject.
// A non-positive tolerance uses the manager's default.
func (m *Manager) VerifyAndRefresh(ctx context.Context, token string, tolerance time.Duration) (*Result, error) {
	const op = "tokens.VerifyAndRefresh"

	claims, err := m.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	if tolerance <= 0 {
		tolerance = m.tolerance
	}

	res := &Result{Claims: claims}
	if claims.Remaining(m.codec.Now()) >= tolerance {
		return res, nil
	}

	log := m.log.With(slog.String("op", op), slog.String("jti", claims.ID))

	fresh, err := m.Issue(claims.Subject)
	if err != nil {
		log.Error("failed to issue refreshed token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if m.revokeOnRefresh {
		if _, err := m.revocations.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
			log.Error("failed to revoke refreshed token", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	log.Debug("token refreshed", slog.String("new_jti", fresh.JTI))

	res.NewToken = &fresh
	return res, nil
}

// Revoke blacklists token. Only tokens with a valid signature can be revoked;
// expired ones are accepted. alreadyRevoked reports a repeated call.
func (m *Manager) Revoke(ctx context.Context, token string) (alreadyRevoked bool, err error) {
	const op = "tokens.Revoke"

	claims, err := m.codec.DecodeAllowExpired(token)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return false, ErrMalformedToken
	}

	log := m.log.With(slog.String("op", op), slog.String("jti", claims.ID))

	created, err := m.revocations.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		log.Error("failed to revoke token", sl.Err(err))
		return false, fmt.Errorf("%s: %w", op, err)
	}

	if !created {
		log.Info("token already revoked")
		return true, nil
	}

	log.Info("token revoked")
	return false, nil
}

// IsInvalid reports whether err is an expected token rejection rather than a
// storage or internal failure.
func IsInvalid(err error) bool {
	return errors.Is(err, jwt.ErrInvalidToken)
}
