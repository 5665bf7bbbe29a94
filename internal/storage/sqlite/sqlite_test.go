package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"blog/internal/domain/models"
	"blog/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "blog.db")
	require.NoError(t, Migrate(path, ""))

	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestMigrate_Twice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blog.db")

	require.NoError(t, Migrate(path, ""))
	require.NoError(t, Migrate(path, ""))
}

func TestStorage_SaveUser_ActiveUserByEmail(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	username := gofakeit.Username()
	email := gofakeit.Email()
	hash := []byte("hash")

	id, err := s.SaveUser(ctx, username, email, hash)
	require.NoError(t, err)
	assert.NotZero(t, id)

	user, err := s.ActiveUserByEmail(ctx, email)
	require.NoError(t, err)
	assert.Equal(t, id, user.ID)
	assert.Equal(t, username, user.Username)
	assert.Equal(t, email, user.Email)
	assert.Equal(t, hash, user.HashedPassword)
	assert.True(t, user.IsActive)
	assert.NotNil(t, user.ActivateAt)
	assert.Nil(t, user.DeactivatedAt)
}

func TestStorage_SaveUser_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	email := gofakeit.Email()

	_, err := s.SaveUser(ctx, gofakeit.Username(), email, []byte("hash"))
	require.NoError(t, err)

	_, err = s.SaveUser(ctx, gofakeit.Username()+"2", email, []byte("hash"))
	assert.ErrorIs(t, err, storage.ErrUserExists)
}

func TestStorage_ActiveUserByEmail_NotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.ActiveUserByEmail(context.Background(), gofakeit.Email())
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestStorage_DeactivateUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	email := gofakeit.Email()

	id, err := s.SaveUser(ctx, gofakeit.Username(), email, []byte("hash"))
	require.NoError(t, err)

	require.NoError(t, s.DeactivateUser(ctx, id, time.Now()))

	_, err = s.ActiveUserByEmail(ctx, email)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	user, err := s.UserByID(ctx, id)
	require.NoError(t, err)
	assert.False(t, user.IsActive)
	assert.Empty(t, user.Email)
	assert.Contains(t, user.Username, "deactivated_")
	assert.NotNil(t, user.DeactivatedAt)

	// the email is free again
	_, err = s.SaveUser(ctx, gofakeit.Username()+"x", email, []byte("hash"))
	assert.NoError(t, err)

	assert.ErrorIs(t, s.DeactivateUser(ctx, id+100, time.Now()), storage.ErrUserNotFound)
}

func TestStorage_FindActiveUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	username := gofakeit.Username()
	email := gofakeit.Email()
	id, err := s.SaveUser(ctx, username, email, []byte("hash"))
	require.NoError(t, err)

	for name, lookup := range map[string]models.UserLookup{
		"by id":       {ID: id},
		"by email":    {Email: email},
		"by username": {Username: username},
		"by all":      {ID: id, Email: email, Username: username},
	} {
		t.Run(name, func(t *testing.T) {
			user, err := s.FindActiveUser(ctx, lookup)
			require.NoError(t, err)
			assert.Equal(t, id, user.ID)
		})
	}

	_, err = s.FindActiveUser(ctx, models.UserLookup{ID: id, Username: username + "x"})
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.FindActiveUser(ctx, models.UserLookup{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrUserNotFound)

	require.NoError(t, s.DeactivateUser(ctx, id, time.Now()))
	_, err = s.FindActiveUser(ctx, models.UserLookup{ID: id})
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestStorage_RevokeToken_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	jti := uuid.NewString()
	expiresAt := time.Now().Add(10 * time.Minute)

	revoked, err := s.IsTokenRevoked(ctx, jti)
	require.NoError(t, err)
	assert.False(t, revoked)

	created, err := s.RevokeToken(ctx, jti, expiresAt)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.RevokeToken(ctx, jti, expiresAt)
	require.NoError(t, err)
	assert.False(t, created)

	revoked, err = s.IsTokenRevoked(ctx, jti)
	require.NoError(t, err)
	assert.True(t, revoked)

	var count, storedExpiry int64
	require.NoError(t, s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MAX(expires_at) FROM token_blacklist WHERE jti = ?", jti,
	).Scan(&count, &storedExpiry))
	assert.Equal(t, int64(1), count)
	assert.Equal(t, expiresAt.Unix(), storedExpiry)
}

func TestStorage_RevokeToken_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	jti := uuid.NewString()

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.RevokeToken(ctx, jti, time.Now().Add(time.Minute))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if ok {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Equal(t, 1, created)
}

func TestStorage_PurgeRevokedTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	now := time.Now()

	expired := uuid.NewString()
	live := uuid.NewString()

	_, err := s.RevokeToken(ctx, expired, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.RevokeToken(ctx, live, now.Add(time.Minute))
	require.NoError(t, err)

	n, err := s.PurgeRevokedTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	revoked, err := s.IsTokenRevoked(ctx, expired)
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = s.IsTokenRevoked(ctx, live)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?_busy_timeout=5000&_journal_mode=WAL", dsn("a.db"))
	assert.Equal(t, "a.db?cache=shared&_busy_timeout=5000&_journal_mode=WAL", dsn("a.db?cache=shared"))
}
