package tokens

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"blog/internal/lib/jwt"
	"blog/internal/lib/logger/handlers/slogdiscard"

	"github.com/brianvoe/gofakeit/v6"
	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]time.Time)}
}

func (s *memoryStore) RevokeToken(_ context.Context, jti string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.entries[jti]; ok {
		return false, nil
	}
	s.entries[jti] = expiresAt
	return true, nil
}

func (s *memoryStore) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false, s.err
	}
	_, ok := s.entries[jti]
	return ok, nil
}

func (s *memoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func newTestManager(t *testing.T, revokeOnRefresh bool) (*Manager, *jwt.Codec, *memoryStore) {
	t.Helper()

	codec, err := jwt.New(jwt.Config{Secret: testSecret})
	require.NoError(t, err)

	store := newMemoryStore()
	m := New(slogdiscard.NewDiscardLogger(), codec, store, 0, revokeOnRefresh)

	return m, codec, store
}

func TestManager_IssueVerify(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, false)
	email := gofakeit.Email()

	tok, err := m.Issue(email)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.JTI)
	assert.WithinDuration(t, time.Now().Add(jwt.DefaultTTL), tok.ExpiresAt, 2*time.Second)

	claims, err := m.Verify(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, email, claims.Subject)
	assert.Equal(t, tok.JTI, claims.ID)
}

func TestManager_Verify_Rejects(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, false)

	noJTI, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{
		Subject:   gofakeit.Email(),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noSubject, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{
		ID:        "jti",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{name: "garbage", token: "garbage", want: jwt.ErrInvalidToken},
		{name: "missing jti", token: noJTI, want: ErrMalformedToken},
		{name: "missing subject", token: noSubject, want: ErrMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := m.Verify(ctx, tt.token)
			assert.Nil(t, claims)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsInvalid(err))
		})
	}
}

func TestManager_Verify_ExpiredAfterWait(t *testing.T) {
	ctx := context.Background()
	m, codec, _ := newTestManager(t, false)

	token, _, err := codec.Encode(gofakeit.Email(), time.Second)
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	claims, err := m.Verify(ctx, token)
	assert.Nil(t, claims)
	assert.ErrorIs(t, err, jwt.ErrExpiredToken)
	assert.True(t, IsInvalid(err))
}

func TestManager_Revoke(t *testing.T) {
	ctx := context.Background()
	m, codec, store := newTestManager(t, false)

	tok, err := m.Issue(gofakeit.Email())
	require.NoError(t, err)

	already, err := m.Revoke(ctx, tok.Value)
	require.NoError(t, err)
	assert.False(t, already)

	for i := 0; i < 3; i++ {
		_, err := m.Verify(ctx, tok.Value)
		assert.ErrorIs(t, err, ErrRevokedToken)
	}

	// the codec alone still accepts it
	claims, err := codec.Decode(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, tok.JTI, claims.ID)

	already, err = m.Revoke(ctx, tok.Value)
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, 1, store.len())
}

func TestManager_Revoke_Expired(t *testing.T) {
	ctx := context.Background()
	m, _, store := newTestManager(t, false)

	expired, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{
		Subject:   gofakeit.Email(),
		ID:        "expired-jti",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	already, err := m.Revoke(ctx, expired)
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, 1, store.len())
}

func TestManager_Revoke_Malformed(t *testing.T) {
	ctx := context.Background()
	m, _, store := newTestManager(t, false)

	foreign, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{
		Subject:   gofakeit.Email(),
		ID:        "jti",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	noJTI, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, gjwt.RegisteredClaims{
		Subject:   gofakeit.Email(),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	for _, token := range []string{"", "garbage", foreign, noJTI} {
		_, err := m.Revoke(ctx, token)
		assert.ErrorIs(t, err, ErrMalformedToken)
	}
	assert.Zero(t, store.len())
}

func TestManager_Revoke_Concurrent(t *testing.T) {
	ctx := context.Background()
	m, _, store := newTestManager(t, false)

	tok, err := m.Issue(gofakeit.Email())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Revoke(ctx, tok.Value)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.len())
}

func TestManager_VerifyAndRefresh_NotNeeded(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, false)

	tok, err := m.Issue(gofakeit.Email())
	require.NoError(t, err)

	res, err := m.VerifyAndRefresh(ctx, tok.Value, 0)
	require.NoError(t, err)
	assert.False(t, res.NeedsRefresh())
	assert.Nil(t, res.NewToken)
	assert.Equal(t, tok.JTI, res.Claims.ID)
}

func TestManager_VerifyAndRefresh_NearExpiry(t *testing.T) {
	ctx := context.Background()
	m, codec, _ := newTestManager(t, false)
	email := gofakeit.Email()

	token, old, err := codec.Encode(email, 30*time.Second)
	require.NoError(t, err)

	res, err := m.VerifyAndRefresh(ctx, token, DefaultRefreshTolerance)
	require.NoError(t, err)
	require.True(t, res.NeedsRefresh())

	fresh, err := codec.Decode(res.NewToken.Value)
	require.NoError(t, err)
	assert.Equal(t, email, fresh.Subject)
	assert.NotEqual(t, old.ID, fresh.ID)
	assert.True(t, fresh.ExpiresAt.Time.After(old.ExpiresAt.Time))

	// the old token stays usable until it expires
	_, err = m.Verify(ctx, token)
	assert.NoError(t, err)
}

func TestManager_VerifyAndRefresh_ToleranceBoundary(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, false)

	tok, err := m.Issue(gofakeit.Email())
	require.NoError(t, err)

	res, err := m.VerifyAndRefresh(ctx, tok.Value, jwt.DefaultTTL+time.Minute)
	require.NoError(t, err)
	assert.True(t, res.NeedsRefresh())

	res, err = m.VerifyAndRefresh(ctx, tok.Value, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.NeedsRefresh())
}

func TestManager_VerifyAndRefresh_RevokeOnRefresh(t *testing.T) {
	ctx := context.Background()
	m, codec, store := newTestManager(t, true)

	token, _, err := codec.Encode(gofakeit.Email(), 30*time.Second)
	require.NoError(t, err)

	res, err := m.VerifyAndRefresh(ctx, token, 0)
	require.NoError(t, err)
	require.True(t, res.NeedsRefresh())
	assert.Equal(t, 1, store.len())

	_, err = m.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrRevokedToken)

	_, err = m.Verify(ctx, res.NewToken.Value)
	assert.NoError(t, err)
}

func TestManager_VerifyAndRefresh_Invalid(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, false)

	tok, err := m.Issue(gofakeit.Email())
	require.NoError(t, err)
	_, err = m.Revoke(ctx, tok.Value)
	require.NoError(t, err)

	res, err := m.VerifyAndRefresh(ctx, tok.Value, 0)
	assert.Nil(t, res)
	assert.True(t, IsInvalid(err))
}

func TestManager_StorageFailure(t *testing.T) {
	ctx := context.Background()
	m, _, store := newTestManager(t, false)

	tok, err := m.Issue(gofakeit.Email())
	require.NoError(t, err)

	storeErr := errors.New("disk on fire")
	store.err = storeErr

	_, err = m.Verify(ctx, tok.Value)
	assert.ErrorIs(t, err, storeErr)
	assert.False(t, IsInvalid(err))

	_, err = m.Revoke(ctx, tok.Value)
	assert.ErrorIs(t, err, storeErr)
	assert.False(t, IsInvalid(err))
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestManager_Clock(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Now().Truncate(time.Second)}

	codec, err := jwt.New(jwt.Config{Secret: testSecret, TTL: 10 * time.Minute, Now: clock.Now})
	require.NoError(t, err)
	m := New(slogdiscard.NewDiscardLogger(), codec, newMemoryStore(), 0, false)

	tok, err := m.Issue(gofakeit.Email())
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), m.Now())

	clock.Advance(7 * time.Minute)
	res, err := m.VerifyAndRefresh(ctx, tok.Value, 0)
	require.NoError(t, err)
	assert.False(t, res.NeedsRefresh())

	clock.Advance(2*time.Minute + time.Second)
	res, err = m.VerifyAndRefresh(ctx, tok.Value, 0)
	require.NoError(t, err)
	require.True(t, res.NeedsRefresh())
	assert.Equal(t, clock.Now().Add(10*time.Minute).Unix(), res.NewToken.ExpiresAt.Unix())

	clock.Advance(time.Minute)
	_, err = m.Verify(ctx, tok.Value)
	assert.ErrorIs(t, err, jwt.ErrExpiredToken)

	_, err = m.Verify(ctx, res.NewToken.Value)
	assert.NoError(t, err)
}

func TestNew_DefaultTolerance(t *testing.T) {
	m, _, _ := newTestManager(t, false)

	assert.Equal(t, DefaultRefreshTolerance, m.RefreshTolerance())
	assert.Equal(t, jwt.DefaultTTL, m.TTL())
}
