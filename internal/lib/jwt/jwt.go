package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTTL = 10 * time.Minute

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = fmt.Errorf("%w: token expired", ErrInvalidToken)
	ErrInvalidConfig = errors.New("invalid token codec config")
)

// Claims carried by a session token. Subject is the user's email and ID is the jti.
type Claims struct {
	jwt.RegisteredClaims
}

// Config is read once at startup and never changes for the lifetime of a Codec.
type Config struct {
	Secret string
	// Method is one of HS256, HS384, HS512. Empty means HS256.
	Method string
	// TTL is the default token lifetime. Zero means DefaultTTL.
	TTL time.Duration
	// Now is the clock used to issue and expire tokens. Nil means time.Now.
	Now func() time.Time
}

// Codec signs and verifies session tokens with a single symmetric secret.
// It holds no mutable state and is safe for concurrent use.
type Codec struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	now    func() time.Time
}

func New(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidConfig)
	}

	var method *jwt.SigningMethodHMAC
	switch strings.ToUpper(cfg.Method) {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrInvalidConfig, cfg.Method)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < 0 {
		return nil, fmt.Errorf("%w: negative ttl", ErrInvalidConfig)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Codec{
		secret: []byte(cfg.Secret),
		method: method,
		ttl:    ttl,
		now:    now,
	}, nil
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Now reads the codec clock.
func (c *Codec) Now() time.Time {
	return c.now()
}

// Encode issues a token for subject that expires after ttl. A non-positive
// ttl uses the codec default. Every call gets a fresh jti.
func (c *Codec) Encode(subject string, ttl time.Duration) (string, *Claims, error) {
	if subject == "" {
		return "", nil, errors.New("not enough data for token generation")
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	now := c.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        generateJTI(),
		},
	}

	token, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, err
	}

	return token, claims, nil
}

// Decode verifies the signature and expiry of tokenString.
// It does not know about revocation.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	return c.parse(tokenString, jwt.WithExpirationRequired())
}

// DecodeAllowExpired verifies only the signature, so tokens this codec issued
// can still be inspected after they expire.
func (c *Codec) DecodeAllowExpired(tokenString string) (*Claims, error) {
	return c.parse(tokenString, jwt.WithoutClaimsValidation())
}

func (c *Codec) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithValidMethods([]string{c.method.Alg()}), jwt.WithTimeFunc(c.now))

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrInvalidToken)
	}

	return claims, nil
}

// Remaining is the time left until claims expire, relative to now.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}

func generateJTI() string {
	return uuid.New().String()
}
