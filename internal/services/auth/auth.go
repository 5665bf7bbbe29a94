package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"blog/internal/domain/models"
	"blog/internal/lib/jwt"
	"blog/internal/lib/logger/sl"
	"blog/internal/services/tokens"
	"blog/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnknownSubject covers both a missing and a deactivated user.
	ErrUnknownSubject  = errors.New("user not found or inactive")
	ErrUserExists      = errors.New("email already registered")
	ErrForbidden       = errors.New("not allowed to modify this account")
	ErrInvalidPassword = errors.New("invalid password")
	ErrEmptyLookup     = errors.New("one of user_id, email or username is required")
	ErrUserNotFound    = errors.New("user not found")
)

type Auth struct {
	log          *slog.Logger
	userSaver    UserSaver
	userProvider UserProvider
	hasher       PasswordHasher
	tokens       TokenManager
}

type UserSaver interface {
	SaveUser(ctx context.Context, username, email string, passHash []byte) (uid int64, err error)
	DeactivateUser(ctx context.Context, id int64, at time.Time) error
}

type UserProvider interface {
	ActiveUserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
	FindActiveUser(ctx context.Context, lookup models.UserLookup) (models.User, error)
}

type PasswordHasher interface {
	Hash(password string) ([]byte, error)
	Verify(hash []byte, password string) bool
}

type TokenManager interface {
	Issue(subject string) (tokens.Token, error)
	VerifyAndRefresh(ctx context.Context, token string, tolerance time.Duration) (*tokens.Result, error)
	Revoke(ctx context.Context, token string) (alreadyRevoked bool, err error)
	TTL() time.Duration
	RefreshTolerance() time.Duration
	Now() time.Time
}

// LoginResult is what a successful login hands back to the client.
type LoginResult struct {
	UserID           int64
	Token            tokens.Token
	ExpiresIn        time.Duration
	RefreshThreshold time.Duration
}

// Session is an authenticated request: the resolved user, the verified claims
// and, when the presented token was close to expiry, its replacement.
type Session struct {
	User           models.User
	Claims         *jwt.Claims
	RefreshedToken *tokens.Token
}

func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	hasher PasswordHasher,
	tokenManager TokenManager,
) *Auth {
	return &Auth{
		log:          log,
		userSaver:    userSaver,
		userProvider: userProvider,
		hasher:       hasher,
		tokens:       tokenManager,
	}
}

// Register creates an active user.
func (a *Auth) Register(ctx context.Context, username, email, password string) (models.User, error) {
	const op = "Auth.Register"

	log := a.log.With(
		slog.String("op", op),
		slog.String("email", email),
	)

	log.Info("registering user")

	if err := ValidatePassword(password); err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := a.hasher.Hash(password)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := a.userSaver.SaveUser(ctx, username, email, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists", sl.Err(err))
			return models.User{}, fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		log.Error("failed to save user", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.userProvider.UserByID(ctx, id)
	if err != nil {
		log.Error("failed to load saved user", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Int64("user_id", id))

	return user, nil
}

// Login checks the credentials of an active user and issues a session token.
//
// Unknown email and wrong password both return ErrInvalidCredentials.
func (a *Auth) Login(ctx context.Context, email, password string) (LoginResult, error) {
	const op = "Auth.Login"

	log := a.log.With(
		slog.String("op", op),
		slog.String("email", email),
	)

	log.Info("attempting to login user")

	user, err := a.userProvider.ActiveUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return LoginResult{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		log.Error("failed to get user", sl.Err(err))
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	if !a.hasher.Verify(user.HashedPassword, password) {
		log.Info("invalid credentials")
		return LoginResult{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	token, err := a.tokens.Issue(user.Email)
	if err != nil {
		log.Error("failed to generate token", sl.Err(err))
		return LoginResult{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in successfully", slog.Int64("user_id", user.ID))

	return LoginResult{
		UserID:           user.ID,
		Token:            token,
		ExpiresIn:        time.Duration(token.ExpiresAt.Unix()-a.tokens.Now().Unix()) * time.Second,
		RefreshThreshold: a.tokens.RefreshTolerance(),
	}, nil
}

// Logout revokes token. alreadyRevoked is true when it had been revoked before.
func (a *Auth) Logout(ctx context.Context, token string) (alreadyRevoked bool, err error) {
	const op = "Auth.Logout"

	alreadyRevoked, err = a.tokens.Revoke(ctx, token)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return alreadyRevoked, nil
}

// Refresh verifies token and replaces it when it is close to expiry.
func (a *Auth) Refresh(ctx context.Context, token string) (*tokens.Result, error) {
	const op = "Auth.Refresh"

	res, err := a.tokens.VerifyAndRefresh(ctx, token, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return res, nil
}

// Authenticate turns a bearer token into a Session. Token rejections match
// jwt.ErrInvalidToken, a valid token for a missing or inactive user returns
// ErrUnknownSubject, anything else is a storage failure.
func (a *Auth) Authenticate(ctx context.Context, token string) (Session, error) {
	const op = "Auth.Authenticate"

	res, err := a.tokens.VerifyAndRefresh(ctx, token, 0)
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.Resolve(ctx, res.Claims.Subject)
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return Session{
		User:           user,
		Claims:         res.Claims,
		RefreshedToken: res.NewToken,
	}, nil
}

// Resolve maps a token subject to an active user.
func (a *Auth) Resolve(ctx context.Context, subject string) (models.User, error) {
	const op = "Auth.Resolve"

	user, err := a.userProvider.ActiveUserByEmail(ctx, subject)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, ErrUnknownSubject
		}

		a.log.Error("failed to resolve user", slog.String("op", op), sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// FindUser looks up an active user by id, email or username.
func (a *Auth) FindUser(ctx context.Context, lookup models.UserLookup) (models.User, error) {
	const op = "Auth.FindUser"

	if lookup.IsEmpty() {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrEmptyLookup)
	}

	user, err := a.userProvider.FindActiveUser(ctx, lookup)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		a.log.Error("failed to find user", slog.String("op", op), sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// DeactivateUser closes the account id on behalf of actor, who may only close their own.
func (a *Auth) DeactivateUser(ctx context.Context, actor models.User, id int64) error {
	const op = "Auth.DeactivateUser"

	log := a.log.With(
		slog.String("op", op),
		slog.Int64("user_id", id),
	)

	if actor.ID != id {
		log.Warn("refusing to deactivate another user", slog.Int64("actor_id", actor.ID))
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	if err := a.userSaver.DeactivateUser(ctx, id, time.Now()); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUnknownSubject)
		}

		log.Error("failed to deactivate user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user deactivated")
	return nil
}

var (
	passwordCharset = regexp.MustCompile(`^[a-zA-Z0-9!@#$%*.]+$`)
	passwordLetter  = regexp.MustCompile(`[a-zA-Z]`)
	passwordDigit   = regexp.MustCompile(`[0-9]`)
	passwordSpecial = regexp.MustCompile(`[!@#$%*]`)
)

const (
	minPasswordLen = 6
	// bcrypt ignores everything past 72 bytes
	maxPasswordLen = 72
)

// ValidatePassword enforces the registration password policy.
func ValidatePassword(password string) error {
	switch {
	case len(password) < minPasswordLen:
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidPassword, minPasswordLen)
	case len(password) > maxPasswordLen:
		return fmt.Errorf("%w: must be at most %d characters", ErrInvalidPassword, maxPasswordLen)
	case !passwordCharset.MatchString(password):
		return fmt.Errorf("%w: only letters, digits and !@#$%%*. are allowed", ErrInvalidPassword)
	case !passwordLetter.MatchString(password):
		return fmt.Errorf("%w: must contain a letter", ErrInvalidPassword)
	case !passwordDigit.MatchString(password):
		return fmt.Errorf("%w: must contain a digit", ErrInvalidPassword)
	case !passwordSpecial.MatchString(password):
		return fmt.Errorf("%w: must contain one of !@#$%%*", ErrInvalidPassword)
	}
	return nil
}
