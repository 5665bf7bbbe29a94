// Schema lives in ./migrations and is applied with Migrate or: go run ./cmd/migrator --storage-path=./storage/blog.db
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"blog/internal/domain/models"
	"blog/internal/storage"

	"github.com/mattn/go-sqlite3"
)

// Writers wait this long for a competing write lock instead of failing with SQLITE_BUSY.
const busyTimeoutMs = 5000

type Storage struct {
	db *sql.DB
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", dsn(storagePath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, username, email string, passHash []byte) (int64, error) {
	const op = "storage.sqlite.SaveUser"

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO users (username, email, hashed_password, is_active, activate_at)
		VALUES (?, ?, ?, 1, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx, username, email, passHash, time.Now().UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// ActiveUserByEmail returns storage.ErrUserNotFound both for unknown and deactivated users.
func (s *Storage) ActiveUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.sqlite.ActiveUserByEmail"

	return s.user(ctx, op, "WHERE email = ? AND is_active = 1", email)
}

func (s *Storage) UserByID(ctx context.Context, id int64) (models.User, error) {
	const op = "storage.sqlite.UserByID"

	return s.user(ctx, op, "WHERE id = ?", id)
}

func (s *Storage) user(ctx context.Context, op, where string, args ...any) (models.User, error) {
	stmt, err := s.db.PrepareContext(ctx, `
		SELECT id, username, email, hashed_password, is_active, activate_at, deactivated_at
		FROM users `+where)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	var (
		user          models.User
		email         sql.NullString
		activateAt    sql.NullTime
		deactivatedAt sql.NullTime
	)
	err = stmt.QueryRowContext(ctx, args...).Scan(
		&user.ID, &user.Username, &email, &user.HashedPassword, &user.IsActive, &activateAt, &deactivatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user.Email = email.String
	if activateAt.Valid {
		user.ActivateAt = &activateAt.Time
	}
	if deactivatedAt.Valid {
		user.DeactivatedAt = &deactivatedAt.Time
	}

	return user, nil
}

// FindActiveUser returns the active user matching every non-zero field of lookup.
func (s *Storage) FindActiveUser(ctx context.Context, lookup models.UserLookup) (models.User, error) {
	const op = "storage.sqlite.FindActiveUser"

	if lookup.IsEmpty() {
		return models.User{}, fmt.Errorf("%s: empty lookup", op)
	}

	conds := []string{"is_active = 1"}
	var args []any
	if lookup.ID != 0 {
		conds = append(conds, "id = ?")
		args = append(args, lookup.ID)
	}
	if lookup.Email != "" {
		conds = append(conds, "email = ?")
		args = append(args, lookup.Email)
	}
	if lookup.Username != "" {
		conds = append(conds, "username = ?")
		args = append(args, lookup.Username)
	}

	return s.user(ctx, op, "WHERE "+strings.Join(conds, " AND "), args...)
}

// DeactivateUser frees the username and email of the account and disables it.
func (s *Storage) DeactivateUser(ctx context.Context, id int64, at time.Time) error {
	const op = "storage.sqlite.DeactivateUser"

	stmt, err := s.db.PrepareContext(ctx, `
		UPDATE users
		SET username = ?, email = NULL, hashed_password = ?, is_active = 0, deactivated_at = ?
		WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	username := fmt.Sprintf("deactivated_%d_%d", at.Unix(), id)

	res, err := stmt.ExecContext(ctx, username, []byte("deactivated"), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

func (s *Storage) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) (bool, error) {
	const op = "storage.sqlite.RevokeToken"

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO token_blacklist (jti, expires_at, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (jti) DO NOTHING
	`)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx, jti, expiresAt.Unix(), time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n == 1, nil
}

func (s *Storage) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	const op = "storage.sqlite.IsTokenRevoked"

	stmt, err := s.db.PrepareContext(ctx, "SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE jti = ?)")
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	var revoked bool
	if err := stmt.QueryRowContext(ctx, jti).Scan(&revoked); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return revoked, nil
}

func (s *Storage) PurgeRevokedTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.sqlite.PurgeRevokedTokens"

	stmt, err := s.db.PrepareContext(ctx, "DELETE FROM token_blacklist WHERE expires_at < ?")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

func dsn(storagePath string) string {
	sep := "?"
	if strings.Contains(storagePath, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d&_journal_mode=WAL", storagePath, sep, busyTimeoutMs)
}
