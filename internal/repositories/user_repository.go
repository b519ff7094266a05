package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messenger/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads accounts and persists their presence record.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	ListUsersExcept(ctx context.Context, userID string) ([]models.User, error)
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string, lastSeen time.Time) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, username, email, is_online, last_seen, created_at`

// CreateUser inserts an account. Account management lives elsewhere; this is
// used for seeding and tests.
func (r *UserRepo) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	ts := now()
	if user.LastSeen.IsZero() {
		user.LastSeen = ts
	}
	user.CreatedAt = ts
	user.IsOnline = false

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO users (id, username, email, is_online, last_seen, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		user.ID, user.Username, user.Email, user.IsOnline, user.LastSeen, user.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id=?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ListUsersExcept returns every other user ordered by username.
func (r *UserRepo) ListUsersExcept(ctx context.Context, userID string) ([]models.User, error) {
	var users []models.User
	err := r.db.SelectContext(ctx, &users, r.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id<>? ORDER BY username ASC`), userID)
	return users, err
}

// MarkOnline sets the online flag, leaving last_seen untouched.
func (r *UserRepo) MarkOnline(ctx context.Context, userID string) error {
	return r.setPresence(ctx, `UPDATE users SET is_online=? WHERE id=?`, true, userID)
}

// MarkOffline clears the online flag and records last_seen.
func (r *UserRepo) MarkOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	return r.setPresence(ctx, `UPDATE users SET is_online=?, last_seen=? WHERE id=?`, false, lastSeen, userID)
}

func (r *UserRepo) setPresence(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
