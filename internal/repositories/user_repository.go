package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"chat-backend/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, email, username, avatar, is_online, last_seen, invite_code, created_at`

// UserRepository abstracts user persistence.
type UserRepository interface {
	CreateUser(ctx context.Context, email, username string) (models.User, error)
	GetUser(ctx context.Context, userID string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	GetUserByInviteCode(ctx context.Context, inviteCode string) (models.User, error)
	UpdateInviteCode(ctx context.Context, userID, inviteCode string) (models.User, error)
	SetOnlineStatus(ctx context.Context, userID string, online bool) error
	SearchUsers(ctx context.Context, query, excludeUserID string) ([]models.PublicUser, error)
	FilterExistingIDs(ctx context.Context, ids []string) ([]string, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// CreateUser inserts a new account and returns the stored row.
func (r *UserRepo) CreateUser(ctx context.Context, email, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`INSERT INTO users (id, email, username) VALUES ($1, $2, $3) RETURNING `+userColumns,
		uuid.NewString(), email, username)
	return user, err
}

// GetUser fetches a user by id.
func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.User, error) {
	return r.getBy(ctx, `id`, userID)
}

// GetUserByEmail fetches a user by email.
func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.getBy(ctx, `email`, email)
}

// GetUserByUsername fetches a user by display name.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return r.getBy(ctx, `username`, username)
}

// GetUserByInviteCode fetches the user holding the given invite code.
func (r *UserRepo) GetUserByInviteCode(ctx context.Context, inviteCode string) (models.User, error) {
	return r.getBy(ctx, `invite_code`, inviteCode)
}

func (r *UserRepo) getBy(ctx context.Context, column, value string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE `+column+`=$1`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// UpdateInviteCode stores a fresh invite code and returns the updated row.
func (r *UserRepo) UpdateInviteCode(ctx context.Context, userID, inviteCode string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user,
		`UPDATE users SET invite_code=$1 WHERE id=$2 RETURNING `+userColumns, inviteCode, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// SetOnlineStatus persists the presence flag and refreshes last_seen.
func (r *UserRepo) SetOnlineStatus(ctx context.Context, userID string, online bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_online=$1, last_seen=NOW() WHERE id=$2`, online, userID)
	return err
}

// SearchUsers matches username or email substrings, excluding the caller.
func (r *UserRepo) SearchUsers(ctx context.Context, query, excludeUserID string) ([]models.PublicUser, error) {
	users := []models.PublicUser{}
	pattern := "%" + query + "%"
	err := r.db.SelectContext(ctx, &users,
		`SELECT id, username, email, avatar, is_online FROM users
         WHERE id != $1 AND (username ILIKE $2 OR email ILIKE $2)
         ORDER BY username LIMIT 10`, excludeUserID, pattern)
	return users, err
}

// FilterExistingIDs returns the subset of ids that resolve to real users.
func (r *UserRepo) FilterExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var existing []string
	err = r.db.SelectContext(ctx, &existing, r.db.Rebind(query), args...)
	return existing, err
}
