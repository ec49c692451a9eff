package repositories

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-sync/internal/apperr"
	"chat-sync/internal/models"
)

var ErrEmailTaken = apperr.InvalidArg("email already registered")

// UserRepository abstracts the user directory.
type UserRepository interface {
	UpsertUser(ctx context.Context, u models.User) (models.User, error)
	GetUserByID(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateProfileImage(ctx context.Context, id, url string) error
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// UpsertUser creates the user or updates its email and username.
func (r *UserRepo) UpsertUser(ctx context.Context, u models.User) (models.User, error) {
	var stored models.User
	err := r.db.GetContext(ctx, &stored, `INSERT INTO users (id, email, username, profile_image_url)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE SET email=EXCLUDED.email, username=EXCLUDED.username
        RETURNING `+userColumns, u.ID, u.Email, u.Username, u.ProfileImageURL)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.User{}, ErrEmailTaken
		}
		return models.User{}, writeErr("upsert user", err)
	}
	return stored, nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	if err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id=$1`, id); err != nil {
		return models.User{}, readErr("get user", err, apperr.ErrUserNotFound)
	}
	return u, nil
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	if err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email=$1`, email); err != nil {
		return models.User{}, readErr("get user by email", err, apperr.ErrUserNotFound)
	}
	return u, nil
}

// ListUsers returns every user ordered by username.
func (r *UserRepo) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY username ASC, id ASC`); err != nil {
		return nil, readErr("list users", err, apperr.ErrUserNotFound)
	}
	return users, nil
}

func (r *UserRepo) UpdateProfileImage(ctx context.Context, id, url string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET profile_image_url=$2 WHERE id=$1`, id, url)
	if err != nil {
		return writeErr("update profile image", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return writeErr("update profile image", err)
	}
	if count == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}
