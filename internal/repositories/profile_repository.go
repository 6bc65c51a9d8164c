package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"relay-service/internal/models"
)

var ErrProfileNotFound = errors.New("profile not found")

// ProfileRepository persists recipient profiles fetched from the backend.
type ProfileRepository interface {
	Get(ctx context.Context, userID string) (models.Profile, error)
	Put(ctx context.Context, profile models.Profile) error
}

// ProfileRepo is a sqlx-backed profile store.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// Get fetches a cached profile.
func (r *ProfileRepo) Get(ctx context.Context, userID string) (models.Profile, error) {
	var profile models.Profile
	err := r.db.GetContext(ctx, &profile, `SELECT user_id, username, avatar_url, fetched_at FROM profiles WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrProfileNotFound
	}
	return profile, err
}

// Put upserts a profile.
func (r *ProfileRepo) Put(ctx context.Context, profile models.Profile) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO profiles (user_id, username, avatar_url, fetched_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET username = excluded.username, avatar_url = excluded.avatar_url, fetched_at = excluded.fetched_at`,
		profile.UserID, profile.Username, profile.AvatarURL, profile.FetchedAt)
	return err
}
