package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"hive-chat/internal/models"
)

// ProfileRepository is the public profile directory.
type ProfileRepository interface {
	UpsertProfile(ctx context.Context, profile models.Profile) (models.Profile, error)
	GetProfile(ctx context.Context, uid string) (models.Profile, error)
	FindByDisplayName(ctx context.Context, displayName string) ([]models.Profile, error)
	SearchByPrefix(ctx context.Context, prefix string, limit int) ([]models.Profile, error)
}

// ProfileRepo is a sqlx implementation of ProfileRepository.
type ProfileRepo struct {
	db *sqlx.DB
}

// NewProfileRepo constructs a ProfileRepo.
func NewProfileRepo(db *sqlx.DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

// UpsertProfile inserts the profile or refreshes its display fields. created_at is kept.
func (r *ProfileRepo) UpsertProfile(ctx context.Context, profile models.Profile) (models.Profile, error) {
	var out models.Profile
	err := r.db.GetContext(ctx, &out, `INSERT INTO user_profiles (uid, display_name, photo_url, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (uid) DO UPDATE SET display_name = EXCLUDED.display_name, photo_url = EXCLUDED.photo_url
        RETURNING uid, display_name, photo_url, created_at`,
		profile.UID, profile.DisplayName, profile.PhotoURL, profile.CreatedAt)
	if err != nil {
		return models.Profile{}, storageError(err, "failed to save profile")
	}
	return out, nil
}

// GetProfile fetches a profile by uid.
func (r *ProfileRepo) GetProfile(ctx context.Context, uid string) (models.Profile, error) {
	var out models.Profile
	err := r.db.GetContext(ctx, &out, `SELECT uid, display_name, photo_url, created_at FROM user_profiles WHERE uid=$1`, uid)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return models.Profile{}, storageError(err, "failed to load profile")
	}
	return out, nil
}

// FindByDisplayName returns exact matches, oldest first.
func (r *ProfileRepo) FindByDisplayName(ctx context.Context, displayName string) ([]models.Profile, error) {
	var out []models.Profile
	err := r.db.SelectContext(ctx, &out, `SELECT uid, display_name, photo_url, created_at FROM user_profiles
        WHERE display_name=$1 ORDER BY created_at ASC, uid ASC`, displayName)
	if err != nil {
		return nil, storageError(err, "failed to look up profile")
	}
	return out, nil
}

// SearchByPrefix returns profiles whose display name starts with prefix, newest first.
func (r *ProfileRepo) SearchByPrefix(ctx context.Context, prefix string, limit int) ([]models.Profile, error) {
	var out []models.Profile
	err := r.db.SelectContext(ctx, &out, `SELECT uid, display_name, photo_url, created_at FROM user_profiles
        WHERE display_name LIKE $1 ESCAPE '\' ORDER BY created_at DESC, uid ASC LIMIT $2`, escapeLike(prefix)+"%", limit)
	if err != nil {
		return nil, storageError(err, "failed to search profiles")
	}
	return out, nil
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
