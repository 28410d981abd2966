package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"hive-chat/internal/models"
)

// FriendshipRepository abstracts friendship persistence. The pair lookup and the insert are
// separate calls; nothing at this layer enforces one row per pair.
type FriendshipRepository interface {
	CreateFriendship(ctx context.Context, friendship models.Friendship) (models.Friendship, error)
	GetFriendship(ctx context.Context, id string) (models.Friendship, error)
	FindByPair(ctx context.Context, a, b string) (*models.Friendship, error)
	UpdateFriendshipStatus(ctx context.Context, id string, from, to models.FriendshipStatus, at time.Time) (models.Friendship, error)
	ListFriendships(ctx context.Context, uid string, status models.FriendshipStatus) ([]models.Friendship, error)
}

// FriendshipRepo is a sqlx implementation of FriendshipRepository.
type FriendshipRepo struct {
	db *sqlx.DB
}

// NewFriendshipRepo constructs a FriendshipRepo.
func NewFriendshipRepo(db *sqlx.DB) *FriendshipRepo {
	return &FriendshipRepo{db: db}
}

const friendshipColumns = `id, user_a, user_b, status, initiated_by, friendly_names, photo_urls, created_at, updated_at`

type friendshipRow struct {
	ID            string    `db:"id"`
	UserA         string    `db:"user_a"`
	UserB         string    `db:"user_b"`
	Status        string    `db:"status"`
	InitiatedBy   string    `db:"initiated_by"`
	FriendlyNames []byte    `db:"friendly_names"`
	PhotoURLs     []byte    `db:"photo_urls"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (row friendshipRow) toModel() models.Friendship {
	return models.Friendship{
		ID:            row.ID,
		Participants:  []string{row.UserA, row.UserB},
		Status:        models.FriendshipStatus(row.Status),
		InitiatedBy:   row.InitiatedBy,
		FriendlyNames: unmarshalStrings(row.FriendlyNames),
		PhotoURLs:     unmarshalStrings(row.PhotoURLs),
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

// CreateFriendship stores a new friendship with canonicalized participants.
func (r *FriendshipRepo) CreateFriendship(ctx context.Context, friendship models.Friendship) (models.Friendship, error) {
	pair := models.CanonicalPair(friendship.Participants[0], friendship.Participants[1])
	names, err := marshalMap(friendship.FriendlyNames)
	if err != nil {
		return models.Friendship{}, err
	}
	photos, err := marshalMap(friendship.PhotoURLs)
	if err != nil {
		return models.Friendship{}, err
	}

	var row friendshipRow
	err = r.db.QueryRowxContext(ctx, `INSERT INTO friendships (id, user_a, user_b, status, initiated_by, friendly_names, photo_urls, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING `+friendshipColumns,
		friendship.ID, pair[0], pair[1], string(friendship.Status), friendship.InitiatedBy, names, photos, friendship.CreatedAt, friendship.UpdatedAt).
		StructScan(&row)
	if err != nil {
		return models.Friendship{}, storageError(err, "failed to store friend request")
	}
	return row.toModel(), nil
}

// GetFriendship fetches a friendship by id.
func (r *FriendshipRepo) GetFriendship(ctx context.Context, id string) (models.Friendship, error) {
	var row friendshipRow
	err := r.db.GetContext(ctx, &row, `SELECT `+friendshipColumns+` FROM friendships WHERE id=$1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Friendship{}, ErrFriendshipNotFound
	}
	if err != nil {
		return models.Friendship{}, storageError(err, "failed to load friend request")
	}
	return row.toModel(), nil
}

// FindByPair returns the oldest friendship for the unordered pair, or nil.
func (r *FriendshipRepo) FindByPair(ctx context.Context, a, b string) (*models.Friendship, error) {
	pair := models.CanonicalPair(a, b)
	var row friendshipRow
	err := r.db.GetContext(ctx, &row, `SELECT `+friendshipColumns+` FROM friendships
        WHERE user_a=$1 AND user_b=$2 ORDER BY created_at ASC LIMIT 1`, pair[0], pair[1])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(err, "failed to look up friendship")
	}
	f := row.toModel()
	return &f, nil
}

// UpdateFriendshipStatus moves a friendship from one status to another.
// It returns ErrStatusChanged when the row is no longer in the from status.
func (r *FriendshipRepo) UpdateFriendshipStatus(ctx context.Context, id string, from, to models.FriendshipStatus, at time.Time) (models.Friendship, error) {
	var row friendshipRow
	err := r.db.QueryRowxContext(ctx, `UPDATE friendships SET status=$3, updated_at=$4
        WHERE id=$1 AND status=$2 RETURNING `+friendshipColumns, id, string(from), string(to), at).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Friendship{}, ErrStatusChanged
	}
	if err != nil {
		return models.Friendship{}, storageError(err, "failed to update friend request")
	}
	return row.toModel(), nil
}

// ListFriendships returns friendships containing uid with the given status, newest first.
func (r *FriendshipRepo) ListFriendships(ctx context.Context, uid string, status models.FriendshipStatus) ([]models.Friendship, error) {
	var rows []friendshipRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+friendshipColumns+` FROM friendships
        WHERE (user_a=$1 OR user_b=$1) AND status=$2 ORDER BY created_at DESC, id ASC`, uid, string(status))
	if err != nil {
		return nil, storageError(err, "failed to list friendships")
	}
	out := make([]models.Friendship, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
