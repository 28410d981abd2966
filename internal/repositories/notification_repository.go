package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"hive-chat/internal/models"
)

// NotificationRepository stores activity notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error)
	ListPending(ctx context.Context, uid string, since time.Time) ([]models.Notification, error)
	RemoveParticipant(ctx context.Context, notificationID string, uid string) error
}

// NotificationRepo is a sqlx implementation of NotificationRepository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs a NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

type notificationRow struct {
	ID           string         `db:"id"`
	Text         string         `db:"text"`
	Participants pq.StringArray `db:"participants"`
	ChatID       sql.NullString `db:"chat_id"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (row notificationRow) toModel() models.Notification {
	n := models.Notification{
		ID:           row.ID,
		Text:         row.Text,
		Participants: []string(row.Participants),
		CreatedAt:    row.CreatedAt,
	}
	if row.ChatID.Valid {
		chatID := row.ChatID.String
		n.ChatID = &chatID
	}
	return n
}

// CreateNotification stores n.
func (r *NotificationRepo) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	var chatID sql.NullString
	if n.ChatID != nil {
		chatID = sql.NullString{String: *n.ChatID, Valid: true}
	}
	var row notificationRow
	err := r.db.QueryRowxContext(ctx, `INSERT INTO notifications (id, text, participants, chat_id, created_at)
        VALUES ($1, $2, $3, $4, $5) RETURNING id, text, participants, chat_id, created_at`,
		n.ID, n.Text, pq.StringArray(n.Participants), chatID, n.CreatedAt).StructScan(&row)
	if err != nil {
		return models.Notification{}, storageError(err, "failed to store notification")
	}
	return row.toModel(), nil
}

// ListPending returns notifications still addressed to uid and created at or after since, oldest first.
func (r *NotificationRepo) ListPending(ctx context.Context, uid string, since time.Time) ([]models.Notification, error) {
	var rows []notificationRow
	err := r.db.SelectContext(ctx, &rows, `SELECT id, text, participants, chat_id, created_at FROM notifications
        WHERE $1 = ANY(participants) AND created_at >= $2 ORDER BY created_at ASC, id ASC`, uid, since)
	if err != nil {
		return nil, storageError(err, "failed to load notifications")
	}
	out := make([]models.Notification, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// RemoveParticipant drops uid from the recipients of a notification. Removing an absent uid is a no-op.
func (r *NotificationRepo) RemoveParticipant(ctx context.Context, notificationID string, uid string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET participants = array_remove(participants, $2) WHERE id=$1`, notificationID, uid)
	if err != nil {
		return storageError(err, "failed to update notification")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return storageError(err, "failed to update notification")
	}
	if count == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
