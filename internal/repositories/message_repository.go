package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"hive-chat/internal/models"
)

// MessageRepository reads messages and maintains their seen sets.
type MessageRepository interface {
	ListMessages(ctx context.Context, chatID string, before *models.Cursor, limit int) ([]models.Message, error)
	MarkSeen(ctx context.Context, chatID string, uid string) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, chat_id, sender_id, text, type, seen_by, created_at`

type messageRow struct {
	ID        string         `db:"id"`
	ChatID    string         `db:"chat_id"`
	SenderID  string         `db:"sender_id"`
	Text      string         `db:"text"`
	Type      string         `db:"type"`
	SeenBy    pq.StringArray `db:"seen_by"`
	CreatedAt time.Time      `db:"created_at"`
}

func (row messageRow) toModel() models.Message {
	return models.Message{
		ID:        row.ID,
		ChatID:    row.ChatID,
		SenderID:  row.SenderID,
		Text:      row.Text,
		Type:      models.MessageType(row.Type),
		SeenBy:    []string(row.SeenBy),
		Timestamp: row.CreatedAt,
	}
}

// ListMessages returns up to limit messages strictly older than before, newest first.
// A nil cursor starts from the newest message.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID string, before *models.Cursor, limit int) ([]models.Message, error) {
	var (
		rows []messageRow
		err  error
	)
	if before == nil {
		err = r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
            WHERE chat_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, chatID, limit)
	} else {
		err = r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages
            WHERE chat_id=$1 AND (created_at, id) < ($2, $3) ORDER BY created_at DESC, id DESC LIMIT $4`,
			chatID, before.Timestamp, before.ID, limit)
	}
	if err != nil {
		return nil, storageError(err, "failed to load messages")
	}

	out := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// MarkSeen adds uid to the seen set of every message in the chat that lacks it.
func (r *MessageRepo) MarkSeen(ctx context.Context, chatID string, uid string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET seen_by = array_append(seen_by, $2)
        WHERE chat_id=$1 AND NOT ($2 = ANY(seen_by))`, chatID, uid)
	if err != nil {
		return 0, storageError(err, "failed to mark messages seen")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, storageError(err, "failed to mark messages seen")
	}
	return count, nil
}
