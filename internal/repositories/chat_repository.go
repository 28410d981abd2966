package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"hive-chat/internal/models"
)

// ChatRepository abstracts chat persistence. Messages are written through RecordMessage so the
// message row and the chat summary change together.
type ChatRepository interface {
	CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	ListChats(ctx context.Context, uid string) ([]models.Chat, error)
	ListPrivateChats(ctx context.Context, uid string) ([]models.Chat, error)
	ClaimDraft(ctx context.Context, chatID string, uid string, at time.Time) (bool, error)
	RecordMessage(ctx context.Context, msg models.Message, activity models.ChatActivity, expectedVersion int64) (models.Chat, error)
	ResetUnread(ctx context.Context, chatID string, uid string) error
	SetTyping(ctx context.Context, chatID string, uid string, typing bool) ([]string, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

const chatColumns = `id, type, participants, friendly_names, photo_urls, name, avatar_url, created_by, created_at, updated_at,
        last_message_text, last_message_sender, last_message_at, unread_counts, typing_users, version`

type chatRow struct {
	ID                string         `db:"id"`
	Type              string         `db:"type"`
	Participants      pq.StringArray `db:"participants"`
	FriendlyNames     []byte         `db:"friendly_names"`
	PhotoURLs         []byte         `db:"photo_urls"`
	Name              string         `db:"name"`
	AvatarURL         string         `db:"avatar_url"`
	CreatedBy         string         `db:"created_by"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	LastMessageText   sql.NullString `db:"last_message_text"`
	LastMessageSender sql.NullString `db:"last_message_sender"`
	LastMessageAt     sql.NullTime   `db:"last_message_at"`
	UnreadCounts      []byte         `db:"unread_counts"`
	TypingUsers       pq.StringArray `db:"typing_users"`
	Version           int64          `db:"version"`
}

func (row chatRow) toModel() models.Chat {
	chat := models.Chat{
		ID:            row.ID,
		Type:          models.ChatType(row.Type),
		Participants:  []string(row.Participants),
		FriendlyNames: unmarshalStrings(row.FriendlyNames),
		PhotoURLs:     unmarshalStrings(row.PhotoURLs),
		Name:          row.Name,
		AvatarURL:     row.AvatarURL,
		CreatedBy:     row.CreatedBy,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		UnreadCounts:  unmarshalCounts(row.UnreadCounts),
		TypingUsers:   []string(row.TypingUsers),
		Version:       row.Version,
	}
	if chat.TypingUsers == nil {
		chat.TypingUsers = []string{}
	}
	if row.LastMessageAt.Valid {
		chat.LastMessage = &models.LastMessage{
			Text:      row.LastMessageText.String,
			SenderID:  row.LastMessageSender.String,
			Timestamp: row.LastMessageAt.Time,
		}
	}
	return chat
}

// CreateChat inserts a chat. Private chats carry a unique pair key; a second private chat for the
// same pair yields ErrDuplicateChat.
func (r *ChatRepo) CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error) {
	names, err := marshalMap(chat.FriendlyNames)
	if err != nil {
		return models.Chat{}, err
	}
	photos, err := marshalMap(chat.PhotoURLs)
	if err != nil {
		return models.Chat{}, err
	}
	unread, err := marshalMap(chat.UnreadCounts)
	if err != nil {
		return models.Chat{}, err
	}

	var pairKey sql.NullString
	if chat.Type == models.ChatTypePrivate && len(chat.Participants) == 2 {
		pairKey = sql.NullString{String: models.PairKey(chat.Participants[0], chat.Participants[1]), Valid: true}
	}

	var row chatRow
	err = r.db.QueryRowxContext(ctx, `INSERT INTO chats (id, type, participants, pair_key, friendly_names, photo_urls, name, avatar_url,
        created_by, created_at, updated_at, unread_counts, typing_users, version)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '{}', 0) RETURNING `+chatColumns,
		chat.ID, string(chat.Type), pq.StringArray(chat.Participants), pairKey, names, photos, chat.Name, chat.AvatarURL,
		chat.CreatedBy, chat.CreatedAt, chat.UpdatedAt, unread).StructScan(&row)
	if isUniqueViolation(err) {
		return models.Chat{}, ErrDuplicateChat
	}
	if err != nil {
		return models.Chat{}, storageError(err, "failed to create chat")
	}
	return row.toModel(), nil
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	var row chatRow
	err := r.db.GetContext(ctx, &row, `SELECT `+chatColumns+` FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	if err != nil {
		return models.Chat{}, storageError(err, "failed to load chat")
	}
	return row.toModel(), nil
}

// ListChats returns the chats of uid, most recently active first.
func (r *ChatRepo) ListChats(ctx context.Context, uid string) ([]models.Chat, error) {
	return r.selectChats(ctx, `SELECT `+chatColumns+` FROM chats WHERE $1 = ANY(participants)
        ORDER BY updated_at DESC, id ASC`, uid)
}

// ListPrivateChats returns the private chats containing uid.
func (r *ChatRepo) ListPrivateChats(ctx context.Context, uid string) ([]models.Chat, error) {
	return r.selectChats(ctx, `SELECT `+chatColumns+` FROM chats WHERE type='private' AND $1 = ANY(participants)
        ORDER BY created_at ASC, id ASC`, uid)
}

func (r *ChatRepo) selectChats(ctx context.Context, query string, args ...any) ([]models.Chat, error) {
	var rows []chatRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, storageError(err, "failed to list chats")
	}
	out := make([]models.Chat, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// ClaimDraft makes uid the owner of a draft chat. It reports false when the chat already has a
// message or uid already owns it.
func (r *ChatRepo) ClaimDraft(ctx context.Context, chatID string, uid string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET created_by=$2, updated_at=$3, version=version+1
        WHERE id=$1 AND last_message_at IS NULL AND created_by <> $2`, chatID, uid, at)
	if err != nil {
		return false, storageError(err, "failed to claim chat")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, storageError(err, "failed to claim chat")
	}
	return count > 0, nil
}

// RecordMessage inserts msg and applies activity to its chat in one transaction, provided the
// chat is still at expectedVersion. The sender is removed from the typing set.
func (r *ChatRepo) RecordMessage(ctx context.Context, msg models.Message, activity models.ChatActivity, expectedVersion int64) (models.Chat, error) {
	unread, err := marshalMap(activity.UnreadCounts)
	if err != nil {
		return models.Chat{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, storageError(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `INSERT INTO messages (id, chat_id, sender_id, text, type, seen_by, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Text, string(msg.Type), pq.StringArray(msg.SeenBy), msg.Timestamp); err != nil {
		return models.Chat{}, storageError(err, "failed to store message")
	}

	var row chatRow
	err = tx.QueryRowxContext(ctx, `UPDATE chats SET last_message_text=$3, last_message_sender=$4, last_message_at=$5,
        updated_at=$6, unread_counts=$7, created_by=$8, typing_users=array_remove(typing_users, $4), version=version+1
        WHERE id=$1 AND version=$2 RETURNING `+chatColumns,
		msg.ChatID, expectedVersion, activity.LastMessage.Text, activity.LastMessage.SenderID, activity.LastMessage.Timestamp,
		activity.UpdatedAt, unread, activity.CreatedBy).StructScan(&row)
	if errors.Is(err, sql.ErrNoRows) {
		err = ErrVersionConflict
		return models.Chat{}, err
	}
	if err != nil {
		return models.Chat{}, storageError(err, "failed to update chat")
	}

	if err = tx.Commit(); err != nil {
		return models.Chat{}, storageError(err, "failed to commit message")
	}
	return row.toModel(), nil
}

// ResetUnread zeroes the unread counter of uid. Already-zero counters are left untouched so the
// chat version does not churn on every view.
func (r *ChatRepo) ResetUnread(ctx context.Context, chatID string, uid string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE chats SET unread_counts = jsonb_set(unread_counts, ARRAY[$2::text], '0'::jsonb, true),
        version = version + 1
        WHERE id=$1 AND COALESCE((unread_counts->>$2::text)::int, 0) <> 0`, chatID, uid)
	return storageError(err, "failed to reset unread count")
}

// SetTyping adds or removes uid from the typing set and returns the resulting set.
func (r *ChatRepo) SetTyping(ctx context.Context, chatID string, uid string, typing bool) ([]string, error) {
	query := `UPDATE chats SET typing_users = array_remove(typing_users, $2) WHERE id=$1 RETURNING typing_users`
	if typing {
		query = `UPDATE chats SET typing_users = CASE WHEN $2 = ANY(typing_users) THEN typing_users
            ELSE array_append(typing_users, $2) END WHERE id=$1 RETURNING typing_users`
	}

	var users pq.StringArray
	err := r.db.QueryRowxContext(ctx, query, chatID, uid).Scan(&users)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, storageError(err, "failed to update typing state")
	}
	if users == nil {
		return []string{}, nil
	}
	return []string(users), nil
}
