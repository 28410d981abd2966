package repositories

import (
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"hive-chat/internal/errorx"
)

var (
	ErrChatNotFound         = errorx.NotFound("chat not found")
	ErrFriendshipNotFound   = errorx.NotFound("friend request not found")
	ErrProfileNotFound      = errorx.NotFound("profile not found")
	ErrNotificationNotFound = errorx.NotFound("notification not found")

	// ErrVersionConflict means the chat changed between read and conditional write.
	ErrVersionConflict = errors.New("chat version conflict")
	// ErrDuplicateChat means a private chat for the pair already exists.
	ErrDuplicateChat = errors.New("private chat already exists for pair")
	// ErrStatusChanged means a friendship was no longer in the expected status.
	ErrStatusChanged = errors.New("friendship status changed")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func storageError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errorx.Transient(err, msg)
}

// marshalMap encodes a map for a JSONB parameter. lib/pq sends []byte as bytea, so a string is returned.
func marshalMap(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return "{}", nil
	}
	return string(data), nil
}

func unmarshalStrings(data []byte) map[string]string {
	out := map[string]string{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &out)
	}
	return out
}

func unmarshalCounts(data []byte) map[string]int {
	out := map[string]int{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &out)
	}
	return out
}
