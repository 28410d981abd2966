package models

import "time"

// Notification is an activity alert. Participants lists the recipients that have not handled it yet.
type Notification struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	Participants []string  `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
	ChatID       *string   `json:"chat_id"`
}

// ForChat reports whether the notification belongs to chatID.
func (n Notification) ForChat(chatID string) bool {
	return n.ChatID != nil && *n.ChatID == chatID
}

// PresenceState is the coarse connectivity of a user.
type PresenceState string

const (
	PresenceUnknown PresenceState = "unknown"
	PresenceOnline  PresenceState = "online"
	PresenceOffline PresenceState = "offline"
)

// PresenceStatus is the stored presence record for a user.
type PresenceStatus struct {
	UID         string        `json:"uid"`
	State       PresenceState `json:"state"`
	LastChanged time.Time     `json:"last_changed"`
}
