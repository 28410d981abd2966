package models

import "time"

// ChatType distinguishes one-to-one chats from groups.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// LastMessage is the denormalized preview of the newest message in a chat.
type LastMessage struct {
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Chat represents a private or group conversation.
// FriendlyNames and PhotoURLs are snapshots taken at creation time and are not kept in sync
// with later profile changes.
type Chat struct {
	ID            string            `json:"id"`
	Type          ChatType          `json:"type"`
	Participants  []string          `json:"participants"`
	FriendlyNames map[string]string `json:"friendly_names"`
	PhotoURLs     map[string]string `json:"photo_urls"`
	Name          string            `json:"name,omitempty"`
	AvatarURL     string            `json:"avatar_url,omitempty"`
	CreatedBy     string            `json:"created_by"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	LastMessage   *LastMessage      `json:"last_message"`
	UnreadCounts  map[string]int    `json:"unread_counts"`
	TypingUsers   []string          `json:"typing_users"`
	Version       int64             `json:"version"`
}

// IsDraft reports whether the chat has not seen any message yet.
func (c Chat) IsDraft() bool {
	return c.LastMessage == nil
}

// HasParticipant reports whether uid belongs to the chat.
func (c Chat) HasParticipant(uid string) bool {
	for _, p := range c.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

// OtherParticipant returns the counterpart of uid in a private chat.
func (c Chat) OtherParticipant(uid string) string {
	for _, p := range c.Participants {
		if p != uid {
			return p
		}
	}
	return ""
}

// IsPrivatePair reports whether the chat is the private chat between a and b.
func (c Chat) IsPrivatePair(a, b string) bool {
	if c.Type != ChatTypePrivate || len(c.Participants) != 2 {
		return false
	}
	return (c.Participants[0] == a && c.Participants[1] == b) ||
		(c.Participants[0] == b && c.Participants[1] == a)
}

// Clone returns a deep copy so callers can mutate maps and slices freely.
func (c Chat) Clone() Chat {
	out := c
	out.Participants = append([]string(nil), c.Participants...)
	out.TypingUsers = append([]string(nil), c.TypingUsers...)
	out.FriendlyNames = cloneStrings(c.FriendlyNames)
	out.PhotoURLs = cloneStrings(c.PhotoURLs)
	out.UnreadCounts = make(map[string]int, len(c.UnreadCounts))
	for k, v := range c.UnreadCounts {
		out.UnreadCounts[k] = v
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}

// ChatDisplay is the name and photo of a chat as seen by one viewer.
type ChatDisplay struct {
	Name     string `json:"name"`
	PhotoURL string `json:"photo_url"`
}

// ChatSummary is the chat-list entry for one viewer.
type ChatSummary struct {
	Chat
	Display    ChatDisplay `json:"display"`
	Unread     int         `json:"unread"`
	TypingText string      `json:"typing_text,omitempty"`
}

// ChatActivity is the chat-side effect of appending one message.
type ChatActivity struct {
	LastMessage  LastMessage
	UnreadCounts map[string]int
	CreatedBy    string
	UpdatedAt    time.Time
}

func cloneStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
