package models

import "time"

// MessageType is the payload kind of a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Message represents a chat message. SeenBy only ever grows.
type Message struct {
	ID        string      `json:"id"`
	ChatID    string      `json:"chat_id"`
	SenderID  string      `json:"sender_id"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
	Type      MessageType `json:"type"`
	SeenBy    []string    `json:"seen_by"`
}

// Cursor positions a page request strictly before a message.
type Cursor struct {
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
}

// CursorOf returns the cursor of m.
func CursorOf(m Message) Cursor {
	return Cursor{Timestamp: m.Timestamp, ID: m.ID}
}

// Older reports whether m sorts strictly before the cursor.
func (c Cursor) Older(m Message) bool {
	if m.Timestamp.Equal(c.Timestamp) {
		return m.ID < c.ID
	}
	return m.Timestamp.Before(c.Timestamp)
}

// MessagePage is one page of messages in ascending order.
type MessagePage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// SeenByUser reports whether uid has seen m.
func (m Message) SeenByUser(uid string) bool {
	for _, id := range m.SeenBy {
		if id == uid {
			return true
		}
	}
	return false
}

// MessageLess orders messages by timestamp, then id.
func MessageLess(a, b Message) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ID < b.ID
	}
	return a.Timestamp.Before(b.Timestamp)
}
