package models

import (
	"sort"
	"time"
)

// FriendshipStatus is the lifecycle state of a friend request.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipDeclined FriendshipStatus = "declined"
)

// Friendship links an unordered pair of users. Participants are kept sorted.
type Friendship struct {
	ID            string            `json:"id"`
	Participants  []string          `json:"participants"`
	Status        FriendshipStatus  `json:"status"`
	InitiatedBy   string            `json:"initiated_by"`
	FriendlyNames map[string]string `json:"friendly_names"`
	PhotoURLs     map[string]string `json:"photo_urls"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Other returns the participant that is not uid.
func (f Friendship) Other(uid string) string {
	for _, p := range f.Participants {
		if p != uid {
			return p
		}
	}
	return ""
}

// HasParticipant reports whether uid is one side of the friendship.
func (f Friendship) HasParticipant(uid string) bool {
	for _, p := range f.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

// Friend is an accepted friendship projected onto the other user.
type Friend struct {
	FriendshipID string `json:"friendship_id"`
	UID          string `json:"uid"`
	DisplayName  string `json:"display_name"`
	PhotoURL     string `json:"photo_url"`
}

// Invitations splits pending friendships by direction.
type Invitations struct {
	Sent     []Friendship `json:"sent"`
	Received []Friendship `json:"received"`
}

// CanonicalPair sorts two uids so the pair has a single representation.
func CanonicalPair(a, b string) [2]string {
	pair := []string{a, b}
	sort.Strings(pair)
	return [2]string{pair[0], pair[1]}
}

// PairKey returns a stable key for the unordered pair {a, b}.
func PairKey(a, b string) string {
	pair := CanonicalPair(a, b)
	return pair[0] + ":" + pair[1]
}
