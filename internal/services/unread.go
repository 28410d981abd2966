package services

import "hive-chat/internal/models"

// NextUnreadCounts returns the unread counts after sender posts: the sender is reset to zero
// and every other participant goes up by one.
func NextUnreadCounts(participants []string, previous map[string]int, sender string) map[string]int {
	next := make(map[string]int, len(participants))
	for _, uid := range participants {
		if uid == sender {
			next[uid] = 0
			continue
		}
		next[uid] = previous[uid] + 1
	}
	return next
}

// UnreadFor returns uid's unread count in chat.
func UnreadFor(chat models.Chat, uid string) int {
	return chat.UnreadCounts[uid]
}

// TotalUnread sums uid's unread counts across chats.
func TotalUnread(chats []models.Chat, uid string) int {
	total := 0
	for _, c := range chats {
		total += UnreadFor(c, uid)
	}
	return total
}
