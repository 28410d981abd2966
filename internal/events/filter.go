package events

// Filter selects the events a subscription receives.
type Filter func(ChangeEvent) bool

// ForUser matches events addressed to uid.
func ForUser(uid string) Filter {
	return func(ev ChangeEvent) bool {
		for _, r := range ev.Recipients {
			if r == uid {
				return true
			}
		}
		return false
	}
}

// ForChat matches events about chatID.
func ForChat(chatID string) Filter {
	return func(ev ChangeEvent) bool {
		return ev.ChatID == chatID
	}
}

// ForPresence matches presence changes of uid.
func ForPresence(uid string) Filter {
	return func(ev ChangeEvent) bool {
		return ev.Kind == KindPresenceChanged && ev.Presence != nil && ev.Presence.UID == uid
	}
}

// Kinds matches any of the given kinds.
func Kinds(kinds ...Kind) Filter {
	set := make(map[Kind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(ev ChangeEvent) bool {
		_, ok := set[ev.Kind]
		return ok
	}
}

// All matches when every filter matches.
func All(filters ...Filter) Filter {
	return func(ev ChangeEvent) bool {
		for _, f := range filters {
			if f != nil && !f(ev) {
				return false
			}
		}
		return true
	}
}

// Any matches when at least one filter matches.
func Any(filters ...Filter) Filter {
	return func(ev ChangeEvent) bool {
		for _, f := range filters {
			if f != nil && f(ev) {
				return true
			}
		}
		return false
	}
}
