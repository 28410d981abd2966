package models

import "time"

// Profile is the public copy of an identity provider user.
type Profile struct {
	UID         string    `db:"uid" json:"uid"`
	DisplayName string    `db:"display_name" json:"display_name"`
	PhotoURL    string    `db:"photo_url" json:"photo_url"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
