package models

import "time"

// Profile is a cached recipient profile, kept locally to avoid refetching
// known users from the backend on every render.
type Profile struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Username  string    `db:"username" json:"username"`
	AvatarURL string    `db:"avatar_url" json:"avatar_url,omitempty"`
	FetchedAt time.Time `db:"fetched_at" json:"fetched_at"`
}
