package domain

import "time"

type UserID string

// User is the slice of the directory service's record that the realtime
// core reads: enough to render an incoming call or roll prompt and to
// validate routing targets. Profile storage itself lives elsewhere.
type User struct {
	ID        UserID    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Sign      string    `json:"sign,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
