package models

import "time"

// User is the server's view of an account holder.
type User struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Username   string     `json:"username"`
	AvatarURL  string     `json:"avatar_url,omitempty"`
	Bio        string     `json:"bio,omitempty"`
	Interests  []string   `json:"interests"`
	Role       string     `json:"role,omitempty"`
	IsVerified bool       `json:"is_verified"`
	AuthMethod string     `json:"auth_method,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}
