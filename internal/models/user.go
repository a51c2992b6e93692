package models

import "time"

// User is a registered account, created on first successful code verification.
type User struct {
	ID         string    `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	Username   string    `db:"username" json:"username"`
	Avatar     string    `db:"avatar" json:"avatar"`
	IsOnline   bool      `db:"is_online" json:"is_online"`
	LastSeen   time.Time `db:"last_seen" json:"last_seen"`
	InviteCode *string   `db:"invite_code" json:"invite_code,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// PublicUser is the profile shape exposed to other users.
type PublicUser struct {
	ID       string `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
	Email    string `db:"email" json:"email"`
	Avatar   string `db:"avatar" json:"avatar"`
	IsOnline bool   `db:"is_online" json:"is_online"`
}

// Public projects the full user row to its public shape.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Avatar:   u.Avatar,
		IsOnline: u.IsOnline,
	}
}
