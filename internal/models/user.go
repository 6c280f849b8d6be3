package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) rank() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleModerator:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r.rank() >= min.rank()
}

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModerator || r == RoleAdmin
}

type User struct {
	ID       int    `gorm:"primaryKey" json:"id"`
	Username string `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;size:255;not null" json:"-"`
	Password string `json:"-"`
	Role     Role   `gorm:"size:16;not null;default:user" json:"role"`
	Bio      string `json:"bio"`
	Avatar   string `json:"avatar"`

	GoogleID      string `gorm:"index" json:"-"`
	AuthProvider  string `gorm:"size:16" json:"auth_provider"` // "email", "otp", "google"
	EmailVerified bool   `json:"email_verified"`

	BannedAt  *time.Time `json:"banned_at,omitempty"`
	BanReason string     `json:"ban_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) Banned() bool {
	return u.BannedAt != nil
}

// UserSummary is the embedded author shape used in thread and post responses.
type UserSummary struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Role     Role   `json:"role"`
}

func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar, Role: u.Role}
}

type AuthResponse struct {
	Token   string `json:"token"`
	User    User   `json:"user"`
	Message string `json:"message,omitempty"`
}
