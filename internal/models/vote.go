package models

import "time"

// Vote tracks a single user's vote on a post.
type Vote struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	UserID    int       `gorm:"uniqueIndex:idx_vote_user_post;not null" json:"user_id"`
	PostID    int       `gorm:"uniqueIndex:idx_vote_user_post;not null" json:"post_id"`
	Value     int       `gorm:"not null" json:"value"` // -1 or 1
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscription marks a user as watching a thread.
type Subscription struct {
	ID        int       `gorm:"primaryKey" json:"id"`
	UserID    int       `gorm:"uniqueIndex:idx_sub_user_thread;not null" json:"user_id"`
	ThreadID  int       `gorm:"uniqueIndex:idx_sub_user_thread;not null" json:"thread_id"`
	CreatedAt time.Time `json:"created_at"`
}
