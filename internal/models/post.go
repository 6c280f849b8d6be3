package models

import (
	"time"

	"gorm.io/gorm"
)

type Post struct {
	ID        int            `gorm:"primaryKey" json:"id"`
	ThreadID  int            `gorm:"index;not null" json:"thread_id"`
	AuthorID  int            `gorm:"index;not null" json:"author_id"`
	Author    User           `gorm:"foreignKey:AuthorID" json:"-"`
	Content   string         `gorm:"type:text;not null" json:"content"`
	EditedAt  *time.Time     `json:"edited_at,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

type PostResponse struct {
	ID        int         `json:"id"`
	ThreadID  int         `json:"thread_id"`
	Content   string      `json:"content"`
	Author    UserSummary `json:"author"`
	Upvotes   int         `json:"upvotes"`
	Downvotes int         `json:"downvotes"`
	Score     int         `json:"score"`
	EditedAt  *time.Time  `json:"edited_at,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func (p Post) Response(up, down int) PostResponse {
	return PostResponse{
		ID:        p.ID,
		ThreadID:  p.ThreadID,
		Content:   p.Content,
		Author:    p.Author.Summary(),
		Upvotes:   up,
		Downvotes: down,
		Score:     up - down,
		EditedAt:  p.EditedAt,
		CreatedAt: p.CreatedAt,
	}
}
