package models

import (
	"time"

	"gorm.io/gorm"
)

type Category struct {
	ID          int       `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:64;not null" json:"name"`
	Slug        string    `gorm:"uniqueIndex;size:64;not null" json:"slug"`
	Description string    `json:"description"`
	Position    int       `gorm:"not null;default:0" json:"position"`
	ThreadCount int64     `gorm:"-" json:"thread_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Tag struct {
	ID   int    `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:32;not null" json:"name"`
	Slug string `gorm:"uniqueIndex;size:32;not null" json:"slug"`
}

type Thread struct {
	ID         int            `gorm:"primaryKey" json:"id"`
	Title      string         `gorm:"size:200;not null" json:"title"`
	Slug       string         `gorm:"size:220;not null" json:"slug"`
	CategoryID int            `gorm:"index;not null" json:"category_id"`
	Category   Category       `gorm:"foreignKey:CategoryID" json:"category"`
	AuthorID   int            `gorm:"index;not null" json:"author_id"`
	Author     User           `gorm:"foreignKey:AuthorID" json:"-"`
	Tags       []Tag          `gorm:"many2many:thread_tags" json:"tags"`
	Pinned     bool           `gorm:"not null;default:false" json:"pinned"`
	Locked     bool           `gorm:"not null;default:false" json:"locked"`
	ViewCount  int            `gorm:"not null;default:0" json:"view_count"`
	PostCount  int            `gorm:"not null;default:0" json:"post_count"`
	LastPostAt time.Time      `gorm:"index" json:"last_post_at"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

type ThreadResponse struct {
	ID         int         `json:"id"`
	Title      string      `json:"title"`
	Slug       string      `json:"slug"`
	Category   Category    `json:"category"`
	Author     UserSummary `json:"author"`
	Tags       []Tag       `json:"tags"`
	Pinned     bool        `json:"pinned"`
	Locked     bool        `json:"locked"`
	ViewCount  int         `json:"view_count"`
	PostCount  int         `json:"post_count"`
	LastPostAt time.Time   `json:"last_post_at"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

func (t Thread) Response() ThreadResponse {
	tags := t.Tags
	if tags == nil {
		tags = []Tag{}
	}
	return ThreadResponse{
		ID:         t.ID,
		Title:      t.Title,
		Slug:       t.Slug,
		Category:   t.Category,
		Author:     t.Author.Summary(),
		Tags:       tags,
		Pinned:     t.Pinned,
		Locked:     t.Locked,
		ViewCount:  t.ViewCount,
		PostCount:  t.PostCount,
		LastPostAt: t.LastPostAt,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}
