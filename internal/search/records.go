package search

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/emilythestrangee/forum/backend/internal/models"
)

const (
	excerptLength = 300
	contentLength = 2000
)

type ThreadRecord struct {
	ObjectID     string   `json:"objectID"`
	ID           int      `json:"id"`
	Title        string   `json:"title"`
	Slug         string   `json:"slug"`
	Excerpt      string   `json:"excerpt"`
	Category     string   `json:"category"`
	CategoryName string   `json:"category_name"`
	Tags         []string `json:"tags"`
	Author       string   `json:"author"`
	Pinned       bool     `json:"pinned"`
	Locked       bool     `json:"locked"`
	PostCount    int      `json:"post_count"`
	CreatedAt    int64    `json:"created_at"`
	LastPostAt   int64    `json:"last_post_at"`
}

type PostRecord struct {
	ObjectID    string `json:"objectID"`
	ID          int    `json:"id"`
	ThreadID    int    `json:"thread_id"`
	ThreadTitle string `json:"thread_title"`
	Content     string `json:"content"`
	Author      string `json:"author"`
	Category    string `json:"category"`
	CreatedAt   int64  `json:"created_at"`
}

type UserRecord struct {
	ObjectID string `json:"objectID"`
	ID       int    `json:"id"`
	Username string `json:"username"`
	Bio      string `json:"bio"`
	Avatar   string `json:"avatar"`
	Role     string `json:"role"`
}

type CategoryRecord struct {
	ObjectID    string `json:"objectID"`
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

type TagRecord struct {
	ObjectID string `json:"objectID"`
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
}

func objectID(id int) string {
	return strconv.Itoa(id)
}

// NewThreadRecord expects Category, Author and Tags to be loaded. body is the
// HTML of the thread's first post.
func NewThreadRecord(t models.Thread, body string) ThreadRecord {
	tags := make([]string, len(t.Tags))
	for i, tag := range t.Tags {
		tags[i] = tag.Slug
	}
	return ThreadRecord{
		ObjectID:     objectID(t.ID),
		ID:           t.ID,
		Title:        t.Title,
		Slug:         t.Slug,
		Excerpt:      Truncate(PlainText(body), excerptLength),
		Category:     t.Category.Slug,
		CategoryName: t.Category.Name,
		Tags:         tags,
		Author:       t.Author.Username,
		Pinned:       t.Pinned,
		Locked:       t.Locked,
		PostCount:    t.PostCount,
		CreatedAt:    t.CreatedAt.Unix(),
		LastPostAt:   t.LastPostAt.Unix(),
	}
}

func NewPostRecord(p models.Post, t models.Thread) PostRecord {
	return PostRecord{
		ObjectID:    objectID(p.ID),
		ID:          p.ID,
		ThreadID:    p.ThreadID,
		ThreadTitle: t.Title,
		Content:     Truncate(PlainText(p.Content), contentLength),
		Author:      p.Author.Username,
		Category:    t.Category.Slug,
		CreatedAt:   p.CreatedAt.Unix(),
	}
}

func NewUserRecord(u models.User) UserRecord {
	return UserRecord{
		ObjectID: objectID(u.ID),
		ID:       u.ID,
		Username: u.Username,
		Bio:      u.Bio,
		Avatar:   u.Avatar,
		Role:     string(u.Role),
	}
}

func NewCategoryRecord(c models.Category) CategoryRecord {
	return CategoryRecord{
		ObjectID:    objectID(c.ID),
		ID:          c.ID,
		Name:        c.Name,
		Slug:        c.Slug,
		Description: c.Description,
	}
}

func NewTagRecord(t models.Tag) TagRecord {
	return TagRecord{ObjectID: objectID(t.ID), ID: t.ID, Name: t.Name, Slug: t.Slug}
}

// PlainText strips markup from post HTML, keeping block boundaries as spaces.
func PlainText(html string) string {
	if !strings.ContainsAny(html, "<&") {
		return strings.Join(strings.Fields(html), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style").Remove()
	doc.Find("p, div, br, li, blockquote, pre, h1, h2, h3, h4, h5, h6, tr, td").AfterHtml(" ")
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Truncate cuts s to at most n runes, ending with an ellipsis when shortened.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-1])) + "…"
}
