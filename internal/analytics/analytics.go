// Package analytics answers the admin dashboard with aggregate queries run
// directly in PostgreSQL.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/logging"
)

const (
	DefaultDays = 30
	MaxDays     = 90
	topLimit    = 10
	cacheTTL    = time.Minute
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Totals struct {
	Users       int64 `json:"users"`
	Threads     int64 `json:"threads"`
	Posts       int64 `json:"posts"`
	Categories  int64 `json:"categories"`
	OpenReports int64 `json:"open_reports"`
}

type Window struct {
	Days       int   `json:"days"`
	NewUsers   int64 `json:"new_users"`
	NewThreads int64 `json:"new_threads"`
	NewPosts   int64 `json:"new_posts"`
}

type DailyCount struct {
	Day   string `json:"day"`
	Posts int64  `json:"posts"`
}

type CategoryStat struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Threads int64  `json:"threads"`
	Posts   int64  `json:"posts"`
}

type PosterStat struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Posts    int64  `json:"posts"`
}

type Overview struct {
	Totals        Totals         `json:"totals"`
	Window        Window         `json:"window"`
	DailyPosts    []DailyCount   `json:"daily_posts"`
	TopCategories []CategoryStat `json:"top_categories"`
	TopPosters    []PosterStat   `json:"top_posters"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

type Service struct {
	db    Querier
	cache *cache.Cache
	now   func() time.Time
}

func NewService(db Querier, c *cache.Cache) *Service {
	return &Service{db: db, cache: c, now: time.Now}
}

// ClampDays bounds the reporting window to [1, MaxDays].
func ClampDays(days int) int {
	switch {
	case days <= 0:
		return DefaultDays
	case days > MaxDays:
		return MaxDays
	}
	return days
}

const totalsSQL = `
SELECT
	(SELECT count(*) FROM users),
	(SELECT count(*) FROM threads WHERE deleted_at IS NULL),
	(SELECT count(*) FROM posts WHERE deleted_at IS NULL),
	(SELECT count(*) FROM categories),
	(SELECT count(*) FROM reports WHERE status = 'open'),
	(SELECT count(*) FROM users WHERE created_at >= $1),
	(SELECT count(*) FROM threads WHERE deleted_at IS NULL AND created_at >= $1),
	(SELECT count(*) FROM posts WHERE deleted_at IS NULL AND created_at >= $1)`

const dailyPostsSQL = `
SELECT d::date, count(p.id)
FROM generate_series(date_trunc('day', $1::timestamptz), date_trunc('day', $2::timestamptz), interval '1 day') AS d
LEFT JOIN posts p
	ON p.deleted_at IS NULL AND p.created_at >= d AND p.created_at < d + interval '1 day'
GROUP BY d
ORDER BY d`

const topCategoriesSQL = `
SELECT c.id, c.name, c.slug, count(t.id) AS threads, coalesce(sum(t.post_count), 0)::bigint AS posts
FROM categories c
LEFT JOIN threads t ON t.category_id = c.id AND t.deleted_at IS NULL
GROUP BY c.id, c.name, c.slug
ORDER BY threads DESC, c.name
LIMIT $1`

const topPostersSQL = `
SELECT u.id, u.username, count(p.id) AS posts
FROM posts p
JOIN users u ON u.id = p.author_id
WHERE p.deleted_at IS NULL AND p.created_at >= $1
GROUP BY u.id, u.username
ORDER BY posts DESC, u.username
LIMIT $2`

// Overview returns the dashboard for the last days days, served from cache
// for up to a minute.
func (s *Service) Overview(ctx context.Context, days int) (*Overview, error) {
	days = ClampDays(days)
	key := "analytics:overview:" + strconv.Itoa(days)
	if v, ok := s.cache.Get(key); ok {
		return v.(*Overview), nil
	}
	defer logging.Duration(ctx, "analytics.Overview")()

	now := s.now().UTC()
	since := now.AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)

	out := &Overview{Window: Window{Days: days}, GeneratedAt: now}

	err := s.db.QueryRow(ctx, totalsSQL, since).Scan(
		&out.Totals.Users, &out.Totals.Threads, &out.Totals.Posts, &out.Totals.Categories, &out.Totals.OpenReports,
		&out.Window.NewUsers, &out.Window.NewThreads, &out.Window.NewPosts,
	)
	if err != nil {
		return nil, fmt.Errorf("totals: %w", err)
	}

	if out.DailyPosts, err = s.dailyPosts(ctx, since, now); err != nil {
		return nil, err
	}
	if out.TopCategories, err = s.topCategories(ctx); err != nil {
		return nil, err
	}
	if out.TopPosters, err = s.topPosters(ctx, since); err != nil {
		return nil, err
	}

	s.cache.Set(key, out, cacheTTL, cache.TagAnalytics)
	return out, nil
}

func (s *Service) dailyPosts(ctx context.Context, since, until time.Time) ([]DailyCount, error) {
	rows, err := s.db.Query(ctx, dailyPostsSQL, since, until)
	if err != nil {
		return nil, fmt.Errorf("daily posts: %w", err)
	}
	defer rows.Close()

	out := []DailyCount{}
	for rows.Next() {
		var day time.Time
		var dc DailyCount
		if err := rows.Scan(&day, &dc.Posts); err != nil {
			return nil, fmt.Errorf("daily posts: %w", err)
		}
		dc.Day = day.Format("2006-01-02")
		out = append(out, dc)
	}
	return out, rows.Err()
}

func (s *Service) topCategories(ctx context.Context) ([]CategoryStat, error) {
	rows, err := s.db.Query(ctx, topCategoriesSQL, topLimit)
	if err != nil {
		return nil, fmt.Errorf("top categories: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (CategoryStat, error) {
		var c CategoryStat
		err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.Threads, &c.Posts)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("top categories: %w", err)
	}
	return out, nil
}

func (s *Service) topPosters(ctx context.Context, since time.Time) ([]PosterStat, error) {
	rows, err := s.db.Query(ctx, topPostersSQL, since, topLimit)
	if err != nil {
		return nil, fmt.Errorf("top posters: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PosterStat, error) {
		var p PosterStat
		err := row.Scan(&p.ID, &p.Username, &p.Posts)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("top posters: %w", err)
	}
	return out, nil
}
