package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/content"
	"github.com/emilythestrangee/forum/backend/internal/logging"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/search"
	"github.com/emilythestrangee/forum/backend/internal/webhooks"
)

const (
	maxThreadTags     = 5
	maxContentLength  = 20000
	minTitleLength    = 3
	maxTitleLength    = 200
	threadListTTL     = 30 * time.Second
	threadSlugMaxSize = 200
)

var sortOrders = map[string]string{
	"latest": "threads.created_at desc",
	"active": "threads.last_post_at desc",
	"top":    "threads.post_count desc, threads.view_count desc",
}

type ThreadHandler struct {
	db     *gorm.DB
	cache  *cache.Cache
	events webhooks.Publisher
	index  *search.Indexer
}

func (h *ThreadHandler) preloaded() *gorm.DB {
	return h.db.Preload("Category").Preload("Author").Preload("Tags")
}

// loadThread fetches a live thread with its relations, answering 404 when
// it does not exist.
func (h *ThreadHandler) loadThread(c *gin.Context) (*models.Thread, bool) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, false
	}
	var thread models.Thread
	if err := h.preloaded().First(&thread, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Thread not found"})
		} else {
			serverError(c, "Failed to fetch thread", err)
		}
		return nil, false
	}
	return &thread, true
}

// GetThreads lists threads, pinned first, filtered by category, tag or author
func (h *ThreadHandler) GetThreads(c *gin.Context) {
	page, limit, offset := pagination(c)
	sort := c.DefaultQuery("sort", "active")
	order, ok := sortOrders[sort]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort must be latest, active or top"})
		return
	}

	cacheKey := "threads:list:" + c.Request.URL.Query().Encode()
	if cached, ok := h.cache.Get(cacheKey); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	var categoryID int
	if slug := c.Query("category"); slug != "" {
		var category models.Category
		if err := h.db.Where("slug = ?", slug).First(&category).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
			return
		}
		categoryID = category.ID
	}
	tag := c.Query("tag")
	author := c.Query("author")

	filter := func(db *gorm.DB) *gorm.DB {
		if categoryID != 0 {
			db = db.Where("threads.category_id = ?", categoryID)
		}
		if tag != "" {
			db = db.Where("threads.id IN (?)", h.db.Table("thread_tags").
				Select("thread_tags.thread_id").
				Joins("JOIN tags ON tags.id = thread_tags.tag_id").
				Where("tags.slug = ?", tag))
		}
		if author != "" {
			db = db.Where("threads.author_id IN (?)", h.db.Model(&models.User{}).
				Select("id").Where("username = ?", author))
		}
		return db
	}

	var total int64
	if err := h.db.Model(&models.Thread{}).Scopes(filter).Count(&total).Error; err != nil {
		serverError(c, "Failed to count threads", err)
		return
	}

	var threads []models.Thread
	err := h.preloaded().Scopes(filter).
		Order("threads.pinned desc").Order(order).Order("threads.id desc").
		Limit(limit).Offset(offset).
		Find(&threads).Error
	if err != nil {
		serverError(c, "Failed to fetch threads", err)
		return
	}

	responses := make([]models.ThreadResponse, len(threads))
	for i, t := range threads {
		responses[i] = t.Response()
	}

	body := gin.H{"threads": responses, "page": page, "limit": limit, "total": total}
	h.cache.Set(cacheKey, body, threadListTTL, cache.TagThreads)
	c.JSON(http.StatusOK, body)
}

// GetThread returns a thread and counts the view
func (h *ThreadHandler) GetThread(c *gin.Context) {
	thread, ok := h.loadThread(c)
	if !ok {
		return
	}

	if err := h.db.Model(thread).UpdateColumn("view_count", gorm.Expr("view_count + ?", 1)).Error; err != nil {
		logging.FromContext(c.Request.Context()).Warn("failed to count view", zap.Int("thread_id", thread.ID), zap.Error(err))
	} else {
		thread.ViewCount++
	}

	subscribed := false
	if user := currentUser(c); user != nil {
		var count int64
		if err := h.db.Model(&models.Subscription{}).Where("user_id = ? AND thread_id = ?", user.ID, thread.ID).Count(&count).Error; err != nil {
			serverError(c, "Failed to fetch subscription", err)
			return
		}
		subscribed = count > 0
	}

	c.JSON(http.StatusOK, gin.H{"thread": thread.Response(), "subscribed": subscribed})
}

// CreateThread opens a thread together with its first post
func (h *ThreadHandler) CreateThread(c *gin.Context) {
	user := currentUser(c)

	var input struct {
		Title      string   `json:"title" binding:"required,min=3,max=200"`
		Content    string   `json:"content" binding:"required"`
		CategoryID int      `json:"category_id" binding:"required"`
		Tags       []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	title, ok := cleanTitle(c, input.Title)
	if !ok {
		return
	}
	body, ok := cleanContent(c, input.Content)
	if !ok {
		return
	}

	var category models.Category
	if err := h.db.First(&category, input.CategoryID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
		return
	}
	tags, ok := resolveTags(c, h.db, input.Tags)
	if !ok {
		return
	}

	now := time.Now().UTC()
	thread := models.Thread{
		Title:      title,
		Slug:       threadSlug(title),
		CategoryID: category.ID,
		AuthorID:   user.ID,
		Tags:       tags,
		PostCount:  1,
		LastPostAt: now,
	}
	post := models.Post{AuthorID: user.ID, Content: body}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Category", "Author").Create(&thread).Error; err != nil {
			return err
		}
		post.ThreadID = thread.ID
		if err := tx.Omit("Author").Create(&post).Error; err != nil {
			return err
		}
		return tx.Create(&models.Subscription{UserID: user.ID, ThreadID: thread.ID}).Error
	})
	if err != nil {
		serverError(c, "Failed to create thread", err)
		return
	}

	thread.Category = category
	thread.Author = *user
	post.Author = *user
	if thread.Tags == nil {
		thread.Tags = []models.Tag{}
	}

	ctx := c.Request.Context()
	h.cache.Invalidate(cache.TagThreads, cache.TagCategories)
	h.index.Thread(ctx, thread.ID)
	h.index.Post(ctx, post, thread)
	h.events.Publish(ctx, webhooks.EventThreadCreated, thread.Response())

	c.JSON(http.StatusCreated, gin.H{"thread": thread.Response(), "post": post.Response(0, 0)})
}

// UpdateThread edits title, category, tags or the opening post
func (h *ThreadHandler) UpdateThread(c *gin.Context) {
	user := currentUser(c)
	thread, ok := h.loadThread(c)
	if !ok {
		return
	}
	if !canModerate(user, thread.AuthorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only edit your own threads"})
		return
	}
	if thread.Locked && !user.Role.AtLeast(models.RoleModerator) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Thread is locked"})
		return
	}

	var input struct {
		Title      *string   `json:"title" binding:"omitempty,min=3,max=200"`
		Content    *string   `json:"content"`
		CategoryID *int      `json:"category_id"`
		Tags       *[]string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]any{}
	if input.Title != nil {
		title, ok := cleanTitle(c, *input.Title)
		if !ok {
			return
		}
		updates["title"] = title
		updates["slug"] = threadSlug(title)
	}
	if input.CategoryID != nil && *input.CategoryID != thread.CategoryID {
		var category models.Category
		if err := h.db.First(&category, *input.CategoryID).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
			return
		}
		updates["category_id"] = category.ID
	}
	var tags []models.Tag
	if input.Tags != nil {
		if tags, ok = resolveTags(c, h.db, *input.Tags); !ok {
			return
		}
	}
	var body string
	if input.Content != nil {
		if body, ok = cleanContent(c, *input.Content); !ok {
			return
		}
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := tx.Model(&models.Thread{ID: thread.ID}).Updates(updates).Error; err != nil {
				return err
			}
		}
		if input.Tags != nil {
			assoc := tx.Model(&models.Thread{ID: thread.ID}).Association("Tags")
			var err error
			if len(tags) == 0 {
				err = assoc.Clear()
			} else {
				err = assoc.Replace(tags)
			}
			if err != nil {
				return err
			}
		}
		if input.Content != nil {
			first, err := firstPostID(tx, thread.ID)
			if err != nil {
				return err
			}
			return tx.Model(&models.Post{ID: first}).Updates(map[string]any{
				"content":   body,
				"edited_at": time.Now().UTC(),
			}).Error
		}
		return nil
	})
	if err != nil {
		serverError(c, "Failed to update thread", err)
		return
	}

	var updated models.Thread
	if err := h.preloaded().First(&updated, thread.ID).Error; err != nil {
		serverError(c, "Failed to fetch thread", err)
		return
	}

	ctx := c.Request.Context()
	h.cache.Invalidate(cache.TagThreads, cache.ThreadTag(thread.ID))
	h.index.Thread(ctx, updated.ID)
	if input.Content != nil || input.Title != nil || input.CategoryID != nil {
		h.reindexPosts(c, updated)
	}
	h.events.Publish(ctx, webhooks.EventThreadUpdated, updated.Response())

	c.JSON(http.StatusOK, updated.Response())
}

// DeleteThread soft-deletes a thread and its posts
func (h *ThreadHandler) DeleteThread(c *gin.Context) {
	user := currentUser(c)
	thread, ok := h.loadThread(c)
	if !ok {
		return
	}
	if !canModerate(user, thread.AuthorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only delete your own threads"})
		return
	}

	var postIDs []int
	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Post{}).Where("thread_id = ?", thread.ID).Pluck("id", &postIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("thread_id = ?", thread.ID).Delete(&models.Post{}).Error; err != nil {
			return err
		}
		if err := tx.Where("thread_id = ?", thread.ID).Delete(&models.Subscription{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Thread{}, thread.ID).Error
	})
	if err != nil {
		serverError(c, "Failed to delete thread", err)
		return
	}

	ctx := c.Request.Context()
	h.cache.Invalidate(cache.TagThreads, cache.ThreadTag(thread.ID))
	h.index.RemoveThread(ctx, thread.ID, postIDs)
	h.events.Publish(ctx, webhooks.EventThreadDeleted, gin.H{
		"id":         thread.ID,
		"title":      thread.Title,
		"deleted_by": user.Summary(),
	})

	c.JSON(http.StatusOK, gin.H{"message": "Thread deleted successfully"})
}

// ToggleLock locks or unlocks a thread (moderator only)
func (h *ThreadHandler) ToggleLock(c *gin.Context) {
	h.toggle(c, "locked")
}

// TogglePin pins or unpins a thread (moderator only)
func (h *ThreadHandler) TogglePin(c *gin.Context) {
	h.toggle(c, "pinned")
}

func (h *ThreadHandler) toggle(c *gin.Context, column string) {
	thread, ok := h.loadThread(c)
	if !ok {
		return
	}

	value := !thread.Locked
	if column == "pinned" {
		value = !thread.Pinned
	}
	if err := h.db.Model(&models.Thread{ID: thread.ID}).Update(column, value).Error; err != nil {
		serverError(c, "Failed to update thread", err)
		return
	}
	if column == "pinned" {
		thread.Pinned = value
	} else {
		thread.Locked = value
	}

	ctx := c.Request.Context()
	logging.FromContext(ctx).Info("thread moderated",
		zap.Int("thread_id", thread.ID), zap.String("field", column), zap.Bool("value", value),
		zap.Int("moderator_id", currentUser(c).ID))
	h.cache.Invalidate(cache.TagThreads, cache.ThreadTag(thread.ID))
	h.index.Thread(ctx, thread.ID)
	h.events.Publish(ctx, webhooks.EventThreadUpdated, thread.Response())

	c.JSON(http.StatusOK, gin.H{column: value})
}

// Subscribe watches a thread
func (h *ThreadHandler) Subscribe(c *gin.Context) {
	user := currentUser(c)
	thread, ok := h.loadThread(c)
	if !ok {
		return
	}

	sub := models.Subscription{UserID: user.ID, ThreadID: thread.ID}
	if err := h.db.Where(&sub).FirstOrCreate(&sub).Error; err != nil {
		serverError(c, "Failed to subscribe", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": true})
}

// Unsubscribe stops watching a thread
func (h *ThreadHandler) Unsubscribe(c *gin.Context) {
	user := currentUser(c)
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.db.Where("user_id = ? AND thread_id = ?", user.ID, id).Delete(&models.Subscription{}).Error; err != nil {
		serverError(c, "Failed to unsubscribe", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribed": false})
}

// reindexPosts refreshes the post records that embed thread fields.
func (h *ThreadHandler) reindexPosts(c *gin.Context, thread models.Thread) {
	var posts []models.Post
	if err := h.db.Preload("Author").Where("thread_id = ?", thread.ID).Find(&posts).Error; err != nil {
		logging.FromContext(c.Request.Context()).Warn("failed to load posts for reindex", zap.Error(err))
		return
	}
	for _, p := range posts {
		h.index.Post(c.Request.Context(), p, thread)
	}
}

func threadSlug(title string) string {
	slug := models.Slugify(title, threadSlugMaxSize)
	if slug == "" {
		return "thread"
	}
	return slug
}

// firstPostID returns the opening post of a thread.
func firstPostID(db *gorm.DB, threadID int) (int, error) {
	var ids []int
	err := db.Model(&models.Post{}).Where("thread_id = ?", threadID).Order("id asc").Limit(1).Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	return ids[0], nil
}

// resolveTags maps tag slugs to existing tags, answering 400 for unknown ones.
func resolveTags(c *gin.Context, db *gorm.DB, slugs []string) ([]models.Tag, bool) {
	seen := make(map[string]bool)
	var wanted []string
	for _, s := range slugs {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		wanted = append(wanted, s)
	}
	if len(wanted) > maxThreadTags {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A thread can have at most 5 tags"})
		return nil, false
	}
	if len(wanted) == 0 {
		return []models.Tag{}, true
	}

	var tags []models.Tag
	if err := db.Where("slug IN ?", wanted).Order("name asc").Find(&tags).Error; err != nil {
		serverError(c, "Failed to fetch tags", err)
		return nil, false
	}
	if len(tags) != len(wanted) {
		found := make(map[string]bool, len(tags))
		for _, t := range tags {
			found[t.Slug] = true
		}
		for _, s := range wanted {
			if !found[s] {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown tag: " + s})
				return nil, false
			}
		}
	}
	return tags, true
}

// cleanTitle trims a thread title and answers 400 unless it is 3 to 200 characters.
func cleanTitle(c *gin.Context, raw string) (string, bool) {
	title := strings.TrimSpace(raw)
	if n := utf8.RuneCountInString(title); n < minTitleLength || n > maxTitleLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title must be between 3 and 200 characters"})
		return "", false
	}
	return title, true
}

// cleanContent sanitizes post HTML, answering 400 for empty or oversized bodies.
func cleanContent(c *gin.Context, raw string) (string, bool) {
	if utf8.RuneCountInString(raw) > maxContentLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is too long"})
		return "", false
	}
	body, err := content.Sanitize(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is not valid HTML"})
		return "", false
	}
	if content.IsBlank(body) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is required"})
		return "", false
	}
	return body, true
}
