package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/database"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/search"
	"github.com/emilythestrangee/forum/backend/internal/webhooks"
)

const postListTTL = 30 * time.Second

type PostHandler struct {
	db     *gorm.DB
	cache  *cache.Cache
	events webhooks.Publisher
	index  *search.Indexer
}

type voteTally struct {
	PostID int
	Up     int
	Down   int
}

// tallies sums up and down votes for the given posts.
func (h *PostHandler) tallies(postIDs ...int) (map[int]voteTally, error) {
	var rows []voteTally
	err := h.db.Model(&models.Vote{}).
		Select("post_id, " +
			"sum(case when value = 1 then 1 else 0 end) as up, " +
			"sum(case when value = -1 then 1 else 0 end) as down").
		Where("post_id IN ?", postIDs).
		Group("post_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int]voteTally, len(rows))
	for _, r := range rows {
		out[r.PostID] = r
	}
	return out, nil
}

func (h *PostHandler) loadPost(c *gin.Context) (*models.Post, bool) {
	id, ok := paramID(c, "id")
	if !ok {
		return nil, false
	}
	var post models.Post
	if err := h.db.Preload("Author").First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Post not found"})
		} else {
			serverError(c, "Failed to fetch post", err)
		}
		return nil, false
	}
	return &post, true
}

func (h *PostHandler) loadThread(threadID int) (*models.Thread, error) {
	var thread models.Thread
	if err := h.db.Preload("Category").Preload("Author").Preload("Tags").First(&thread, threadID).Error; err != nil {
		return nil, err
	}
	return &thread, nil
}

// GetPosts lists a thread's posts in chronological order
func (h *PostHandler) GetPosts(c *gin.Context) {
	threadID, ok := paramID(c, "id")
	if !ok {
		return
	}
	page, limit, offset := pagination(c)
	cacheKey := fmt.Sprintf("posts:%d:%d:%d", threadID, page, limit)
	if cached, ok := h.cache.Get(cacheKey); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	var exists int64
	if err := h.db.Model(&models.Thread{}).Where("id = ?", threadID).Count(&exists).Error; err != nil {
		serverError(c, "Failed to fetch thread", err)
		return
	}
	if exists == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Thread not found"})
		return
	}

	var total int64
	if err := h.db.Model(&models.Post{}).Where("thread_id = ?", threadID).Count(&total).Error; err != nil {
		serverError(c, "Failed to count posts", err)
		return
	}

	var posts []models.Post
	if err := h.db.Preload("Author").
		Where("thread_id = ?", threadID).
		Order("created_at asc, id asc").
		Limit(limit).Offset(offset).
		Find(&posts).Error; err != nil {
		serverError(c, "Failed to fetch posts", err)
		return
	}

	ids := make([]int, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	votes := map[int]voteTally{}
	if len(ids) > 0 {
		var err error
		if votes, err = h.tallies(ids...); err != nil {
			serverError(c, "Failed to count votes", err)
			return
		}
	}

	// If no posts, return empty array not null
	responses := make([]models.PostResponse, len(posts))
	for i, p := range posts {
		t := votes[p.ID]
		responses[i] = p.Response(t.Up, t.Down)
	}

	body := gin.H{"posts": responses, "page": page, "limit": limit, "total": total}
	h.cache.Set(cacheKey, body, postListTTL, cache.TagThreads, cache.ThreadTag(threadID))
	c.JSON(http.StatusOK, body)
}

// CreatePost replies to a thread. Locked threads only accept moderators.
func (h *PostHandler) CreatePost(c *gin.Context) {
	user := currentUser(c)
	threadID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var input struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is required"})
		return
	}

	thread, err := h.loadThread(threadID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Thread not found"})
		return
	}
	if thread.Locked && !user.Role.AtLeast(models.RoleModerator) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Thread is locked"})
		return
	}
	body, ok := cleanContent(c, input.Content)
	if !ok {
		return
	}

	post := models.Post{ThreadID: thread.ID, AuthorID: user.ID, Content: body}
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Author").Create(&post).Error; err != nil {
			return err
		}
		return tx.Model(&models.Thread{ID: thread.ID}).Updates(map[string]any{
			"post_count":   gorm.Expr("post_count + ?", 1),
			"last_post_at": post.CreatedAt,
		}).Error
	})
	if err != nil {
		serverError(c, "Failed to create post", err)
		return
	}
	post.Author = *user
	thread.PostCount++
	thread.LastPostAt = post.CreatedAt

	ctx := c.Request.Context()
	h.cache.Invalidate(cache.TagThreads, cache.ThreadTag(thread.ID))
	h.index.Post(ctx, post, *thread)
	h.index.Thread(ctx, thread.ID)
	h.events.Publish(ctx, webhooks.EventPostCreated, gin.H{
		"post":   post.Response(0, 0),
		"thread": gin.H{"id": thread.ID, "title": thread.Title, "slug": thread.Slug},
	})

	c.JSON(http.StatusCreated, post.Response(0, 0))
}

// UpdatePost edits a post (author only)
func (h *PostHandler) UpdatePost(c *gin.Context) {
	user := currentUser(c)
	post, ok := h.loadPost(c)
	if !ok {
		return
	}

	// Check ownership
	if post.AuthorID != user.ID {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only edit your own posts"})
		return
	}

	var input struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Content is required"})
		return
	}

	thread, err := h.loadThread(post.ThreadID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Thread not found"})
		return
	}
	if thread.Locked && !user.Role.AtLeast(models.RoleModerator) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Thread is locked"})
		return
	}
	body, ok := cleanContent(c, input.Content)
	if !ok {
		return
	}

	now := time.Now().UTC()
	if err := h.db.Model(&models.Post{ID: post.ID}).Updates(map[string]any{"content": body, "edited_at": now}).Error; err != nil {
		serverError(c, "Failed to update post", err)
		return
	}
	post.Content = body
	post.EditedAt = &now

	ctx := c.Request.Context()
	h.cache.Invalidate(cache.ThreadTag(thread.ID))
	h.index.Post(ctx, *post, *thread)
	if first, err := firstPostID(h.db, thread.ID); err == nil && first == post.ID {
		h.index.Thread(ctx, thread.ID)
	}

	votes, err := h.tallies(post.ID)
	if err != nil {
		serverError(c, "Failed to count votes", err)
		return
	}
	resp := post.Response(votes[post.ID].Up, votes[post.ID].Down)
	h.events.Publish(ctx, webhooks.EventPostUpdated, resp)

	c.JSON(http.StatusOK, resp)
}

// DeletePost removes a reply (author or moderator). The opening post goes
// with its thread only.
func (h *PostHandler) DeletePost(c *gin.Context) {
	user := currentUser(c)
	post, ok := h.loadPost(c)
	if !ok {
		return
	}

	if !canModerate(user, post.AuthorID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "You can only delete your own posts"})
		return
	}
	first, err := firstPostID(h.db, post.ThreadID)
	if err != nil {
		serverError(c, "Failed to fetch thread", err)
		return
	}
	if first == post.ID {
		c.JSON(http.StatusConflict, gin.H{"error": "The first post can only be removed by deleting the thread"})
		return
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.Post{}, post.ID).Error; err != nil {
			return err
		}
		var latest models.Post
		if err := tx.Where("thread_id = ?", post.ThreadID).Order("created_at desc, id desc").First(&latest).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&models.Post{}).Where("thread_id = ?", post.ThreadID).Count(&count).Error; err != nil {
			return err
		}
		return tx.Model(&models.Thread{ID: post.ThreadID}).Updates(map[string]any{
			"post_count":   count,
			"last_post_at": latest.CreatedAt,
		}).Error
	})
	if err != nil {
		serverError(c, "Failed to delete post", err)
		return
	}

	ctx := c.Request.Context()
	h.cache.Invalidate(cache.TagThreads, cache.ThreadTag(post.ThreadID))
	h.index.RemovePost(ctx, post.ID)
	h.index.Thread(ctx, post.ThreadID)
	h.events.Publish(ctx, webhooks.EventPostDeleted, gin.H{
		"id":         post.ID,
		"thread_id":  post.ThreadID,
		"deleted_by": user.Summary(),
	})

	c.JSON(http.StatusOK, gin.H{"message": "Post deleted successfully"})
}

// VotePost handles upvoting/downvoting a post. Repeating a vote removes it,
// the opposite value replaces it.
func (h *PostHandler) VotePost(c *gin.Context) {
	user := currentUser(c)
	post, ok := h.loadPost(c)
	if !ok {
		return
	}

	var input struct {
		Value int `json:"value" binding:"required,oneof=-1 1"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Vote value must be -1 or 1"})
		return
	}

	// Check if user already voted
	var existing models.Vote
	err := h.db.Where("user_id = ? AND post_id = ?", user.ID, post.ID).First(&existing).Error

	var message string
	var current int
	switch {
	case err == nil && existing.Value == input.Value:
		// Same vote - remove it (toggle)
		err = h.db.Delete(&existing).Error
		message = "Vote removed"
	case err == nil:
		// Different vote - update it
		err = h.db.Model(&existing).Update("value", input.Value).Error
		message = "Vote updated"
		current = input.Value
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = h.db.Create(&models.Vote{UserID: user.ID, PostID: post.ID, Value: input.Value}).Error
		if database.IsUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Vote already recorded"})
			return
		}
		message = "Vote recorded"
		current = input.Value
	}
	if err != nil {
		serverError(c, "Failed to vote", err)
		return
	}

	votes, err := h.tallies(post.ID)
	if err != nil {
		serverError(c, "Failed to count votes", err)
		return
	}
	t := votes[post.ID]
	h.cache.Invalidate(cache.ThreadTag(post.ThreadID))

	c.JSON(http.StatusOK, gin.H{
		"message":   message,
		"value":     current,
		"upvotes":   t.Up,
		"downvotes": t.Down,
		"score":     t.Up - t.Down,
	})
}
