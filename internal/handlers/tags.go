package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/database"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/search"
)

const tagsCacheKey = "tags:list"

type TagHandler struct {
	db    *gorm.DB
	cache *cache.Cache
	index *search.Indexer
}

// GetTags lists every tag alphabetically
func (h *TagHandler) GetTags(c *gin.Context) {
	if cached, ok := h.cache.Get(tagsCacheKey); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	tags := []models.Tag{}
	if err := h.db.Order("name asc").Find(&tags).Error; err != nil {
		serverError(c, "Failed to fetch tags", err)
		return
	}

	h.cache.Set(tagsCacheKey, tags, 5*time.Minute, cache.TagTags)
	c.JSON(http.StatusOK, tags)
}

// CreateTag adds a tag (moderator only)
func (h *TagHandler) CreateTag(c *gin.Context) {
	var input struct {
		Name string `json:"name" binding:"required,max=32"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tag := models.Tag{Name: strings.TrimSpace(input.Name), Slug: models.Slugify(input.Name, 32)}
	if tag.Slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Tag name must contain letters or digits"})
		return
	}
	if err := h.db.Create(&tag).Error; err != nil {
		if database.IsUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Tag already exists"})
			return
		}
		serverError(c, "Failed to create tag", err)
		return
	}

	h.cache.Invalidate(cache.TagTags)
	h.index.Tag(c.Request.Context(), tag)
	c.JSON(http.StatusCreated, tag)
}

// DeleteTag removes a tag from every thread and deletes it (admin only)
func (h *TagHandler) DeleteTag(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var tag models.Tag
	if err := h.db.First(&tag, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tag not found"})
		return
	}

	var threadIDs []int
	h.db.Table("thread_tags").Where("tag_id = ?", tag.ID).Pluck("thread_id", &threadIDs)

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM thread_tags WHERE tag_id = ?", tag.ID).Error; err != nil {
			return err
		}
		return tx.Delete(&tag).Error
	})
	if err != nil {
		serverError(c, "Failed to delete tag", err)
		return
	}

	h.cache.Invalidate(cache.TagTags, cache.TagThreads)
	ctx := c.Request.Context()
	h.index.RemoveTag(ctx, tag.ID)
	for _, threadID := range threadIDs {
		h.index.Thread(ctx, threadID)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Tag deleted successfully"})
}
