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

const (
	categoriesCacheKey = "categories:list"
	categoriesCacheTTL = 5 * time.Minute
)

type CategoryHandler struct {
	db    *gorm.DB
	cache *cache.Cache
	index *search.Indexer
}

type categoryInput struct {
	Name        string `json:"name" binding:"required,max=64"`
	Slug        string `json:"slug" binding:"max=64"`
	Description string `json:"description" binding:"max=1000"`
	Position    int    `json:"position"`
}

// threadCounts returns the number of live threads per category id.
func (h *CategoryHandler) threadCounts(ids ...int) (map[int]int64, error) {
	var rows []struct {
		CategoryID int
		Count      int64
	}
	q := h.db.Model(&models.Thread{}).Select("category_id, count(*) as count").Group("category_id")
	if len(ids) > 0 {
		q = q.Where("category_id IN ?", ids)
	}
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[int]int64, len(rows))
	for _, r := range rows {
		counts[r.CategoryID] = r.Count
	}
	return counts, nil
}

// GetCategories lists every category in display order with thread counts
func (h *CategoryHandler) GetCategories(c *gin.Context) {
	if cached, ok := h.cache.Get(categoriesCacheKey); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	var categories []models.Category
	if err := h.db.Order("position asc, name asc").Find(&categories).Error; err != nil {
		serverError(c, "Failed to fetch categories", err)
		return
	}
	counts, err := h.threadCounts()
	if err != nil {
		serverError(c, "Failed to count threads", err)
		return
	}
	for i := range categories {
		categories[i].ThreadCount = counts[categories[i].ID]
	}
	if categories == nil {
		categories = []models.Category{}
	}

	h.cache.Set(categoriesCacheKey, categories, categoriesCacheTTL, cache.TagCategories, cache.TagThreads)
	c.JSON(http.StatusOK, categories)
}

// GetCategory returns a single category by slug
func (h *CategoryHandler) GetCategory(c *gin.Context) {
	var category models.Category
	if err := h.db.Where("slug = ?", c.Param("slug")).First(&category).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
		return
	}
	counts, err := h.threadCounts(category.ID)
	if err != nil {
		serverError(c, "Failed to count threads", err)
		return
	}
	category.ThreadCount = counts[category.ID]

	c.JSON(http.StatusOK, category)
}

// CreateCategory adds a category (admin only)
func (h *CategoryHandler) CreateCategory(c *gin.Context) {
	var input categoryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	category := models.Category{
		Name:        strings.TrimSpace(input.Name),
		Slug:        categorySlug(input),
		Description: strings.TrimSpace(input.Description),
		Position:    input.Position,
	}
	if category.Slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Category name must contain letters or digits"})
		return
	}

	if err := h.db.Create(&category).Error; err != nil {
		if database.IsUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "A category with this slug already exists"})
			return
		}
		serverError(c, "Failed to create category", err)
		return
	}

	h.cache.Invalidate(cache.TagCategories)
	h.index.Category(c.Request.Context(), category)
	c.JSON(http.StatusCreated, category)
}

// UpdateCategory edits a category (admin only)
func (h *CategoryHandler) UpdateCategory(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var input categoryInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var category models.Category
	if err := h.db.First(&category, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
		return
	}

	category.Name = strings.TrimSpace(input.Name)
	category.Description = strings.TrimSpace(input.Description)
	category.Position = input.Position
	if input.Slug != "" {
		category.Slug = categorySlug(input)
	}
	if category.Slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid slug"})
		return
	}

	if err := h.db.Save(&category).Error; err != nil {
		if database.IsUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "A category with this slug already exists"})
			return
		}
		serverError(c, "Failed to update category", err)
		return
	}

	// thread listings embed the category
	h.cache.Invalidate(cache.TagCategories, cache.TagThreads)
	h.index.Category(c.Request.Context(), category)
	c.JSON(http.StatusOK, category)
}

// DeleteCategory removes an empty category (admin only). Categories that
// still hold threads are rejected with 409.
func (h *CategoryHandler) DeleteCategory(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var category models.Category
	if err := h.db.First(&category, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
		return
	}

	var threads int64
	if err := h.db.Model(&models.Thread{}).Where("category_id = ?", id).Count(&threads).Error; err != nil {
		serverError(c, "Failed to count threads", err)
		return
	}
	if threads > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Category still has threads"})
		return
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		// soft-deleted threads still reference the category
		var purged []int
		if err := tx.Unscoped().Model(&models.Thread{}).Where("category_id = ?", id).Pluck("id", &purged).Error; err != nil {
			return err
		}
		if len(purged) > 0 {
			if err := purgeThreads(tx, purged); err != nil {
				return err
			}
		}
		return tx.Delete(&category).Error
	})
	if err != nil {
		serverError(c, "Failed to delete category", err)
		return
	}

	h.cache.Invalidate(cache.TagCategories)
	h.index.RemoveCategory(c.Request.Context(), category.ID)
	c.JSON(http.StatusOK, gin.H{"message": "Category deleted successfully"})
}

func categorySlug(input categoryInput) string {
	if input.Slug != "" {
		return models.Slugify(input.Slug, 64)
	}
	return models.Slugify(input.Name, 64)
}

// purgeThreads hard-deletes threads and everything hanging off them.
func purgeThreads(tx *gorm.DB, threadIDs []int) error {
	postIDs := tx.Unscoped().Model(&models.Post{}).Select("id").Where("thread_id IN ?", threadIDs)
	if err := tx.Where("post_id IN (?)", postIDs).Delete(&models.Vote{}).Error; err != nil {
		return err
	}
	if err := tx.Unscoped().Where("thread_id IN ?", threadIDs).Delete(&models.Post{}).Error; err != nil {
		return err
	}
	if err := tx.Where("thread_id IN ?", threadIDs).Delete(&models.Subscription{}).Error; err != nil {
		return err
	}
	if err := tx.Exec("DELETE FROM thread_tags WHERE thread_id IN ?", threadIDs).Error; err != nil {
		return err
	}
	return tx.Unscoped().Where("id IN ?", threadIDs).Delete(&models.Thread{}).Error
}
