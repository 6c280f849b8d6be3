package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/search"
	"github.com/emilythestrangee/forum/backend/internal/storage"
)

const (
	maxBioLength = 500
	// room for the multipart envelope around a maximum-size file
	maxUploadBody = storage.MaxUploadSize + 1<<20
)

type UserHandler struct {
	db      *gorm.DB
	uploads storage.Uploader
	index   *search.Indexer
}

// GetUserProfile returns a user's public profile with activity counts
func (h *UserHandler) GetUserProfile(c *gin.Context) {
	var user models.User
	if err := h.db.Where("username = ?", c.Param("username")).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		} else {
			serverError(c, "Failed to fetch user", err)
		}
		return
	}

	var threadCount, postCount int64
	if err := h.db.Model(&models.Thread{}).Where("author_id = ?", user.ID).Count(&threadCount).Error; err != nil {
		serverError(c, "Failed to count threads", err)
		return
	}
	if err := h.db.Model(&models.Post{}).Where("author_id = ?", user.ID).Count(&postCount).Error; err != nil {
		serverError(c, "Failed to count posts", err)
		return
	}

	var recent []models.Thread
	if err := h.db.Preload("Category").Preload("Tags").
		Where("author_id = ?", user.ID).
		Order("created_at desc").Limit(5).
		Find(&recent).Error; err != nil {
		serverError(c, "Failed to fetch threads", err)
		return
	}
	threads := make([]models.ThreadResponse, len(recent))
	for i, t := range recent {
		t.Author = user
		threads[i] = t.Response()
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":         user.ID,
			"username":   user.Username,
			"bio":        user.Bio,
			"avatar":     user.Avatar,
			"role":       user.Role,
			"banned":     user.Banned(),
			"created_at": user.CreatedAt,
		},
		"thread_count":   threadCount,
		"post_count":     postCount,
		"recent_threads": threads,
	})
}

// UpdateMe edits the signed-in user's bio and avatar
func (h *UserHandler) UpdateMe(c *gin.Context) {
	user := currentUser(c)

	var input struct {
		Bio    *string `json:"bio"`
		Avatar *string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]any{}
	if input.Bio != nil {
		bio := strings.TrimSpace(*input.Bio)
		if len([]rune(bio)) > maxBioLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Bio is too long"})
			return
		}
		user.Bio = bio
		updates["bio"] = bio
	}
	if input.Avatar != nil {
		avatar := strings.TrimSpace(*input.Avatar)
		if avatar != "" && !strings.HasPrefix(avatar, "https://") && !strings.HasPrefix(avatar, "http://") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Avatar must be an http(s) URL"})
			return
		}
		user.Avatar = avatar
		updates["avatar"] = avatar
	}
	if len(updates) > 0 {
		if err := h.db.Model(user).Updates(updates).Error; err != nil {
			serverError(c, "Failed to update profile", err)
			return
		}
		h.index.User(c.Request.Context(), *user)
	}

	c.JSON(http.StatusOK, user)
}

// UploadAvatar stores an image and makes it the signed-in user's avatar
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	user := currentUser(c)

	url, ok := h.upload(c, "avatars")
	if !ok {
		return
	}
	if err := h.db.Model(user).Update("avatar", url).Error; err != nil {
		serverError(c, "Failed to update avatar", err)
		return
	}
	user.Avatar = url
	h.index.User(c.Request.Context(), *user)

	c.JSON(http.StatusOK, gin.H{"avatar": url})
}

// UploadImage stores an image for embedding in a post
func (h *UserHandler) UploadImage(c *gin.Context) {
	url, ok := h.upload(c, "images")
	if !ok {
		return
	}
	c.JSON(http.StatusCreated, gin.H{"url": url})
}

// upload reads the multipart "file" field, sniffs its type and stores it.
func (h *UserHandler) upload(c *gin.Context, prefix string) (string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBody)
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return "", false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file"})
		return "", false
	}
	if header.Size > storage.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return "", false
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file"})
		return "", false
	}
	defer file.Close()

	sniff := make([]byte, 512)
	n, _ := io.ReadFull(file, sniff)
	contentType := http.DetectContentType(sniff[:n])
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		serverError(c, "Failed to read file", err)
		return "", false
	}

	url, err := h.uploads.Upload(c.Request.Context(), prefix, contentType, file, header.Size)
	switch {
	case err == nil:
		return url, true
	case errors.Is(err, storage.ErrDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Uploads are not available"})
	case errors.Is(err, storage.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PNG, JPEG, GIF and WebP images are allowed"})
	case errors.Is(err, storage.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
	default:
		serverError(c, "Failed to store file", err)
	}
	return "", false
}
