package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/logging"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/search"
	"github.com/emilythestrangee/forum/backend/internal/webhooks"
)

type ModerationHandler struct {
	db     *gorm.DB
	events webhooks.Publisher
	index  *search.Indexer
}

// loadTarget fetches the user named by :id and checks the actor outranks them.
func (h *ModerationHandler) loadTarget(c *gin.Context) (*models.User, *models.User, bool) {
	actor := currentUser(c)
	id, ok := paramID(c, "id")
	if !ok {
		return nil, nil, false
	}
	var target models.User
	if err := h.db.First(&target, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return nil, nil, false
	}
	if target.ID == actor.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot moderate yourself"})
		return nil, nil, false
	}
	if target.Role.AtLeast(actor.Role) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
		return nil, nil, false
	}
	return actor, &target, true
}

// BanUser blocks a user from writing (moderator only)
func (h *ModerationHandler) BanUser(c *gin.Context) {
	actor, target, ok := h.loadTarget(c)
	if !ok {
		return
	}

	var input struct {
		Reason string `json:"reason" binding:"max=500"`
	}
	if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if target.Banned() {
		c.JSON(http.StatusConflict, gin.H{"error": "User is already banned"})
		return
	}

	now := time.Now().UTC()
	reason := strings.TrimSpace(input.Reason)
	if err := h.db.Model(target).Updates(map[string]any{"banned_at": now, "ban_reason": reason}).Error; err != nil {
		serverError(c, "Failed to ban user", err)
		return
	}
	target.BannedAt = &now
	target.BanReason = reason

	ctx := c.Request.Context()
	logging.FromContext(ctx).Info("user banned",
		zap.Int("user_id", target.ID), zap.Int("moderator_id", actor.ID), zap.String("reason", reason))
	h.events.Publish(ctx, webhooks.EventUserBanned, gin.H{
		"user":      target.Summary(),
		"reason":    reason,
		"banned_by": actor.Summary(),
		"banned_at": now,
	})

	c.JSON(http.StatusOK, target)
}

// UnbanUser lifts a ban (moderator only)
func (h *ModerationHandler) UnbanUser(c *gin.Context) {
	actor, target, ok := h.loadTarget(c)
	if !ok {
		return
	}
	if !target.Banned() {
		c.JSON(http.StatusConflict, gin.H{"error": "User is not banned"})
		return
	}

	if err := h.db.Model(target).Updates(map[string]any{"banned_at": nil, "ban_reason": ""}).Error; err != nil {
		serverError(c, "Failed to unban user", err)
		return
	}
	target.BannedAt = nil
	target.BanReason = ""

	logging.FromContext(c.Request.Context()).Info("user unbanned",
		zap.Int("user_id", target.ID), zap.Int("moderator_id", actor.ID))
	c.JSON(http.StatusOK, target)
}

// SetRole changes a user's role (admin only)
func (h *ModerationHandler) SetRole(c *gin.Context) {
	actor := currentUser(c)
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var input struct {
		Role models.Role `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !input.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be user, moderator or admin"})
		return
	}
	if id == actor.ID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "You cannot change your own role"})
		return
	}

	var target models.User
	if err := h.db.First(&target, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	if err := h.db.Model(&target).Update("role", input.Role).Error; err != nil {
		serverError(c, "Failed to update role", err)
		return
	}
	target.Role = input.Role

	ctx := c.Request.Context()
	logging.FromContext(ctx).Info("role changed",
		zap.Int("user_id", target.ID), zap.String("role", string(target.Role)), zap.Int("admin_id", actor.ID))
	h.index.User(ctx, target)
	c.JSON(http.StatusOK, target)
}
