package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/logging"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/webhooks"
)

type ReportHandler struct {
	db     *gorm.DB
	events webhooks.Publisher
}

type reportResponse struct {
	models.Report
	Reporter models.UserSummary `json:"reporter"`
}

// CreateReport flags a thread, post or user for moderators
func (h *ReportHandler) CreateReport(c *gin.Context) {
	user := currentUser(c)

	var input struct {
		TargetType models.ReportTarget `json:"target_type" binding:"required"`
		TargetID   int                 `json:"target_id" binding:"required"`
		Reason     string              `json:"reason" binding:"required,max=500"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !input.TargetType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_type must be thread, post or user"})
		return
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Reason is required"})
		return
	}

	exists, err := h.targetExists(input.TargetType, input.TargetID)
	if err != nil {
		serverError(c, "Failed to fetch reported content", err)
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Reported content not found"})
		return
	}

	var open int64
	if err := h.db.Model(&models.Report{}).
		Where("reporter_id = ? AND target_type = ? AND target_id = ? AND status = ?",
			user.ID, input.TargetType, input.TargetID, models.ReportOpen).
		Count(&open).Error; err != nil {
		serverError(c, "Failed to check reports", err)
		return
	}
	if open > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "You have already reported this"})
		return
	}

	report := models.Report{
		ReporterID: user.ID,
		TargetType: input.TargetType,
		TargetID:   input.TargetID,
		Reason:     reason,
		Status:     models.ReportOpen,
	}
	if err := h.db.Omit("Reporter").Create(&report).Error; err != nil {
		serverError(c, "Failed to create report", err)
		return
	}

	resp := reportResponse{Report: report, Reporter: user.Summary()}
	h.events.Publish(c.Request.Context(), webhooks.EventReportCreated, resp)
	c.JSON(http.StatusCreated, resp)
}

func (h *ReportHandler) targetExists(target models.ReportTarget, id int) (bool, error) {
	var model any
	switch target {
	case models.TargetThread:
		model = &models.Thread{}
	case models.TargetPost:
		model = &models.Post{}
	default:
		model = &models.User{}
	}
	var count int64
	if err := h.db.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetReports lists reports by status, oldest first (moderator only)
func (h *ReportHandler) GetReports(c *gin.Context) {
	status := models.ReportStatus(c.DefaultQuery("status", string(models.ReportOpen)))
	switch status {
	case models.ReportOpen, models.ReportResolved, models.ReportDismissed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be open, resolved or dismissed"})
		return
	}
	page, limit, offset := pagination(c)

	var total int64
	if err := h.db.Model(&models.Report{}).Where("status = ?", status).Count(&total).Error; err != nil {
		serverError(c, "Failed to count reports", err)
		return
	}

	var reports []models.Report
	if err := h.db.Preload("Reporter").
		Where("status = ?", status).
		Order("created_at asc, id asc").
		Limit(limit).Offset(offset).
		Find(&reports).Error; err != nil {
		serverError(c, "Failed to fetch reports", err)
		return
	}

	responses := make([]reportResponse, len(reports))
	for i, r := range reports {
		responses[i] = reportResponse{Report: r, Reporter: r.Reporter.Summary()}
	}
	c.JSON(http.StatusOK, gin.H{"reports": responses, "page": page, "limit": limit, "total": total})
}

// ResolveReport closes an open report as resolved or dismissed (moderator only)
func (h *ReportHandler) ResolveReport(c *gin.Context) {
	moderator := currentUser(c)
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var input struct {
		Status models.ReportStatus `json:"status" binding:"required"`
		Note   string              `json:"note" binding:"max=1000"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.Status != models.ReportResolved && input.Status != models.ReportDismissed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be resolved or dismissed"})
		return
	}

	var report models.Report
	if err := h.db.Preload("Reporter").First(&report, id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
		return
	}

	now := time.Now().UTC()
	// only open reports transition
	result := h.db.Model(&models.Report{}).
		Where("id = ? AND status = ?", report.ID, models.ReportOpen).
		Updates(map[string]any{
			"status":          input.Status,
			"resolver_id":     moderator.ID,
			"resolution_note": strings.TrimSpace(input.Note),
			"resolved_at":     now,
		})
	if result.Error != nil {
		serverError(c, "Failed to update report", result.Error)
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Report is already closed"})
		return
	}

	report.Status = input.Status
	report.ResolverID = &moderator.ID
	report.ResolutionNote = strings.TrimSpace(input.Note)
	report.ResolvedAt = &now

	logging.FromContext(c.Request.Context()).Info("report closed",
		zap.Int("report_id", report.ID), zap.String("status", string(report.Status)), zap.Int("moderator_id", moderator.ID))

	resp := reportResponse{Report: report, Reporter: report.Reporter.Summary()}
	h.events.Publish(c.Request.Context(), webhooks.EventReportResolved, resp)
	c.JSON(http.StatusOK, resp)
}
