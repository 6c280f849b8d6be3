package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/analytics"
	"github.com/emilythestrangee/forum/backend/internal/auth"
	"github.com/emilythestrangee/forum/backend/internal/cache"
	"github.com/emilythestrangee/forum/backend/internal/logging"
	"github.com/emilythestrangee/forum/backend/internal/middleware"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/search"
	"github.com/emilythestrangee/forum/backend/internal/storage"
	"github.com/emilythestrangee/forum/backend/internal/webhooks"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// WebhookSender queues events and performs synchronous test deliveries.
type WebhookSender interface {
	webhooks.Publisher
	Deliver(ctx context.Context, hook models.Webhook, event string, data any) (*models.WebhookDelivery, error)
}

// Deps are the collaborators shared by the handlers.
type Deps struct {
	DB        *gorm.DB
	Issuer    *auth.Issuer
	OTP       auth.OTPSender
	Google    *auth.GoogleVerifier
	Search    search.Backend
	Webhooks  WebhookSender
	Cache     *cache.Cache
	Analytics *analytics.Service
	Uploads   storage.Uploader
}

// Handler combines all handler types
type Handler struct {
	Auth       *AuthHandler
	User       *UserHandler
	Category   *CategoryHandler
	Tag        *TagHandler
	Thread     *ThreadHandler
	Post       *PostHandler
	Report     *ReportHandler
	Moderation *ModerationHandler
	Search     *SearchHandler
	Analytics  *AnalyticsHandler
	Webhook    *WebhookHandler
}

// NewHandler creates a unified handler with all sub-handlers
func NewHandler(d Deps) *Handler {
	if d.OTP == nil {
		d.OTP = auth.DisabledOTP{}
	}
	if d.Google == nil {
		d.Google = &auth.GoogleVerifier{}
	}
	if d.Search == nil {
		d.Search = search.Nop{}
	}
	if d.Uploads == nil {
		d.Uploads = storage.Disabled{}
	}
	if d.Cache == nil {
		d.Cache = cache.New()
	}
	var events webhooks.Publisher = webhooks.Nop
	if d.Webhooks != nil {
		events = d.Webhooks
	}
	indexer := search.NewIndexer(d.Search, d.DB)

	return &Handler{
		Auth:       &AuthHandler{db: d.DB, issuer: d.Issuer, otp: d.OTP, google: d.Google, events: events, index: indexer},
		User:       &UserHandler{db: d.DB, uploads: d.Uploads, index: indexer},
		Category:   &CategoryHandler{db: d.DB, cache: d.Cache, index: indexer},
		Tag:        &TagHandler{db: d.DB, cache: d.Cache, index: indexer},
		Thread:     &ThreadHandler{db: d.DB, cache: d.Cache, events: events, index: indexer},
		Post:       &PostHandler{db: d.DB, cache: d.Cache, events: events, index: indexer},
		Report:     &ReportHandler{db: d.DB, events: events},
		Moderation: &ModerationHandler{db: d.DB, events: events, index: indexer},
		Search:     &SearchHandler{backend: d.Search},
		Analytics:  &AnalyticsHandler{service: d.Analytics},
		Webhook:    &WebhookHandler{db: d.DB, sender: d.Webhooks},
	}
}

// paramID parses the :name path parameter, answering 400 when malformed.
func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

// pagination reads ?page (1-based) and ?limit.
func pagination(c *gin.Context) (page, limit, offset int) {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(c.Query("limit"))
	if err != nil || limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit, (page - 1) * limit
}

func currentUser(c *gin.Context) *models.User {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return nil
	}
	return user
}

// canModerate reports whether user may act on content owned by authorID.
func canModerate(user *models.User, authorID int) bool {
	return user != nil && (user.ID == authorID || user.Role.AtLeast(models.RoleModerator))
}

func serverError(c *gin.Context, msg string, err error) {
	logging.FromContext(c.Request.Context()).Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
