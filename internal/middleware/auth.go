package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/auth"
	"github.com/emilythestrangee/forum/backend/internal/models"
)

const (
	ContextUserID = "user_id"
	ContextUser   = "user"
)

// AuthMiddleware requires a valid bearer token whose user still exists. The
// user is reloaded so role changes and bans apply without a new token.
func AuthMiddleware(issuer *auth.Issuer, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := authenticate(c, issuer, db)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		setUser(c, user)
		c.Next()
	}
}

// OptionalAuth sets the user when a valid token is present and otherwise
// lets the request through anonymously.
func OptionalAuth(issuer *auth.Issuer, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, ok := authenticate(c, issuer, db); ok {
			setUser(c, user)
		}
		c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(role models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if !user.Role.AtLeast(role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient permissions"})
			return
		}
		c.Next()
	}
}

// NotBanned rejects writes from banned users. It must run after AuthMiddleware.
func NotBanned() gin.HandlerFunc {
	return func(c *gin.Context) {
		if user, ok := CurrentUser(c); ok && user.Banned() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Your account is banned"})
			return
		}
		c.Next()
	}
}

func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

func CurrentUserID(c *gin.Context) (int, bool) {
	id, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	v, ok := id.(int)
	return v, ok
}

func authenticate(c *gin.Context, issuer *auth.Issuer, db *gorm.DB) (*models.User, bool) {
	header := c.GetHeader("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return nil, false
	}
	claims, err := issuer.Parse(strings.TrimSpace(token))
	if err != nil {
		return nil, false
	}
	var user models.User
	if err := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; err != nil {
		return nil, false
	}
	return &user, true
}

func setUser(c *gin.Context, user *models.User) {
	c.Set(ContextUserID, user.ID)
	c.Set(ContextUser, user)
}
