package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/auth"
	"github.com/emilythestrangee/forum/backend/internal/database"
	"github.com/emilythestrangee/forum/backend/internal/logging"
	"github.com/emilythestrangee/forum/backend/internal/models"
	"github.com/emilythestrangee/forum/backend/internal/search"
	"github.com/emilythestrangee/forum/backend/internal/webhooks"
)

const maxUsernameLength = 32

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,32}$`)

type AuthHandler struct {
	db     *gorm.DB
	issuer *auth.Issuer
	otp    auth.OTPSender
	google *auth.GoogleVerifier
	events webhooks.Publisher
	index  *search.Indexer
}

// Register handles user registration
func (h *AuthHandler) Register(c *gin.Context) {
	var input struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !usernamePattern.MatchString(input.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username must be 3-32 letters, digits or underscores"})
		return
	}
	if len(input.Password) < auth.MinPasswordLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Password must be at least %d characters", auth.MinPasswordLength)})
		return
	}
	email := normalizeEmail(input.Email)

	// Check if username or email already exists
	var existing int64
	if err := h.db.Model(&models.User{}).Where("username = ? OR email = ?", input.Username, email).Count(&existing).Error; err != nil {
		serverError(c, "Database error", err)
		return
	}
	if existing > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "Username or email already exists"})
		return
	}

	hashed, err := auth.HashPassword(input.Password)
	if err != nil {
		serverError(c, "Failed to hash password", err)
		return
	}

	user := models.User{
		Username:     input.Username,
		Email:        email,
		Password:     hashed,
		Role:         models.RoleUser,
		AuthProvider: "email",
	}
	if err := h.db.Create(&user).Error; err != nil {
		if database.IsUniqueViolation(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "Username or email already exists"})
			return
		}
		serverError(c, "Failed to create user", err)
		return
	}

	h.registered(c, &user)
	h.respondWithToken(c, http.StatusCreated, &user, "User registered successfully")
}

// Login handles password login
func (h *AuthHandler) Login(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var user models.User
	if err := h.db.Where("email = ?", normalizeEmail(input.Email)).First(&user).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err := auth.CheckPassword(user.Password, input.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	h.respondWithToken(c, http.StatusOK, &user, "Login successful")
}

// RequestOTP emails a one-time sign-in code.
func (h *AuthHandler) RequestOTP(c *gin.Context) {
	var input struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.otp.Send(c.Request.Context(), normalizeEmail(input.Email)); err != nil {
		if errors.Is(err, auth.ErrOTPDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Email sign-in is not available"})
			return
		}
		serverError(c, "Failed to send verification code", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Verification code sent"})
}

// VerifyOTP exchanges an emailed code for a token, creating the account on
// first sign-in.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required,email"`
		Code     string `json:"code" binding:"required"`
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	email := normalizeEmail(input.Email)

	ok, err := h.otp.Check(c.Request.Context(), email, strings.TrimSpace(input.Code))
	if err != nil {
		if errors.Is(err, auth.ErrOTPDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Email sign-in is not available"})
			return
		}
		serverError(c, "Failed to check verification code", err)
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired code"})
		return
	}

	var user models.User
	result := h.db.Where("email = ?", email).First(&user)
	switch {
	case errors.Is(result.Error, gorm.ErrRecordNotFound):
		if input.Username != "" && !usernamePattern.MatchString(input.Username) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Username must be 3-32 letters, digits or underscores"})
			return
		}
		username := input.Username
		if username == "" {
			username = generateUsernameFromEmail(email)
		}
		username, err := h.ensureUniqueUsername(username)
		if err != nil {
			serverError(c, "Database error", err)
			return
		}
		user = models.User{
			Username:      username,
			Email:         email,
			Role:          models.RoleUser,
			AuthProvider:  "otp",
			EmailVerified: true,
		}
		if err := h.db.Create(&user).Error; err != nil {
			if database.IsUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "Username or email already exists"})
				return
			}
			serverError(c, "Failed to create user", err)
			return
		}
		h.registered(c, &user)
	case result.Error != nil:
		serverError(c, "Database error", result.Error)
		return
	case !user.EmailVerified:
		user.EmailVerified = true
		h.db.Model(&user).Update("email_verified", true)
	}

	h.respondWithToken(c, http.StatusOK, &user, "Login successful")
}

// GoogleLogin handles Google OAuth login
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	var input struct {
		Token    string `json:"token" binding:"required"`
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}

	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	googleUser, err := h.google.Verify(c.Request.Context(), input.Token)
	if err != nil {
		logging.FromContext(c.Request.Context()).Info("google token rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Google token"})
		return
	}
	email := normalizeEmail(googleUser.Email)

	var user models.User
	result := h.db.Where("email = ? OR google_id = ?", email, googleUser.Sub).First(&user)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		username := input.Username
		if username == "" || !usernamePattern.MatchString(username) {
			username = generateUsernameFromEmail(email)
		}

		avatar := input.Avatar
		if avatar == "" {
			avatar = googleUser.Picture
		}

		username, err := h.ensureUniqueUsername(username)
		if err != nil {
			serverError(c, "Database error", err)
			return
		}

		user = models.User{
			Username:      username,
			Email:         email,
			Avatar:        avatar,
			GoogleID:      googleUser.Sub,
			Role:          models.RoleUser,
			AuthProvider:  "google",
			EmailVerified: true,
		}
		if err := h.db.Create(&user).Error; err != nil {
			if database.IsUniqueViolation(err) {
				c.JSON(http.StatusConflict, gin.H{"error": "Username or email already exists"})
				return
			}
			serverError(c, "Failed to create user", err)
			return
		}
		h.registered(c, &user)
	} else if result.Error != nil {
		serverError(c, "Database error", result.Error)
		return
	} else {
		// Existing user - link the Google account and fill in what is missing
		updates := map[string]any{}
		if user.GoogleID == "" {
			user.GoogleID = googleUser.Sub
			updates["google_id"] = user.GoogleID
		}
		if user.Avatar == "" && (input.Avatar != "" || googleUser.Picture != "") {
			user.Avatar = input.Avatar
			if user.Avatar == "" {
				user.Avatar = googleUser.Picture
			}
			updates["avatar"] = user.Avatar
		}
		if !user.EmailVerified {
			user.EmailVerified = true
			updates["email_verified"] = true
		}
		if len(updates) > 0 {
			h.db.Model(&user).Updates(updates)
		}
	}

	h.respondWithToken(c, http.StatusOK, &user, "")
}

// GetMe returns the current authenticated user
func (h *AuthHandler) GetMe(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"username":       user.Username,
		"email":          user.Email,
		"bio":            user.Bio,
		"avatar":         user.Avatar,
		"role":           user.Role,
		"auth_provider":  user.AuthProvider,
		"email_verified": user.EmailVerified,
		"banned":         user.Banned(),
		"created_at":     user.CreatedAt,
	})
}

func (h *AuthHandler) registered(c *gin.Context, user *models.User) {
	ctx := c.Request.Context()
	logging.FromContext(ctx).Info("user registered",
		zap.Int("user_id", user.ID), zap.String("provider", user.AuthProvider))
	h.index.User(ctx, *user)
	h.events.Publish(ctx, webhooks.EventUserRegistered, user.Summary())
}

func (h *AuthHandler) respondWithToken(c *gin.Context, status int, user *models.User, message string) {
	token, err := h.issuer.Issue(user)
	if err != nil {
		serverError(c, "Failed to generate token", err)
		return
	}
	c.JSON(status, models.AuthResponse{Token: token, User: *user, Message: message})
}

// Helper functions

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateUsernameFromEmail keeps the allowed characters of the local part.
func generateUsernameFromEmail(email string) string {
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '+':
			b.WriteByte('_')
		}
	}
	name := b.String()
	if len(name) > 26 {
		name = name[:26]
	}
	for len(name) < 3 {
		name += "_"
	}
	return name
}

// ensureUniqueUsername appends a counter to base until the name is free,
// trimming base so the result still fits the username column.
func (h *AuthHandler) ensureUniqueUsername(base string) (string, error) {
	username := base
	for counter := 1; ; counter++ {
		var count int64
		if err := h.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return username, nil
		}
		suffix := strconv.Itoa(counter)
		trimmed := base
		if len(trimmed)+len(suffix) > maxUsernameLength {
			trimmed = trimmed[:maxUsernameLength-len(suffix)]
		}
		username = trimmed + suffix
	}
}
