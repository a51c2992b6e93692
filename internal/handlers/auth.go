package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-backend/internal/auth"
	"chat-backend/internal/middleware"
	"chat-backend/internal/models"
	"chat-backend/internal/repositories"
	"chat-backend/internal/telemetry"
)

// AuthHandler manages login code issuance, verification, and invites.
type AuthHandler struct {
	identity *auth.Service
	users    repositories.UserRepository
	chats    repositories.ChatRepository
	audit    *telemetry.AuditEmitter
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(identity *auth.Service, users repositories.UserRepository, chats repositories.ChatRepository, audit *telemetry.AuditEmitter) *AuthHandler {
	return &AuthHandler{identity: identity, users: users, chats: chats, audit: audit}
}

// SendOTP issues a fresh login code to the given email.
func (h *AuthHandler) SendOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	if err := h.identity.RequestCode(c.Request.Context(), req.Email); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidEmail):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrDeliveryFailed):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send code, please try again"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to send code, please try again"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "code sent successfully",
		"email":      strings.ToLower(strings.TrimSpace(req.Email)),
		"expires_in": "5 minutes",
	})
}

// VerifyOTP consumes a login code and returns a session token. New emails
// create an account and must carry a username.
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		OTP      string `json:"otp" binding:"required"`
		Username string `json:"username"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and otp are required"})
		return
	}

	token, user, err := h.identity.VerifyCode(c.Request.Context(), req.Email, req.OTP, req.Username)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCode),
			errors.Is(err, auth.ErrInvalidOrExpiredCode),
			errors.Is(err, auth.ErrUsernameRequired),
			errors.Is(err, auth.ErrInvalidUsername),
			errors.Is(err, auth.ErrUsernameTaken):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify code"})
		}
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", "user logged in", requestIDFromContext(c), user.ID)

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  userProfile(user),
	})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c *gin.Context) {
	user := c.MustGet(middleware.UserKey).(models.User)
	profile := userProfile(user)
	profile["is_online"] = user.IsOnline
	profile["last_seen"] = user.LastSeen
	c.JSON(http.StatusOK, profile)
}

// GenerateInvite stores a fresh invite code on the caller's account.
func (h *AuthHandler) GenerateInvite(c *gin.Context) {
	userID := userIDFromContext(c)

	code, err := auth.GenerateInviteCode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate invite code"})
		return
	}

	user, err := h.users.UpdateInviteCode(c.Request.Context(), userID, code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate invite code"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"invite_code": user.InviteCode,
		"message":     "invite code generated successfully",
	})
}

// JoinInvite redeems another user's invite code, creating or returning the
// personal chat between the two users.
func (h *AuthHandler) JoinInvite(c *gin.Context) {
	var req struct {
		InviteCode string `json:"invite_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invite code is required"})
		return
	}

	userID := userIDFromContext(c)

	inviter, err := h.users.GetUserByInviteCode(c.Request.Context(), strings.ToUpper(req.InviteCode))
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to join invite"
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
			msg = "invalid invite code"
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	if inviter.ID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot invite yourself"})
		return
	}

	chat, err := h.chats.CreateOrGetPersonalChat(c.Request.Context(), userID, inviter.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join invite"})
		return
	}

	detail, err := h.chats.GetChatDetail(c.Request.Context(), chat.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to join invite"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chat":    detail,
		"message": fmt.Sprintf("successfully connected with %s", inviter.Username),
	})
}

func userProfile(user models.User) gin.H {
	inviteCode := ""
	if user.InviteCode != nil {
		inviteCode = *user.InviteCode
	}
	return gin.H{
		"id":          user.ID,
		"email":       user.Email,
		"username":    user.Username,
		"avatar":      user.Avatar,
		"invite_code": inviteCode,
	}
}
