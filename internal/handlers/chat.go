package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chat-backend/internal/models"
	"chat-backend/internal/repositories"
	"chat-backend/internal/telemetry"
)

// Absence of membership reads the same as a nonexistent chat so chat
// existence never leaks to outsiders.
const msgChatNotFound = "chat not found or access denied"

// ChatHandler manages chat listing, messages, groups, and user search.
type ChatHandler struct {
	chats    repositories.ChatRepository
	messages repositories.MessageRepository
	users    repositories.UserRepository
	audit    *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chats repositories.ChatRepository, messages repositories.MessageRepository, users repositories.UserRepository, audit *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{chats: chats, messages: messages, users: users, audit: audit}
}

// ListChats returns the caller's chats with rosters and last messages,
// most recently active first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	userID := userIDFromContext(c)

	chats, err := h.chats.ListUserChats(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

// GetChatDetail returns one chat with its participant roster, membership
// gated.
func (h *ChatHandler) GetChatDetail(c *gin.Context) {
	chatID := c.Param("chat_id")
	userID := userIDFromContext(c)

	if !h.requireParticipant(c, chatID, userID) {
		return
	}

	detail, err := h.chats.GetChatDetail(c.Request.Context(), chatID)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to load chat"
		if errors.Is(err, repositories.ErrChatNotFound) {
			status = http.StatusNotFound
			msg = msgChatNotFound
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	c.JSON(http.StatusOK, detail)
}

// GetChatMessages returns a page of the chat's messages in chronological
// order, membership gated.
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	chatID := c.Param("chat_id")
	userID := userIDFromContext(c)

	if !h.requireParticipant(c, chatID, userID) {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	msgs, err := h.messages.ListChatMessages(c.Request.Context(), chatID, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// CreateGroup creates a group chat with the caller as admin.
func (h *ChatHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name         string   `json:"name" binding:"required"`
		Participants []string `json:"participants" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "group name and at least 1 participant required"})
		return
	}

	userID := userIDFromContext(c)

	chat, err := h.chats.CreateGroupChat(c.Request.Context(), req.Name, userID, req.Participants)
	if err != nil {
		if errors.Is(err, repositories.ErrNoValidParticipants) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no valid participants found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}

	detail, err := h.chats.GetChatDetail(c.Request.Context(), chat.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create chat"})
		return
	}

	c.JSON(http.StatusCreated, detail)
}

// DeleteChat removes a chat. Group chats may only be deleted by their
// admin; personal chats by either participant.
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	chatID := c.Param("chat_id")
	userID := userIDFromContext(c)

	if !h.requireParticipant(c, chatID, userID) {
		return
	}

	chat, err := h.chats.GetChat(c.Request.Context(), chatID)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "failed to delete chat"
		if errors.Is(err, repositories.ErrChatNotFound) {
			status = http.StatusNotFound
			msg = msgChatNotFound
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}

	if chat.IsGroup && (chat.AdminID == nil || *chat.AdminID != userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the group admin can delete this chat"})
		return
	}

	if err := h.chats.DeleteChat(c.Request.Context(), chatID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete chat"})
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO", "chat deleted", requestIDFromContext(c), userID)
	c.Status(http.StatusNoContent)
}

// SearchUsers matches other users by username or email substring.
func (h *ChatHandler) SearchUsers(c *gin.Context) {
	query := c.Query("q")
	if len(query) < 2 {
		c.JSON(http.StatusOK, gin.H{"users": []models.PublicUser{}})
		return
	}

	users, err := h.users.SearchUsers(c.Request.Context(), query, userIDFromContext(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users})
}

// requireParticipant enforces the membership gate. It writes the 404
// response itself and reports whether the request may proceed.
func (h *ChatHandler) requireParticipant(c *gin.Context, chatID, userID string) bool {
	member, err := h.chats.IsParticipant(c.Request.Context(), chatID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify membership"})
		return false
	}
	if !member {
		c.JSON(http.StatusNotFound, gin.H{"error": msgChatNotFound})
		return false
	}
	return true
}
