package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"ngmc-chatbot-go/internal/middleware"
	"ngmc-chatbot-go/internal/service"
	"ngmc-chatbot-go/pkg/log"
)

// ChatHandler serves the chat endpoints.
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// PostChatRequest is the body of new-chat and continue-chat. Credentials in the
// same body are consumed by middleware.Credentials.
type PostChatRequest struct {
	Message string `json:"message"`
}

// NewChat starts a chat with the first message. Requires middleware.Credentials.
func (h *ChatHandler) NewChat(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email and password are required"})
		return
	}
	var req PostChatRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	res, err := h.chatService.NewChat(c.Request.Context(), user, req.Message)
	if err != nil {
		respondError(c, err, "Failed to process chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chatId": res.ChatID,
		"reply":  res.Reply,
		"title":  res.Title,
		"userId": res.UserID,
	})
}

// ContinueChat appends a message to the chat named by the chatId path parameter.
// Requires middleware.Credentials.
func (h *ChatHandler) ContinueChat(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email and password are required"})
		return
	}
	var req PostChatRequest
	if err := c.ShouldBindBodyWith(&req, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	res, err := h.chatService.ContinueChat(c.Request.Context(), user, c.Param("chatId"), req.Message)
	if err != nil {
		respondError(c, err, "Failed to process chat")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chatId": res.ChatID,
		"reply":  res.Reply,
		"userId": res.UserID,
	})
}

// ListAllChats returns every chat with its turns. It is unauthenticated.
func (h *ChatHandler) ListAllChats(c *gin.Context) {
	chats, err := h.chatService.ListAll(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to fetch chats")
		return
	}
	c.JSON(http.StatusOK, toChatResponses(chats))
}

// ListUserChats returns the caller's profile and chats. Requires middleware.Credentials.
func (h *ChatHandler) ListUserChats(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email and password are required"})
		return
	}
	chats, err := h.chatService.ListByUser(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err, "Failed to fetch chats")
		return
	}
	log.Infow("listed user chats", "request_id", middleware.RequestID(c), "user_id", user.ID, "count", len(chats))
	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":       user.ID,
			"userName": user.UserName,
			"email":    user.Email,
		},
		"chats": toChatResponses(chats),
	})
}
