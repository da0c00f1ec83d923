package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"ngmc-chatbot-go/internal/middleware"
	"ngmc-chatbot-go/internal/model"
	"ngmc-chatbot-go/internal/service"
	"ngmc-chatbot-go/pkg/log"
)

// timeLayout is ISO 8601 in UTC with millisecond precision.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

type conversationResponse struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type chatResponse struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	UserID        *string                `json:"user_id"`
	CreatedAt     string                 `json:"created_at"`
	Conversations []conversationResponse `json:"conversations"`
}

func toChatResponses(chats []model.ChatWithConversations) []chatResponse {
	out := make([]chatResponse, 0, len(chats))
	for _, chat := range chats {
		convs := make([]conversationResponse, 0, len(chat.Conversations))
		for _, conv := range chat.Conversations {
			convs = append(convs, conversationResponse{
				ID:        conv.ID,
				Role:      conv.Role,
				Message:   conv.Message,
				CreatedAt: formatTime(conv.CreatedAt),
			})
		}
		out = append(out, chatResponse{
			ID:            chat.ID,
			Title:         chat.Title,
			UserID:        chat.UserID,
			CreatedAt:     formatTime(chat.CreatedAt),
			Conversations: convs,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// respondError maps service errors to status codes. Anything unexpected is logged
// and answered with a 500 carrying internalMsg.
func respondError(c *gin.Context, err error, internalMsg string) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
	case errors.Is(err, service.ErrInvalidAPIKey):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid access key"})
	case errors.Is(err, service.ErrMissingCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Email and password are required"})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	case errors.Is(err, service.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Chat not found"})
	case errors.Is(err, service.ErrChatForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized to access this chat"})
	default:
		log.Errorw(internalMsg, "request_id", middleware.RequestID(c), "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": internalMsg})
	}
}

// Preflight answers OPTIONS requests that the CORS middleware let through.
func Preflight(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// MethodNotAllowed answers a known path requested with a method other than required.
func MethodNotAllowed(required string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": required + " required"})
	}
}
