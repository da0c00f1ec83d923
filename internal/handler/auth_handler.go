// Package handler contains the HTTP handlers of the chatbot API.
package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"ngmc-chatbot-go/internal/middleware"
	"ngmc-chatbot-go/internal/service"
	"ngmc-chatbot-go/pkg/log"
)

// AuthHandler serves check-auth.
type AuthHandler struct {
	userService service.UserService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(userService service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// CheckAuthRequest is the check-auth request body.
type CheckAuthRequest struct {
	APIKey   string `json:"apikey"`
	UserName string `json:"userName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// CheckAuth registers the user on first contact and is a no-op afterwards.
func (h *AuthHandler) CheckAuth(c *gin.Context) {
	var req CheckAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CheckAuth: invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	res, err := h.userService.CheckAuth(c.Request.Context(), service.CheckAuthInput{
		APIKey:   strings.TrimSpace(req.APIKey),
		UserName: strings.TrimSpace(req.UserName),
		Email:    strings.TrimSpace(req.Email),
		Password: strings.TrimSpace(req.Password),
	})
	if err != nil {
		respondError(c, err, "Failed to create/get user")
		return
	}

	message := "User already exists"
	if res.Created {
		message = "User created successfully"
	}
	body := gin.H{"status": "success", "message": message}
	if res.Token != "" {
		body["token"] = res.Token
	}
	log.Infow("check-auth", "request_id", middleware.RequestID(c), "user_id", res.User.ID, "created", res.Created)
	c.JSON(http.StatusOK, body)
}
