package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"ngmc-chatbot-go/internal/model"
	"ngmc-chatbot-go/internal/service"
	"ngmc-chatbot-go/pkg/log"
)

const userKey = "user"

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Credentials resolves the calling user and stores it in the context.
// A bearer token wins; otherwise email and password are read from the JSON body,
// which stays readable for the handler through ShouldBindBodyWith.
func Credentials(userService service.UserService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			user *model.User
			err  error
		)
		if tokenString, ok := bearerToken(c); ok {
			user, err = userService.AuthenticateToken(c.Request.Context(), tokenString)
		} else {
			var body credentialsBody
			if bindErr := c.ShouldBindBodyWith(&body, binding.JSON); bindErr != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
				return
			}
			user, err = userService.Authenticate(c.Request.Context(),
				strings.TrimSpace(body.Email), strings.TrimSpace(body.Password))
		}

		switch {
		case err == nil:
		case errors.Is(err, service.ErrMissingCredentials):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Email and password are required"})
			return
		case errors.Is(err, service.ErrInvalidCredentials):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
			return
		default:
			log.Errorw("credential check failed", "request_id", RequestID(c), "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// CurrentUser returns the user stored by Credentials.
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

func bearerToken(c *gin.Context) (string, bool) {
	const bearerPrefix = "Bearer "
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", false
	}
	tokenString := strings.TrimSpace(strings.TrimPrefix(authHeader, bearerPrefix))
	return tokenString, tokenString != ""
}
