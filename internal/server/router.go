// Package server wires the HTTP routes of the chatbot API.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"ngmc-chatbot-go/internal/handler"
	"ngmc-chatbot-go/internal/middleware"
	"ngmc-chatbot-go/internal/service"
)

// answered with a JSON 405 on every route that does not accept them
var routedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// Dependencies are the services behind the routes.
type Dependencies struct {
	UserService service.UserService
	ChatService service.ChatService
}

// NewRouter builds the Gin engine. Each path answers with and without a trailing slash.
func NewRouter(allowedOrigins []string, deps Dependencies) *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(middleware.RequestLogger(), gin.Recovery(), middleware.CORS(allowedOrigins))

	authHandler := handler.NewAuthHandler(deps.UserService)
	chatHandler := handler.NewChatHandler(deps.ChatService)
	credentials := middleware.Credentials(deps.UserService)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	route(r, http.MethodPost, "/checkAuth", authHandler.CheckAuth)
	route(r, http.MethodPost, "/postchat", credentials, chatHandler.NewChat)
	route(r, http.MethodPost, "/postchat/:chatId", credentials, chatHandler.ContinueChat)
	route(r, http.MethodGet, "/getchat", chatHandler.ListAllChats)
	route(r, http.MethodPost, "/getuserchats", credentials, chatHandler.ListUserChats)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return r
}

// route registers handlers for method on path and path + "/", a 204 for OPTIONS
// and a 405 for the other methods.
func route(r *gin.Engine, method, path string, handlers ...gin.HandlerFunc) {
	for _, p := range []string{path, path + "/"} {
		r.Handle(method, p, handlers...)
		r.OPTIONS(p, handler.Preflight)
		for _, other := range routedMethods {
			if other != method {
				r.Handle(other, p, handler.MethodNotAllowed(method))
			}
		}
	}
}
