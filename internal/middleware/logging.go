// Package middleware holds the Gin middleware of the HTTP server.
package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"ngmc-chatbot-go/pkg/log"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

const requestIDKey = "request_id"

// RequestLogger tags every request with an id and logs one line when it completes.
// Bodies are not logged because they carry passwords.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		fields := []interface{}{
			"request_id", requestID,
			"status", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"bytes", c.Writer.Size(),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}
		switch {
		case c.Writer.Status() >= 500:
			log.Errorw("HTTP request", fields...)
		case c.Writer.Status() >= 400:
			log.Warnw("HTTP request", fields...)
		default:
			log.Infow("HTTP request", fields...)
		}
	}
}

// RequestID returns the id assigned by RequestLogger.
func RequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
