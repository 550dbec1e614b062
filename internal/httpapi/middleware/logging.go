package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/logger"
)

// RequestLogger logs one line per request once the handler returns, which
// for a relay is after the stream has ended.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Infow("http request",
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"bytes", c.Writer.Size(),
			"request_id", c.GetString(RequestIDKey),
		)
	}
}
