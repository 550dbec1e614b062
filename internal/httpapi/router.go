package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
)

// NewRouter mounts the relay. jwtSecret empty means the body userId is
// trusted as supplied by an upstream auth layer.
func NewRouter(h *handlers.Handler, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, "route not found", nil)
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	r.GET("/ping", h.Ping)
	r.GET("/models", h.ListModels)

	relayGroup := r.Group("/chat")
	if jwtSecret != "" {
		relayGroup.Use(middleware.AuthRequired(jwtSecret))
	}
	relayGroup.POST("", h.Chat)
	relayGroup.POST("/retry", h.Retry)
	if h.Jobs != nil {
		relayGroup.POST("/async", h.ChatAsync)
		relayGroup.GET("/jobs/:job_id", h.GetChatJob)
	}
	return r
}
