package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/relay"
	"go.uber.org/zap"
)

type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Handler struct {
	Relay    *relay.Orchestrator
	Registry *ai.Registry
	ChatSvc  *chat.Service
	// Jobs is nil when no broker is configured; the async routes are not mounted then.
	Jobs JobPublisher
	Log  *zap.SugaredLogger
}

func NewHandler(orch *relay.Orchestrator, jobs JobPublisher, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{
		Relay:    orch,
		Registry: orch.Registry,
		ChatSvc:  orch.Chats,
		Jobs:     jobs,
		Log:      log,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (h *Handler) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": h.Registry.Models()})
}
