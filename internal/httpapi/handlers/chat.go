package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/chat-relay/internal/relay"
	"gorm.io/gorm"
)

type chatReq struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	ChatID       string `json:"chatId"`
	UserID       string `json:"userId"`
	MessageID    string `json:"messageId"`
	SystemPrompt string `json:"systemPrompt"`
}

// bind reads the body and settles the caller. With auth enabled the token
// subject wins and a different body userId is treated like a foreign chat.
func (h *Handler) bind(c *gin.Context, retry bool) (relay.Request, bool) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, "Invalid JSON body", nil)
		return relay.Request{}, false
	}

	if uid, ok := middleware.UserID(c); ok {
		if req.UserID != "" && req.UserID != uid {
			common.Fail(c, http.StatusNotFound, "Chat not found", nil)
			return relay.Request{}, false
		}
		req.UserID = uid
	}

	return relay.Request{
		UserID:       strings.TrimSpace(req.UserID),
		ChatID:       strings.TrimSpace(req.ChatID),
		Model:        strings.TrimSpace(req.Model),
		Prompt:       req.Prompt,
		MessageID:    strings.TrimSpace(req.MessageID),
		SystemPrompt: req.SystemPrompt,
		Retry:        retry,
	}, true
}

func (h *Handler) failPrepare(c *gin.Context, req relay.Request, err error) {
	var rerr *relay.Error
	if !errors.As(err, &rerr) {
		rerr = &relay.Error{Kind: relay.KindInternal, Message: "Internal server error", Err: err}
	}
	if rerr.Kind == relay.KindInternal {
		h.Log.Errorw("relay rejected", "error", err, "chat_id", req.ChatID, "user_id", req.UserID, "model", req.Model)
	} else {
		h.Log.Infow("relay rejected", "kind", rerr.Kind.String(), "message", rerr.Message, "chat_id", req.ChatID, "model", req.Model)
	}
	common.Fail(c, rerr.Status(), rerr.Message, rerr.Details)
}

func (h *Handler) stream(c *gin.Context, retry bool) {
	req, ok := h.bind(c, retry)
	if !ok {
		return
	}

	turn, err := h.Relay.Prepare(c.Request.Context(), req)
	if err != nil {
		h.failPrepare(c, req, err)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Header("X-Message-ID", turn.MessageID)
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	h.Relay.Run(c.Request.Context(), turn, c.Writer)
}

// Chat streams the answer to a new prompt.
func (h *Handler) Chat(c *gin.Context) { h.stream(c, false) }

// Retry regenerates an existing assistant message in place.
func (h *Handler) Retry(c *gin.Context) { h.stream(c, true) }

// ChatAsync prepares the turn like Chat, then hands the stream to a worker.
func (h *Handler) ChatAsync(c *gin.Context) {
	req, ok := h.bind(c, false)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	turn, err := h.Relay.Prepare(ctx, req)
	if err != nil {
		h.failPrepare(c, req, err)
		return
	}

	// from here on the message row exists and must end up terminal
	abandon := func(msg string, err error) {
		h.Log.Errorw(msg, "error", err, "chat_id", turn.ChatID, "message_id", turn.MessageID)
		h.Relay.Abandon(ctx, turn.ChatID, turn.MessageID, err)
		common.Fail(c, http.StatusInternalServerError, "Internal server error", nil)
	}

	jobID, err := common.NewULID()
	if err != nil {
		abandon("new job id failed", err)
		return
	}
	encoded, err := relay.EncodeContext(turn.Messages)
	if err != nil {
		abandon("encode job context failed", err)
		return
	}

	j := &chat.Job{
		ID:        jobID,
		UserID:    turn.UserID,
		ChatID:    turn.ChatID,
		MessageID: turn.MessageID,
		Model:     turn.Model.ID,
		Context:   encoded,
		Status:    chat.JobQueued,
	}
	if err := h.ChatSvc.CreateJob(ctx, j); err != nil {
		abandon("create job failed", err)
		return
	}
	if err := h.Jobs.PublishJob(ctx, j.ID); err != nil {
		_ = h.ChatSvc.Repo().MarkJobFailed(ctx, j.ID, "enqueue failed")
		abandon("publish job failed", err)
		return
	}

	common.OK(c, http.StatusAccepted, gin.H{"job_id": j.ID, "message_id": turn.MessageID})
}

func (h *Handler) GetChatJob(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	uid, ok := middleware.UserID(c)
	if !ok {
		uid = strings.TrimSpace(c.Query("userId"))
	}
	if jobID == "" || uid == "" {
		common.Fail(c, http.StatusBadRequest, "Missing required fields", nil)
		return
	}

	ctx := c.Request.Context()
	j, err := h.ChatSvc.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, "Job not found", nil)
			return
		}
		h.Log.Errorw("get job failed", "error", err, "job_id", jobID)
		common.Fail(c, http.StatusInternalServerError, "Internal server error", nil)
		return
	}
	if j.UserID != uid {
		// hide existence
		common.Fail(c, http.StatusNotFound, "Job not found", nil)
		return
	}

	out := gin.H{
		"id":         j.ID,
		"chat_id":    j.ChatID,
		"message_id": j.MessageID,
		"model":      j.Model,
		"status":     j.Status,
		"error":      j.Error,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	}
	if m, err := h.ChatSvc.Repo().GetMessage(ctx, j.ChatID, j.MessageID); err == nil {
		out["message_status"] = m.Status
		if m.Status != chat.StatusStreaming {
			out["content"] = m.Content
		}
	}
	common.OK(c, http.StatusOK, gin.H{"job": out})
}
