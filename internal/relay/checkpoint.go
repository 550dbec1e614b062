package relay

import (
	"context"

	"github.com/suPer8Hu/chat-relay/internal/chat"
	"go.uber.org/zap"
)

// Store is the slice of the message store the relay writes to.
type Store interface {
	UpdateContent(ctx context.Context, messageID, content string) error
	FinishMessage(ctx context.Context, messageID string, status chat.MessageStatus, content string) error
	TouchChat(ctx context.Context, chatID string) error
}

// Checkpointer writes the live transcript every `every` deltas and exactly
// once at the end. Write failures are logged and never stop the stream.
type Checkpointer struct {
	store     Store
	log       *zap.SugaredLogger
	every     int
	chatID    string
	messageID string

	seen     int
	periodic int
	final    bool
}

func NewCheckpointer(store Store, log *zap.SugaredLogger, every int, chatID, messageID string) *Checkpointer {
	if every <= 0 {
		every = 10
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Checkpointer{store: store, log: log, every: every, chatID: chatID, messageID: messageID}
}

// Delta records one emitted delta and flushes on every Nth.
func (c *Checkpointer) Delta(ctx context.Context, transcript string) {
	if c.final {
		return
	}
	c.seen++
	if c.seen%c.every != 0 {
		return
	}
	c.periodic++
	if err := c.store.UpdateContent(ctx, c.messageID, transcript); err != nil {
		c.log.Errorw("checkpoint write failed",
			"chat_id", c.chatID, "message_id", c.messageID, "deltas", c.seen, "error", err)
	}
}

// Finish writes the terminal state. On failure the content becomes
// FailureMessage. Later calls are no-ops.
func (c *Checkpointer) Finish(ctx context.Context, transcript string, failed bool) {
	if c.final {
		return
	}
	c.final = true

	status, content := chat.StatusComplete, transcript
	if failed {
		status, content = chat.StatusError, FailureMessage
	}
	if err := c.store.FinishMessage(ctx, c.messageID, status, content); err != nil {
		c.log.Errorw("final checkpoint failed",
			"chat_id", c.chatID, "message_id", c.messageID, "status", status, "error", err)
	}
	if err := c.store.TouchChat(ctx, c.chatID); err != nil {
		c.log.Errorw("touch chat failed", "chat_id", c.chatID, "error", err)
	}
}

// PeriodicWrites is the number of cadence writes attempted so far.
func (c *Checkpointer) PeriodicWrites() int { return c.periodic }
