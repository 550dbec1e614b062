package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).
		Where("id = ?", chatID).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) GetMessage(ctx context.Context, chatID, messageID string) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).
		Where("id = ? AND chat_id = ?", messageID, chatID).
		First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repo) MessageExists(ctx context.Context, messageID string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Message{}).Where("id = ?", messageID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// historyOrder keeps a user prompt ahead of the reply created in the same instant.
const historyOrder = "created_at ASC, CASE WHEN role = 'user' THEN 0 ELSE 1 END ASC, id ASC"

// ListMessages returns every message of the chat, oldest first.
func (r *Repo) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order(historyOrder).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListMessagesBefore returns the chat's messages created strictly before messageID, oldest first.
func (r *Repo) ListMessagesBefore(ctx context.Context, chatID, messageID string) ([]Message, error) {
	pivot := r.db.Model(&Message{}).Select("created_at").Where("id = ? AND chat_id = ?", messageID, chatID)

	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ? AND created_at < (?)", chatID, pivot).
		Order(historyOrder).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// CreateTurn stores the user prompt and the empty assistant row in one
// transaction. Both rows share a timestamp.
func (r *Repo) CreateTurn(ctx context.Context, userMsg, placeholder *Message) error {
	now := r.now()
	userMsg.CreatedAt, userMsg.UpdatedAt = now, now
	placeholder.CreatedAt, placeholder.UpdatedAt = now, now

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(userMsg).Error; err != nil {
			return err
		}
		if err := tx.Model(&Chat{}).Where("id = ?", userMsg.ChatID).Update("updated_at", now).Error; err != nil {
			return err
		}
		return tx.Create(placeholder).Error
	})
}

func (r *Repo) CreatePlaceholder(ctx context.Context, placeholder *Message) error {
	now := r.now()
	placeholder.CreatedAt, placeholder.UpdatedAt = now, now
	return r.db.WithContext(ctx).Create(placeholder).Error
}

// ResetForRetry snapshots content into previous_content, then empties the row
// and marks it streaming. Two statements because MySQL applies SET clauses left to right.
func (r *Repo) ResetForRetry(ctx context.Context, chatID, messageID, model string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Message{}).
			Where("id = ? AND chat_id = ?", messageID, chatID).
			UpdateColumn("previous_content", gorm.Expr("content")).Error; err != nil {
			return err
		}
		return tx.Model(&Message{}).
			Where("id = ? AND chat_id = ?", messageID, chatID).
			Updates(map[string]any{
				"content":    "",
				"status":     StatusStreaming,
				"model":      model,
				"updated_at": r.now(),
			}).Error
	})
}

func (r *Repo) UpdateContent(ctx context.Context, messageID, content string) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", messageID).
		Updates(map[string]any{
			"content":    content,
			"updated_at": r.now(),
		}).Error
}

func (r *Repo) FinishMessage(ctx context.Context, messageID string, status MessageStatus, content string) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", messageID).
		Updates(map[string]any{
			"content":    content,
			"status":     status,
			"updated_at": r.now(),
		}).Error
}

func (r *Repo) TouchChat(ctx context.Context, chatID string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("updated_at", r.now()).Error
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}
