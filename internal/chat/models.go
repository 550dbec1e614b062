package chat

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleError     = "error"
)

type MessageStatus string

const (
	StatusStreaming MessageStatus = "streaming"
	StatusComplete  MessageStatus = "complete"
	StatusError     MessageStatus = "error"
)

// Chat is owned by CreatedBy. The relay only touches UpdatedAt.
type Chat struct {
	ID              string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CreatedBy       string    `gorm:"type:varchar(64);index;not null" json:"-"`
	Model           string    `gorm:"type:varchar(128);not null" json:"model"`
	Title           *string   `gorm:"type:varchar(255)" json:"title,omitempty"`
	ParentChatID    *string   `gorm:"type:varchar(64);index" json:"parent_chat_id,omitempty"`
	BranchMessageID *string   `gorm:"type:varchar(64)" json:"branch_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Chat) TableName() string { return "chats" }

type Message struct {
	ID              string        `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ChatID          string        `gorm:"type:varchar(64);not null;index:idx_message_chat_created,priority:1" json:"chat_id"`
	Role            string        `gorm:"type:varchar(16);not null" json:"role"`
	Content         string        `gorm:"type:longtext;not null" json:"content"`
	PreviousContent *string       `gorm:"type:longtext" json:"previous_content,omitempty"`
	Status          MessageStatus `gorm:"type:varchar(16);not null" json:"status"`
	Model           string        `gorm:"type:varchar(128)" json:"model"`
	CreatedAt       time.Time     `gorm:"not null;index:idx_message_chat_created,priority:2" json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

func (Message) TableName() string { return "messages" }
