package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is an async relay run. The assistant row already exists when the job is
// queued, so the worker only streams into it.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID    string `gorm:"type:varchar(64);index;not null"`
	ChatID    string `gorm:"type:varchar(64);index;not null"`
	MessageID string `gorm:"type:varchar(64);not null"`
	Model     string `gorm:"type:varchar(128);not null"`

	// JSON encoded []ai.Message sent upstream.
	Context string `gorm:"type:longtext;not null"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "chat_jobs" }
