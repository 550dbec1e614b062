package quota

import "time"

type RequestLimit struct {
	UserID       string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	RequestCount int       `gorm:"not null" json:"request_count"`
	MaxRequests  int       `gorm:"not null" json:"max_requests"`
	ResetAt      time.Time `gorm:"index;not null" json:"reset_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (RequestLimit) TableName() string { return "request_limits" }
