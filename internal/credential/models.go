package credential

import "time"

// APIKey is a user-supplied provider key. Key may be stored sealed (see Sealer).
type APIKey struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string    `gorm:"type:varchar(64);not null;index:idx_api_key_user_provider,priority:1" json:"-"`
	Provider      string    `gorm:"type:varchar(32);not null;index:idx_api_key_user_provider,priority:2" json:"provider"`
	Key           string    `gorm:"type:text;not null" json:"-"`
	Enabled       bool      `gorm:"not null" json:"enabled"`
	IsCustom      bool      `gorm:"not null;default:false" json:"is_custom"`
	CustomBaseURL string    `gorm:"type:varchar(255)" json:"custom_base_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (APIKey) TableName() string { return "api_keys" }
