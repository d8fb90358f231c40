package model

import "time"

// Key statuses stored in api_keys.status.
const (
	KeyStatusActive    = "active"
	KeyStatusExhausted = "exhausted"
	KeyStatusBlocked   = "blocked"
	KeyStatusRestored  = "restored_20_MIN"
)

// SearchKey is a Google Custom Search API key in the rotation pool.
type SearchKey struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	APIKey          string    `gorm:"column:api_key;type:varchar(255);uniqueIndex;not null" json:"api_key"`
	RequestsMade    int64     `gorm:"column:requests_made;default:0;not null;index" json:"requests_made"`
	Status          string    `gorm:"type:varchar(50);default:'active';not null;index" json:"status"`
	UpdateTimestamp time.Time `gorm:"column:update_timestamp" json:"update_timestamp"`
	CreatedAt       time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (SearchKey) TableName() string {
	return "api_keys"
}

// ValidKeyStatus reports whether s is a status the pool understands.
func ValidKeyStatus(s string) bool {
	switch s {
	case KeyStatusActive, KeyStatusExhausted, KeyStatusBlocked, KeyStatusRestored:
		return true
	}
	return false
}
