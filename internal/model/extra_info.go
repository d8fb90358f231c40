package model

import "time"

// ExtraInfo is a free-form diagnostic row.
type ExtraInfo struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	RequestID string    `gorm:"type:varchar(64);index" json:"request_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName returns the table name for GORM.
func (ExtraInfo) TableName() string {
	return "extra_info"
}

// UniqueDomain counts search requests per referring domain.
type UniqueDomain struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	DomainName   string    `gorm:"column:domain_name;type:varchar(255);uniqueIndex;not null" json:"domain_name"`
	RequestCount int64     `gorm:"column:request_count;default:1;not null" json:"request_count"`
	LastRequest  time.Time `gorm:"column:last_request" json:"last_request"`
}

// TableName returns the table name for GORM.
func (UniqueDomain) TableName() string {
	return "unique_domains"
}
