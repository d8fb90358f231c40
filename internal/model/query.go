package model

import "time"

// Query caches the image found for a normalized search string. Approved is
// tri-state: nil means the row still awaits moderation.
type Query struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Query     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"query"`
	ImageURL  string    `gorm:"column:imageUrl;type:text" json:"imageUrl"`
	Hits      int64     `gorm:"default:1;not null" json:"hits"`
	Approved  *bool     `json:"approved"`
	Correct   *string   `gorm:"type:varchar(255)" json:"correct"`
	NotThis   int64     `gorm:"column:not_this;default:0;not null" json:"not_this"`
	DownTried int64     `gorm:"column:down_tried;default:0;not null" json:"down_tried"`
	Timestamp time.Time `gorm:"column:timestamp;index" json:"timestamp"`
}

// TableName returns the table name for GORM.
func (Query) TableName() string {
	return "queries"
}
