package model

// Image is a manually curated query to image mapping. The search flow only
// reads it.
type Image struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Query    string `gorm:"type:varchar(255);index;not null" json:"query"`
	ImageURL string `gorm:"column:imageUrl;type:text;not null" json:"imageUrl"`
	Hits     int64  `gorm:"default:0;not null" json:"hits"`
}

// TableName returns the table name for GORM.
func (Image) TableName() string {
	return "images"
}
