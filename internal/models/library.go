package models

import "time"

type MusicCategory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null;size:100" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	Tracks []MusicTrack `gorm:"foreignKey:CategoryID" json:"tracks,omitempty"`
}

type MusicTrack struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CategoryID uint      `gorm:"not null;index" json:"category_id"`
	Title      string    `gorm:"size:255" json:"title"`
	Path       string    `gorm:"size:1024;not null" json:"path"`
	NoOfUses   int       `gorm:"default:0" json:"no_of_uses"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type SoundEffect struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"uniqueIndex;not null;size:100" json:"title"`
	Path      string    `gorm:"size:1024" json:"path"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
