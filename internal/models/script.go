package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type AssetType string

const (
	AssetAudio  AssetType = "audio"
	AssetVisual AssetType = "visual"
)

type AssetStatus string

const (
	AssetPending    AssetStatus = "pending"
	AssetProcessing AssetStatus = "processing"
	AssetQueued     AssetStatus = "queued"
	AssetCompleted  AssetStatus = "completed"
	AssetFailed     AssetStatus = "failed"
	AssetCancelled  AssetStatus = "cancelled"
)

type Script struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ArticleID uint           `gorm:"not null;uniqueIndex" json:"article_id"`
	Title     string         `gorm:"size:500" json:"title"`
	Hook      string         `gorm:"type:text" json:"hook"`
	Payload   datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	BgMusic   string         `gorm:"size:100" json:"bg_music"`
	Metadata  datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	VideoPath *string        `gorm:"size:1024" json:"video_path"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	Article *Article `gorm:"foreignKey:ArticleID" json:"article,omitempty"`
	Scenes  []Scene  `gorm:"foreignKey:ScriptID" json:"scenes,omitempty"`
}

// ScriptMetadata is the decoded form of Script.Metadata.
type ScriptMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
}

// DecodeMetadata returns the script metadata, empty when unset.
func (s *Script) DecodeMetadata() ScriptMetadata {
	var meta ScriptMetadata
	if len(s.Metadata) > 0 {
		_ = json.Unmarshal(s.Metadata, &meta)
	}
	return meta
}

type Scene struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ScriptID    uint      `gorm:"not null;uniqueIndex:idx_scene_order,priority:1" json:"script_id"`
	Order       int       `gorm:"column:scene_order;not null;uniqueIndex:idx_scene_order,priority:2" json:"order"`
	Headline    string    `gorm:"type:text" json:"headline"`
	Visual      string    `gorm:"type:text" json:"visual"`
	Voiceover   Voiceover `gorm:"type:jsonb" json:"voiceover"`
	Transition  string    `gorm:"size:50" json:"transition"`
	SoundEffect string    `gorm:"size:100" json:"sound_effect"`
	Duration    float64   `json:"duration"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Assets []Asset `gorm:"foreignKey:SceneID" json:"assets,omitempty"`
}

type Asset struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	SceneID     uint           `gorm:"not null;index" json:"scene_id"`
	ScriptID    uint           `gorm:"not null;index" json:"script_id"`
	Type        AssetType      `gorm:"size:20;not null;index" json:"type"`
	Source      string         `gorm:"size:100" json:"source"`
	ExternalID  string         `gorm:"size:500" json:"external_id"`
	Status      AssetStatus    `gorm:"size:20;not null;default:'pending';index" json:"status"`
	LocalPath   *string        `gorm:"size:1024" json:"local_path"`
	RemotePath  *string        `gorm:"size:1024" json:"remote_path"`
	RawResponse datatypes.JSON `gorm:"type:jsonb" json:"raw_response"`
	Metadata    datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// DecodeMetadata returns the asset metadata, empty when unset.
func (a *Asset) DecodeMetadata() AssetMetadata {
	var meta AssetMetadata
	if len(a.Metadata) > 0 {
		_ = json.Unmarshal(a.Metadata, &meta)
	}
	return meta
}
