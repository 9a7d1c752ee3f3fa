package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NewsStage string

const (
	StageNew             NewsStage = "new"
	StageNoveltyFiltered NewsStage = "novelty_filtered"
	StageArticleFetched  NewsStage = "article_fetched"
	StageSummaryFetched  NewsStage = "summary_fetched"
	StageScriptGenerated NewsStage = "script_generated"
	StageVideoAssembled  NewsStage = "video_assembled"
	StageScheduled       NewsStage = "scheduled"
	StagePublished       NewsStage = "published"
	StageFailed          NewsStage = "failed"
	StageRejected        NewsStage = "rejected"
)

const processingPrefix = "processing_"

// ForwardStages is the linear lifecycle of a news item.
var ForwardStages = []NewsStage{
	StageNew,
	StageNoveltyFiltered,
	StageArticleFetched,
	StageSummaryFetched,
	StageScriptGenerated,
	StageVideoAssembled,
	StageScheduled,
	StagePublished,
}

// Processing returns the interim stage a job writes while it holds the row.
func (s NewsStage) Processing() NewsStage {
	if s.IsProcessing() {
		return s
	}
	return NewsStage(processingPrefix + string(s))
}

func (s NewsStage) IsProcessing() bool {
	return strings.HasPrefix(string(s), processingPrefix)
}

// Base strips the processing prefix.
func (s NewsStage) Base() NewsStage {
	return NewsStage(strings.TrimPrefix(string(s), processingPrefix))
}

// Valid reports whether s is a known stage or the processing form of one.
func (s NewsStage) Valid() bool {
	base := s.Base()
	if base == StageFailed || base == StageRejected {
		return !s.IsProcessing()
	}
	for _, st := range ForwardStages {
		if st == base {
			return true
		}
	}
	return false
}

func (s NewsStage) IsTerminal() bool {
	return s == StagePublished || s == StageFailed || s == StageRejected
}

// Next returns the following forward stage.
func (s NewsStage) Next() (NewsStage, bool) {
	base := s.Base()
	for i, st := range ForwardStages {
		if st == base && i+1 < len(ForwardStages) {
			return ForwardStages[i+1], true
		}
	}
	return "", false
}

// CanTransition reports whether from -> to is a legal move: one step forward,
// a claim/release of the same stage, failure from any live stage, or
// rejection before the article is fetched.
func CanTransition(from, to NewsStage) bool {
	if from.IsTerminal() || from == to {
		return false
	}
	switch {
	case to == StageFailed:
		return true
	case to == StageRejected:
		base := from.Base()
		return base == StageNew || base == StageNoveltyFiltered
	case to.IsProcessing():
		return !from.IsProcessing() && to.Base() == from
	case from.IsProcessing() && to == from.Base():
		return true
	}
	next, ok := from.Next()
	return ok && next == to
}

type News struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Title           string         `gorm:"not null;size:500" json:"title"`
	Description     string         `gorm:"type:text" json:"description"`
	URL             string         `gorm:"not null;size:2048" json:"url"`
	Source          string         `gorm:"size:255" json:"source"`
	Category        string         `gorm:"size:100" json:"category"`
	NoveltyPassed   *bool          `json:"novelty_passed"`
	RejectionReason *string        `gorm:"type:text" json:"rejection_reason"`
	Meta            datatypes.JSON `gorm:"type:jsonb" json:"meta"`
	CurrentStage    NewsStage      `gorm:"size:50;not null;default:'new';index" json:"current_stage"`
	ClaimedAt       *time.Time     `gorm:"index" json:"claimed_at"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"deleted_at"`

	Article *Article `gorm:"foreignKey:NewsID" json:"article,omitempty"`
}

type Article struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	NewsID    uint      `gorm:"not null;uniqueIndex" json:"news_id"`
	Title     string    `gorm:"size:500" json:"title"`
	Content   string    `gorm:"type:text" json:"content"`
	Summary   *string   `gorm:"type:text" json:"summary"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	News   *News   `gorm:"foreignKey:NewsID" json:"news,omitempty"`
	Script *Script `gorm:"foreignKey:ArticleID" json:"script,omitempty"`
}
