package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PlayerGameProgress is the per (player, game) unlock/completion record.
type PlayerGameProgress struct {
	ID       string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	PlayerID string `gorm:"not null;uniqueIndex:idx_progress_player_game,priority:1" json:"player_id"` // links to profile service
	GameID   string `gorm:"not null;uniqueIndex:idx_progress_player_game,priority:2" json:"game_id"`

	IsUnlocked      bool `json:"is_unlocked" gorm:"default:false"`
	IsCompleted     bool `json:"is_completed" gorm:"default:false"`
	BestScore       int  `json:"best_score" gorm:"default:0"`
	CompletionCount int  `json:"completion_count" gorm:"default:0"`

	UnlockedAt       *time.Time `json:"unlocked_at,omitempty"`
	FirstCompletedAt *time.Time `json:"first_completed_at,omitempty"`
	LastPlayedAt     *time.Time `json:"last_played_at,omitempty"`

	Timestamps
}

func (PlayerGameProgress) TableName() string {
	return "player_game_progress"
}

func (p *PlayerGameProgress) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
