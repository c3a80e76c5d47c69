// models/game.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Game is one matching challenge in the level/stage graph.
// Content authors own it; only IsActive changes after creation.
type Game struct {
	ID          string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Title       string `json:"title" gorm:"not null"`
	Slug        string `json:"slug" gorm:"index"`
	SearchKey   string `json:"-" gorm:"index"` // transliterated, lower-cased title
	Description string `json:"description"`

	LevelNumber      int  `json:"level_number" gorm:"not null;index:idx_game_order,priority:1;check:level_number >= 1"`
	StageNumber      int  `json:"stage_number" gorm:"not null;index:idx_game_order,priority:2;check:stage_number >= 1"`
	MaxPairs         int  `json:"max_pairs" gorm:"default:0"`
	TimeLimitSeconds int  `json:"time_limit_seconds" gorm:"not null;default:180"`
	IsActive         bool `json:"is_active" gorm:"not null;index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Before reports whether g sorts before other in (level, stage) order.
func (g Game) Before(other Game) bool {
	if g.LevelNumber != other.LevelNumber {
		return g.LevelNumber < other.LevelNumber
	}
	return g.StageNumber < other.StageNumber
}

func (g *Game) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}
