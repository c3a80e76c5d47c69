package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pair is a term/definition unit belonging to exactly one game.
type Pair struct {
	ID           string `json:"id" gorm:"primaryKey;type:varchar(64)"`
	GameID       string `json:"game_id" gorm:"not null;index:idx_pair_game_order,priority:1"`
	LeftContent  string `json:"left_content" gorm:"not null"`
	RightContent string `json:"right_content" gorm:"not null"`
	OrderIndex   int    `json:"order_index" gorm:"index:idx_pair_game_order,priority:2"`
}

func (p *Pair) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}
