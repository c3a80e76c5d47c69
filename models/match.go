package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
)

// EndReason records why a session left active.
type EndReason string

const (
	EndAllMatched EndReason = "all_matched"
	EndTimeout    EndReason = "timeout"
	EndAbandoned  EndReason = "abandoned"
	EndSuperseded EndReason = "superseded" // replaced by a newer session of the same game
)

// MatchSession is one timed playthrough of a single game by a single player.
// At most one active row may exist per (player, game).
type MatchSession struct {
	ID       string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	PlayerID string `gorm:"not null;index;index:idx_one_active_session,unique,where:status = 'active'" json:"player_id"`
	GameID   string `gorm:"not null;index:idx_one_active_session,unique" json:"game_id"`

	Status    SessionStatus `gorm:"type:varchar(16);not null;index;check:status IN ('active','completed','abandoned')" json:"status"`
	EndReason EndReason     `gorm:"type:varchar(16)" json:"end_reason,omitempty"`

	Score         int `json:"score" gorm:"default:0;check:chk_session_score,score = pairs_matched * 10"`
	MistakesCount int `json:"mistakes_count" gorm:"default:0"`
	PairsMatched  int `json:"pairs_matched" gorm:"default:0"`

	TargetPairs      int `json:"target_pairs"` // pairs actually dealt, may be below the level quota
	MaxScore         int `json:"max_score"`
	TimeLimitSeconds int `json:"time_limit_seconds"`

	StartedAt   time.Time  `json:"started_at"`
	Deadline    time.Time  `json:"deadline" gorm:"index"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Progression bookkeeping, replayed by the sweeper until both are set.
	ProgressRecorded bool `json:"-" gorm:"default:false"`
	UnlockApplied    bool `json:"-" gorm:"default:false;index"`

	SessionData datatypes.JSONType[SessionData] `json:"-"`

	Timestamps
}

func (s *MatchSession) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// MatchAttempt is one row of the append-only attempt log.
type MatchAttempt struct {
	ID          string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	SessionID   string `gorm:"not null;uniqueIndex:idx_attempt_session_seq,priority:1" json:"session_id"`
	Seq         int    `gorm:"not null;uniqueIndex:idx_attempt_session_seq,priority:2" json:"seq"`
	LeftItemID  string `json:"left_item_id"`
	RightItemID string `json:"right_item_id"`
	PairID      string `json:"-"` // empty on a wrong attempt
	Correct     bool   `json:"correct"`

	ScoreAfter        int `json:"score_after"`
	MistakesAfter     int `json:"mistakes_after"`
	PairsMatchedAfter int `json:"pairs_matched_after"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (a *MatchAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
