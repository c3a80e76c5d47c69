package models

import "time"

// SessionDataVersion is bumped whenever SessionData changes shape.
const SessionDataVersion = 1

// SessionData is the board snapshot persisted with a session. It is enough
// to rebuild a live board after a restart and to replay matched history.
type SessionData struct {
	Version int           `json:"version"`
	Left    []BoardItem   `json:"left"`
	Right   []BoardItem   `json:"right"`
	Matched []MatchedPair `json:"matched"`
}

// BoardItem is one shuffled card. PairID never leaves the server.
type BoardItem struct {
	ID      string `json:"id"`
	PairID  string `json:"pair_id"`
	Content string `json:"content"`
}

// MatchedPair records a successful match with its display ordinal and color.
type MatchedPair struct {
	LeftItemID  string    `json:"left_item_id"`
	RightItemID string    `json:"right_item_id"`
	PairID      string    `json:"pair_id"`
	Ordinal     int       `json:"ordinal"`
	Color       string    `json:"color"`
	MatchedAt   time.Time `json:"matched_at"`
}
