package game

import (
	"time"

	"matching-game-service/models"
)

// Palette colors matched pairs in the order they were found.
var Palette = []string{"#2E86DE", "#F39C12", "#27AE60", "#8E44AD", "#E74C3C", "#16A085"}

// Verdict is the outcome of checking one attempt against the board.
type Verdict struct {
	LeftItemID  string
	RightItemID string
	PairID      string // set only when Correct
	Correct     bool
}

// Board is the authoritative item-to-pair mapping of one session.
// It is not safe for concurrent use; the owning session serializes access.
type Board struct {
	left    []models.BoardItem
	right   []models.BoardItem
	leftBy  map[string]models.BoardItem
	rightBy map[string]models.BoardItem
	usedL   map[string]bool
	usedR   map[string]bool
	matched []models.MatchedPair
}

// NewBoard builds a board from a session snapshot, replaying any matches
// already recorded in it.
func NewBoard(data models.SessionData) *Board {
	b := &Board{
		left:    append([]models.BoardItem(nil), data.Left...),
		right:   append([]models.BoardItem(nil), data.Right...),
		leftBy:  make(map[string]models.BoardItem, len(data.Left)),
		rightBy: make(map[string]models.BoardItem, len(data.Right)),
		usedL:   make(map[string]bool),
		usedR:   make(map[string]bool),
	}
	for _, it := range data.Left {
		b.leftBy[it.ID] = it
	}
	for _, it := range data.Right {
		b.rightBy[it.ID] = it
	}
	for _, mp := range data.Matched {
		b.Commit(mp)
	}
	return b
}

// CanMatch reports whether both items exist and neither is matched yet.
func (b *Board) CanMatch(leftID, rightID string) bool {
	_, okL := b.leftBy[leftID]
	_, okR := b.rightBy[rightID]
	return okL && okR && !b.usedL[leftID] && !b.usedR[rightID]
}

// Check validates an attempt without changing the board.
func (b *Board) Check(leftID, rightID string) (Verdict, error) {
	l, okL := b.leftBy[leftID]
	r, okR := b.rightBy[rightID]
	if !okL || !okR {
		return Verdict{}, ErrUnknownItem
	}
	if b.usedL[leftID] || b.usedR[rightID] {
		return Verdict{}, ErrAlreadyMatched
	}

	v := Verdict{LeftItemID: leftID, RightItemID: rightID, Correct: l.PairID == r.PairID}
	if v.Correct {
		v.PairID = l.PairID
	}
	return v, nil
}

// Preview returns the MatchedPair a correct verdict would append.
func (b *Board) Preview(v Verdict, at time.Time) models.MatchedPair {
	ordinal := len(b.matched) + 1
	return models.MatchedPair{
		LeftItemID:  v.LeftItemID,
		RightItemID: v.RightItemID,
		PairID:      v.PairID,
		Ordinal:     ordinal,
		Color:       Palette[(ordinal-1)%len(Palette)],
		MatchedAt:   at,
	}
}

// Commit marks both sides of mp as matched.
func (b *Board) Commit(mp models.MatchedPair) {
	b.usedL[mp.LeftItemID] = true
	b.usedR[mp.RightItemID] = true
	b.matched = append(b.matched, mp)
}

// Matched returns the matches found so far, in order.
func (b *Board) Matched() []models.MatchedPair {
	return append([]models.MatchedPair(nil), b.matched...)
}

// Snapshot returns the persisted form of the board, with pending appended
// after the committed matches.
func (b *Board) Snapshot(pending ...models.MatchedPair) models.SessionData {
	matched := make([]models.MatchedPair, 0, len(b.matched)+len(pending))
	matched = append(matched, b.matched...)
	matched = append(matched, pending...)
	return models.SessionData{
		Version: models.SessionDataVersion,
		Left:    append([]models.BoardItem(nil), b.left...),
		Right:   append([]models.BoardItem(nil), b.right...),
		Matched: matched,
	}
}

// Left returns the left column in display order.
func (b *Board) Left() []models.BoardItem { return append([]models.BoardItem(nil), b.left...) }

// Right returns the right column in display order.
func (b *Board) Right() []models.BoardItem { return append([]models.BoardItem(nil), b.right...) }
