package services

import (
	"errors"
	"fmt"
)

var (
	ErrGameNotFound      = errors.New("game not found")
	ErrGameInactive      = errors.New("game is not active")
	ErrGameLocked        = errors.New("game is locked for this player")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotSessionOwner   = errors.New("session belongs to another player")
	ErrSessionIncomplete = errors.New("session still has unmatched pairs")
	ErrSessionConflict   = errors.New("another session was started for this game at the same time")
)

// AttemptPersistenceError means an attempt could not be written. The
// session counters were not advanced; the same attempt may be retried.
type AttemptPersistenceError struct {
	SessionID string
	Err       error
}

func (e *AttemptPersistenceError) Error() string {
	return fmt.Sprintf("record attempt for session %s: %v", e.SessionID, e.Err)
}

func (e *AttemptPersistenceError) Unwrap() error { return e.Err }

// UnlockPropagationError means the completion was recorded but the next
// game could not be unlocked. It is retried later and never fails the
// completion itself.
type UnlockPropagationError struct {
	PlayerID string
	GameID   string
	Err      error
}

func (e *UnlockPropagationError) Error() string {
	return fmt.Sprintf("propagate unlock after %s for %s: %v", e.GameID, e.PlayerID, e.Err)
}

func (e *UnlockPropagationError) Unwrap() error { return e.Err }
