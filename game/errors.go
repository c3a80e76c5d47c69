package game

import "errors"

var (
	ErrNoContent        = errors.New("no content available for this game")
	ErrUnknownItem      = errors.New("item is not on this board")
	ErrAlreadyMatched   = errors.New("item is already matched")
	ErrSessionNotActive = errors.New("session is not active")
)
