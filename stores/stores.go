// Package stores defines the persistence contracts the matching engine
// depends on, with a gorm implementation and an in-memory one.
package stores

import (
	"context"
	"errors"
	"time"

	"matching-game-service/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrStaleSession means a conditional session write matched no row:
	// the session left active or its counters moved underneath the caller.
	ErrStaleSession = errors.New("session changed concurrently")
)

// CatalogStore lists games in (level_number, stage_number) order.
type CatalogStore interface {
	ListGames(ctx context.Context, activeOnly bool) ([]models.Game, error)
	GetGame(ctx context.Context, id string) (*models.Game, error)
	SetGameActive(ctx context.Context, id string, active bool) error
}

// CatalogEntry is one game with its full pair pool.
type CatalogEntry struct {
	Game  models.Game
	Pairs []models.Pair
}

// CatalogWriter is used by catalog imports only.
type CatalogWriter interface {
	UpsertGame(ctx context.Context, g models.Game, pairs []models.Pair) error
	// ReplaceCatalog upserts every entry and deactivates every game not
	// among them, all or nothing. It returns how many games it deactivated.
	ReplaceCatalog(ctx context.Context, entries []CatalogEntry) (int64, error)
}

type PairStore interface {
	ListPairs(ctx context.Context, gameID string) ([]models.Pair, error)
}

// Completion is one finished session fed into the progress store.
type Completion struct {
	PlayerID  string
	GameID    string
	SessionID string
	Score     int
	At        time.Time
}

type ProgressStore interface {
	ListProgress(ctx context.Context, playerID string) ([]models.PlayerGameProgress, error)
	GetProgress(ctx context.Context, playerID, gameID string) (*models.PlayerGameProgress, error)
	// SeedProgress creates the missing rows for gameIDs. Only unlockedID
	// starts unlocked; existing rows are left untouched.
	SeedProgress(ctx context.Context, playerID string, gameIDs []string, unlockedID string, at time.Time) error
	// RecordCompletion merges a completion with keep-max best_score and an
	// incremented completion_count. It applies at most once per session;
	// applied is false when the session was already recorded.
	RecordCompletion(ctx context.Context, c Completion) (p *models.PlayerGameProgress, applied bool, err error)
	// Unlock is a no-op on an unlocked row; changed reports a transition.
	Unlock(ctx context.Context, playerID, gameID string, at time.Time) (changed bool, err error)
	ResetProgress(ctx context.Context, playerID string) (int64, error)
}

// AttemptWrite is one attempt plus the counters it was computed from.
type AttemptWrite struct {
	Attempt          models.MatchAttempt
	PrevPairsMatched int
	PrevMistakes     int
	Data             models.SessionData
}

// Finalize moves an active session to a terminal status.
type Finalize struct {
	Status      models.SessionStatus
	Reason      models.EndReason
	CompletedAt time.Time
}

type SessionStore interface {
	CreateSession(ctx context.Context, s *models.MatchSession) error
	GetSession(ctx context.Context, id string) (*models.MatchSession, error)
	FindActiveSession(ctx context.Context, playerID, gameID string) (*models.MatchSession, error)
	// RecordAttempt appends to the attempt log and moves the counters in one
	// unit. It fails with ErrStaleSession unless the session is active with
	// the previous counters.
	RecordAttempt(ctx context.Context, w AttemptWrite) error
	// FinalizeSession reports false when the session had already left active.
	FinalizeSession(ctx context.Context, id string, f Finalize) (bool, error)
	MarkUnlockApplied(ctx context.Context, id string) error
	ListAttempts(ctx context.Context, sessionID string) ([]models.MatchAttempt, error)
	ListOverdueSessions(ctx context.Context, before time.Time, limit int) ([]models.MatchSession, error)
	ListPendingProgression(ctx context.Context, limit int) ([]models.MatchSession, error)
}

// Store is everything a single backing database provides.
type Store interface {
	CatalogStore
	CatalogWriter
	PairStore
	ProgressStore
	SessionStore
}
