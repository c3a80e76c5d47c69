package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"matching-game-service/models"
	"matching-game-service/stores"
)

type UnlockKind string

const (
	UnlockStage      UnlockKind = "stage_unlock"
	UnlockLevel      UnlockKind = "level_unlock"
	CatalogExhausted UnlockKind = "catalog_exhausted"
)

// UnlockDecision is what a completion opened up. For a level unlock
// OpenedLevel is the first game of the new level, which may equal NextGame.
type UnlockDecision struct {
	Kind          UnlockKind                 `json:"kind"`
	NextGame      *models.Game               `json:"next_game,omitempty"`
	OpenedLevel   *models.Game               `json:"opened_level,omitempty"`
	NewlyUnlocked bool                       `json:"newly_unlocked"`
	Progress      *models.PlayerGameProgress `json:"progress,omitempty"`
}

type ProgressionService struct {
	progress stores.ProgressStore
	sessions stores.SessionStore
	catalog  *CatalogService
	notifier Notifier
	clock    clockwork.Clock
}

func NewProgressionService(progress stores.ProgressStore, sessions stores.SessionStore, catalog *CatalogService, notifier Notifier, clock clockwork.Clock) *ProgressionService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ProgressionService{
		progress: progress,
		sessions: sessions,
		catalog:  catalog,
		notifier: notifier,
		clock:    clock,
	}
}

func (s *ProgressionService) now() time.Time { return s.clock.Now().UTC() }

func (s *ProgressionService) notify(playerID, kind, gameID string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(playerID, ProgressEvent{Kind: kind, GameID: gameID, At: s.now()})
}

// EnsureInitialized creates the player's missing progress rows and returns
// all of them. Only the first active game starts unlocked. It also unlocks
// any game whose predecessor is completed, which picks up games appended
// to the catalog and unlocks lost to an earlier failure.
func (s *ProgressionService) EnsureInitialized(ctx context.Context, playerID string) ([]models.PlayerGameProgress, error) {
	games, err := s.catalog.ActiveGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	rows, err := s.progress.ListProgress(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}

	byGame := make(map[string]models.PlayerGameProgress, len(rows))
	for _, r := range rows {
		byGame[r.GameID] = r
	}

	var missing []string
	for _, g := range games {
		if _, ok := byGame[g.ID]; !ok {
			missing = append(missing, g.ID)
		}
	}
	if len(missing) > 0 && len(games) > 0 {
		if err := s.progress.SeedProgress(ctx, playerID, missing, games[0].ID, s.now()); err != nil {
			return nil, fmt.Errorf("seed progress: %w", err)
		}
	}

	repaired := 0
	for i := 1; i < len(games); i++ {
		prev, cur := byGame[games[i-1].ID], byGame[games[i].ID]
		if prev.IsCompleted && !cur.IsUnlocked {
			if _, err := s.progress.Unlock(ctx, playerID, games[i].ID, s.now()); err != nil {
				return nil, fmt.Errorf("repair unlock of %s: %w", games[i].ID, err)
			}
			repaired++
		}
	}

	if len(missing) == 0 && repaired == 0 {
		return rows, nil
	}
	if repaired > 0 {
		log.Info().Str("player_id", playerID).Int("games", repaired).Msg("[PROGRESSION] repaired missing unlocks")
	}
	return s.progress.ListProgress(ctx, playerID)
}

// IsUnlocked reports whether playerID may play gameID.
func (s *ProgressionService) IsUnlocked(ctx context.Context, playerID, gameID string) (bool, error) {
	if _, err := s.EnsureInitialized(ctx, playerID); err != nil {
		return false, err
	}
	p, err := s.progress.GetProgress(ctx, playerID, gameID)
	if errors.Is(err, stores.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.IsUnlocked, nil
}

// OnSessionCompleted records a completed session for its player and unlocks
// the next game. The completion record is written first and is kept even
// when unlocking fails; that failure comes back as *UnlockPropagationError.
func (s *ProgressionService) OnSessionCompleted(ctx context.Context, ms models.MatchSession, g models.Game) (*UnlockDecision, error) {
	at := s.now()
	if ms.CompletedAt != nil {
		at = *ms.CompletedAt
	}

	prog, applied, err := s.progress.RecordCompletion(ctx, stores.Completion{
		PlayerID:  ms.PlayerID,
		GameID:    g.ID,
		SessionID: ms.ID,
		Score:     ms.Score,
		At:        at,
	})
	if err != nil {
		return nil, fmt.Errorf("record completion of session %s: %w", ms.ID, err)
	}
	if applied {
		s.notify(ms.PlayerID, EventProgressChanged, g.ID)
		log.Info().
			Str("player_id", ms.PlayerID).
			Str("game_id", g.ID).
			Int("score", ms.Score).
			Int("best_score", prog.BestScore).
			Msg("[PROGRESSION] completion recorded")
	}

	decision, err := s.propagate(ctx, ms.PlayerID, g)
	if err != nil {
		return nil, &UnlockPropagationError{PlayerID: ms.PlayerID, GameID: g.ID, Err: err}
	}
	decision.Progress = prog

	if s.sessions != nil && ms.ID != "" {
		if err := s.sessions.MarkUnlockApplied(ctx, ms.ID); err != nil {
			// replaying an applied unlock is harmless
			log.Warn().Err(err).Str("session_id", ms.ID).Msg("[PROGRESSION] could not mark unlock applied")
		}
	}
	return decision, nil
}

// propagate unlocks the game after g and classifies the event. The catalog
// is read fresh on every call since stage counts change with content.
func (s *ProgressionService) propagate(ctx context.Context, playerID string, g models.Game) (*UnlockDecision, error) {
	games, err := s.catalog.ActiveGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}

	next := nextAfter(games, g)
	if next == nil {
		return &UnlockDecision{Kind: CatalogExhausted}, nil
	}

	changed, err := s.progress.Unlock(ctx, playerID, next.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("unlock %s: %w", next.ID, err)
	}
	if changed {
		s.notify(playerID, EventGameUnlocked, next.ID)
	}

	decision := &UnlockDecision{Kind: UnlockStage, NextGame: next, NewlyUnlocked: changed}
	isLastStage := g.StageNumber == stagesInLevel(games, g.LevelNumber)
	isNewLevel := next.LevelNumber > g.LevelNumber
	if isLastStage && isNewLevel {
		decision.Kind = UnlockLevel
		opened := *next
		decision.OpenedLevel = &opened
	}
	return decision, nil
}

// Replay finishes the progression of a completed session whose unlock was
// never marked applied.
func (s *ProgressionService) Replay(ctx context.Context, ms models.MatchSession) error {
	g, err := s.catalog.Game(ctx, ms.GameID)
	if errors.Is(err, ErrGameNotFound) {
		// the game left the catalog; record what we can and stop retrying
		if _, _, err := s.progress.RecordCompletion(ctx, stores.Completion{
			PlayerID: ms.PlayerID, GameID: ms.GameID, SessionID: ms.ID, Score: ms.Score, At: s.now(),
		}); err != nil {
			return err
		}
		return s.sessions.MarkUnlockApplied(ctx, ms.ID)
	}
	if err != nil {
		return err
	}
	_, err = s.OnSessionCompleted(ctx, ms, *g)
	return err
}

// Progress returns every progress row of playerID, creating them on first use.
func (s *ProgressionService) Progress(ctx context.Context, playerID string) ([]models.PlayerGameProgress, error) {
	return s.EnsureInitialized(ctx, playerID)
}

// Reset deletes a player's progress. The next read seeds it again.
func (s *ProgressionService) Reset(ctx context.Context, playerID string) (int64, error) {
	n, err := s.progress.ResetProgress(ctx, playerID)
	if err != nil {
		return 0, fmt.Errorf("reset progress of %s: %w", playerID, err)
	}
	log.Info().Str("player_id", playerID).Int64("rows", n).Msg("[PROGRESSION] progress reset")
	s.notify(playerID, EventProgressReset, "")
	return n, nil
}
