package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"matching-game-service/models"
	"matching-game-service/stores"
	"matching-game-service/utils"
)

// CatalogService exposes the (level, stage) ordering of games.
// Every call reads the store; nothing is cached between completions.
type CatalogService struct {
	games stores.CatalogStore
	pairs stores.PairStore
}

func NewCatalogService(games stores.CatalogStore, pairs stores.PairStore) *CatalogService {
	return &CatalogService{games: games, pairs: pairs}
}

// LevelSummary counts the active stages of one level.
type LevelSummary struct {
	LevelNumber int    `json:"level_number"`
	Stages      int    `json:"stages"`
	FirstGameID string `json:"first_game_id"`
}

func (s *CatalogService) ActiveGames(ctx context.Context) ([]models.Game, error) {
	return s.games.ListGames(ctx, true)
}

func (s *CatalogService) Game(ctx context.Context, id string) (*models.Game, error) {
	g, err := s.games.GetGame(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	return g, err
}

func (s *CatalogService) Pairs(ctx context.Context, gameID string) ([]models.Pair, error) {
	return s.pairs.ListPairs(ctx, gameID)
}

// Search lists active games, optionally narrowed to one level and to
// titles whose transliteration contains q.
func (s *CatalogService) Search(ctx context.Context, level int, q string) ([]models.Game, error) {
	games, err := s.ActiveGames(ctx)
	if err != nil {
		return nil, err
	}
	key := utils.SearchKey(q)
	out := make([]models.Game, 0, len(games))
	for _, g := range games {
		if level > 0 && g.LevelNumber != level {
			continue
		}
		if key != "" {
			gk := g.SearchKey
			if gk == "" {
				gk = utils.SearchKey(g.Title)
			}
			if !strings.Contains(gk, key) {
				continue
			}
		}
		out = append(out, g)
	}
	return out, nil
}

func (s *CatalogService) Levels(ctx context.Context) ([]LevelSummary, error) {
	games, err := s.ActiveGames(ctx)
	if err != nil {
		return nil, err
	}
	var out []LevelSummary
	for _, g := range games {
		if n := len(out); n > 0 && out[n-1].LevelNumber == g.LevelNumber {
			out[n-1].Stages++
			continue
		}
		out = append(out, LevelSummary{LevelNumber: g.LevelNumber, Stages: 1, FirstGameID: g.ID})
	}
	return out, nil
}

func (s *CatalogService) SetActive(ctx context.Context, id string, active bool) error {
	err := s.games.SetGameActive(ctx, id, active)
	if errors.Is(err, stores.ErrNotFound) {
		return ErrGameNotFound
	}
	if err != nil {
		return fmt.Errorf("set activation of %s: %w", id, err)
	}
	return nil
}

// nextAfter returns the first game in ordered that sorts after g.
func nextAfter(ordered []models.Game, g models.Game) *models.Game {
	for i := range ordered {
		if g.Before(ordered[i]) {
			next := ordered[i]
			return &next
		}
	}
	return nil
}

// stagesInLevel counts the active games of level.
func stagesInLevel(ordered []models.Game, level int) int {
	n := 0
	for _, g := range ordered {
		if g.LevelNumber == level {
			n++
		}
	}
	return n
}
