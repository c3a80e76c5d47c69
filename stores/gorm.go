package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"matching-game-service/models"
)

// GormStore backs every store contract with one gorm database.
type GormStore struct {
	DB *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

// Migrate creates or updates the tables.
func (s *GormStore) Migrate() error {
	return s.DB.AutoMigrate(
		&models.Game{},
		&models.Pair{},
		&models.PlayerGameProgress{},
		&models.MatchSession{},
		&models.MatchAttempt{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

var progressConflict = clause.OnConflict{
	Columns:   []clause.Column{{Name: "player_id"}, {Name: "game_id"}},
	DoNothing: true,
}

// --- catalog ---

func (s *GormStore) ListGames(ctx context.Context, activeOnly bool) ([]models.Game, error) {
	var games []models.Game
	q := s.DB.WithContext(ctx).Order("level_number ASC, stage_number ASC")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Find(&games).Error; err != nil {
		return nil, err
	}
	return games, nil
}

func (s *GormStore) GetGame(ctx context.Context, id string) (*models.Game, error) {
	var g models.Game
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, notFound(err)
	}
	return &g, nil
}

func (s *GormStore) SetGameActive(ctx context.Context, id string, active bool) error {
	res := s.DB.WithContext(ctx).Model(&models.Game{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertGame writes g and replaces its whole pair pool in one transaction.
func (s *GormStore) UpsertGame(ctx context.Context, g models.Game, pairs []models.Pair) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertGame(tx, g, pairs)
	})
}

func (s *GormStore) ReplaceCatalog(ctx context.Context, entries []CatalogEntry) (int64, error) {
	var deactivated int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			if err := upsertGame(tx, e.Game, e.Pairs); err != nil {
				return err
			}
			ids = append(ids, e.Game.ID)
		}

		q := tx.Model(&models.Game{}).Where("is_active = ?", true)
		if len(ids) > 0 {
			q = q.Where("id NOT IN ?", ids)
		}
		res := q.Update("is_active", false)
		if res.Error != nil {
			return fmt.Errorf("deactivate dropped games: %w", res.Error)
		}
		deactivated = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deactivated, nil
}

func upsertGame(tx *gorm.DB, g models.Game, pairs []models.Pair) error {
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "slug", "search_key", "description", "level_number",
			"stage_number", "max_pairs", "time_limit_seconds", "is_active", "updated_at",
		}),
	}).Create(&g).Error; err != nil {
		return fmt.Errorf("upsert game %s: %w", g.ID, err)
	}

	if err := tx.Where("game_id = ?", g.ID).Delete(&models.Pair{}).Error; err != nil {
		return fmt.Errorf("clear pairs of %s: %w", g.ID, err)
	}
	if len(pairs) == 0 {
		return nil
	}
	pool := make([]models.Pair, len(pairs))
	copy(pool, pairs)
	for i := range pool {
		pool[i].GameID = g.ID
	}
	if err := tx.Create(&pool).Error; err != nil {
		return fmt.Errorf("insert pairs of %s: %w", g.ID, err)
	}
	return nil
}

func (s *GormStore) ListPairs(ctx context.Context, gameID string) ([]models.Pair, error) {
	var pairs []models.Pair
	err := s.DB.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("order_index ASC").
		Find(&pairs).Error
	return pairs, err
}

// --- progress ---

func (s *GormStore) ListProgress(ctx context.Context, playerID string) ([]models.PlayerGameProgress, error) {
	var rows []models.PlayerGameProgress
	err := s.DB.WithContext(ctx).Where("player_id = ?", playerID).Find(&rows).Error
	return rows, err
}

func (s *GormStore) GetProgress(ctx context.Context, playerID, gameID string) (*models.PlayerGameProgress, error) {
	return getProgress(s.DB.WithContext(ctx), playerID, gameID)
}

func getProgress(db *gorm.DB, playerID, gameID string) (*models.PlayerGameProgress, error) {
	var p models.PlayerGameProgress
	if err := db.Where("player_id = ? AND game_id = ?", playerID, gameID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (s *GormStore) SeedProgress(ctx context.Context, playerID string, gameIDs []string, unlockedID string, at time.Time) error {
	if len(gameIDs) == 0 {
		return nil
	}
	rows := make([]models.PlayerGameProgress, 0, len(gameIDs))
	for _, id := range gameIDs {
		row := models.PlayerGameProgress{PlayerID: playerID, GameID: id}
		if id == unlockedID {
			row.IsUnlocked = true
			row.UnlockedAt = &at
		}
		rows = append(rows, row)
	}
	return s.DB.WithContext(ctx).Clauses(progressConflict).Create(&rows).Error
}

func (s *GormStore) RecordCompletion(ctx context.Context, c Completion) (*models.PlayerGameProgress, bool, error) {
	var out *models.PlayerGameProgress
	applied := false

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.SessionID != "" {
			res := tx.Model(&models.MatchSession{}).
				Where("id = ? AND progress_recorded = ?", c.SessionID, false).
				Update("progress_recorded", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				p, err := getProgress(tx, c.PlayerID, c.GameID)
				if err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
				out = p
				return nil
			}
		}

		seed := models.PlayerGameProgress{PlayerID: c.PlayerID, GameID: c.GameID}
		if err := tx.Clauses(progressConflict).Create(&seed).Error; err != nil {
			return err
		}

		// Single statement keeps concurrent completions from overwriting
		// each other's best score or count.
		if err := tx.Model(&models.PlayerGameProgress{}).
			Where("player_id = ? AND game_id = ?", c.PlayerID, c.GameID).
			Updates(map[string]any{
				"is_unlocked":        true,
				"is_completed":       true,
				"best_score":         gorm.Expr("CASE WHEN best_score < ? THEN ? ELSE best_score END", c.Score, c.Score),
				"completion_count":   gorm.Expr("completion_count + 1"),
				"last_played_at":     c.At,
				"first_completed_at": gorm.Expr("COALESCE(first_completed_at, ?)", c.At),
				"unlocked_at":        gorm.Expr("COALESCE(unlocked_at, ?)", c.At),
			}).Error; err != nil {
			return err
		}

		p, err := getProgress(tx, c.PlayerID, c.GameID)
		if err != nil {
			return err
		}
		out = p
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, applied, nil
}

func (s *GormStore) Unlock(ctx context.Context, playerID, gameID string, at time.Time) (bool, error) {
	changed := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := models.PlayerGameProgress{PlayerID: playerID, GameID: gameID}
		if err := tx.Clauses(progressConflict).Create(&seed).Error; err != nil {
			return err
		}
		res := tx.Model(&models.PlayerGameProgress{}).
			Where("player_id = ? AND game_id = ? AND is_unlocked = ?", playerID, gameID, false).
			Updates(map[string]any{"is_unlocked": true, "unlocked_at": at})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		return nil
	})
	return changed, err
}

func (s *GormStore) ResetProgress(ctx context.Context, playerID string) (int64, error) {
	res := s.DB.WithContext(ctx).Where("player_id = ?", playerID).Delete(&models.PlayerGameProgress{})
	return res.RowsAffected, res.Error
}

// --- sessions ---

// CreateSession returns ErrStaleSession when ms is active and the player
// already has an active session on the game.
func (s *GormStore) CreateSession(ctx context.Context, ms *models.MatchSession) error {
	err := s.DB.WithContext(ctx).Create(ms).Error
	if err == nil || ms.Status != models.SessionActive {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrStaleSession
	}
	// not every driver translates constraint errors; look for the rival row
	if _, findErr := s.FindActiveSession(ctx, ms.PlayerID, ms.GameID); findErr == nil {
		return ErrStaleSession
	}
	return err
}

func (s *GormStore) GetSession(ctx context.Context, id string) (*models.MatchSession, error) {
	var ms models.MatchSession
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&ms).Error; err != nil {
		return nil, notFound(err)
	}
	return &ms, nil
}

func (s *GormStore) FindActiveSession(ctx context.Context, playerID, gameID string) (*models.MatchSession, error) {
	var ms models.MatchSession
	err := s.DB.WithContext(ctx).
		Where("player_id = ? AND game_id = ? AND status = ?", playerID, gameID, models.SessionActive).
		First(&ms).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &ms, nil
}

func (s *GormStore) RecordAttempt(ctx context.Context, w AttemptWrite) error {
	a := w.Attempt
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&a).Error; err != nil {
			return err
		}
		res := tx.Model(&models.MatchSession{}).
			Where("id = ? AND status = ? AND pairs_matched = ? AND mistakes_count = ?",
				a.SessionID, models.SessionActive, w.PrevPairsMatched, w.PrevMistakes).
			Updates(map[string]any{
				"score":          a.ScoreAfter,
				"mistakes_count": a.MistakesAfter,
				"pairs_matched":  a.PairsMatchedAfter,
				"session_data":   datatypes.NewJSONType(w.Data),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleSession
		}
		return nil
	})
}

func (s *GormStore) FinalizeSession(ctx context.Context, id string, f Finalize) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.MatchSession{}).
		Where("id = ? AND status = ?", id, models.SessionActive).
		Updates(map[string]any{
			"status":       f.Status,
			"end_reason":   f.Reason,
			"completed_at": f.CompletedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) MarkUnlockApplied(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Model(&models.MatchSession{}).
		Where("id = ?", id).
		Update("unlock_applied", true).Error
}

func (s *GormStore) ListAttempts(ctx context.Context, sessionID string) ([]models.MatchAttempt, error) {
	var attempts []models.MatchAttempt
	err := s.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq ASC").
		Find(&attempts).Error
	return attempts, err
}

func (s *GormStore) ListOverdueSessions(ctx context.Context, before time.Time, limit int) ([]models.MatchSession, error) {
	var sessions []models.MatchSession
	err := s.DB.WithContext(ctx).
		Where("status = ? AND deadline < ?", models.SessionActive, before).
		Order("deadline ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (s *GormStore) ListPendingProgression(ctx context.Context, limit int) ([]models.MatchSession, error) {
	var sessions []models.MatchSession
	err := s.DB.WithContext(ctx).
		Where("status = ? AND unlock_applied = ?", models.SessionCompleted, false).
		Order("completed_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}
