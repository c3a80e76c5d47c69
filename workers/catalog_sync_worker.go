// workers/catalog_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"matching-game-service/models"
	"matching-game-service/stores"
	"matching-game-service/utils"
)

// MaxCatalogBytes bounds the catalog document read from any source.
const MaxCatalogBytes = 8 << 20

// CatalogDocument is the content authors' export of the game catalog.
type CatalogDocument struct {
	Games []CatalogGame `json:"games" validate:"required,min=1,dive"`
}

type CatalogGame struct {
	ID               string        `json:"id" validate:"required,max=64"`
	Title            string        `json:"title" validate:"required"`
	Description      string        `json:"description"`
	LevelNumber      int           `json:"level_number" validate:"min=1"`
	StageNumber      int           `json:"stage_number" validate:"min=1"`
	MaxPairs         int           `json:"max_pairs" validate:"min=0"`
	TimeLimitSeconds int           `json:"time_limit_seconds" validate:"min=1"`
	IsActive         *bool         `json:"is_active"`
	Pairs            []CatalogPair `json:"pairs" validate:"dive"`
}

type CatalogPair struct {
	Left  string `json:"left" validate:"required"`
	Right string `json:"right" validate:"required"`
}

// SyncReport summarizes one applied catalog document.
type SyncReport struct {
	Source      string    `json:"source"`
	Games       int       `json:"games"`
	Pairs       int       `json:"pairs"`
	Deactivated int64     `json:"deactivated"`
	At          time.Time `json:"at"`
}

var ErrInvalidCatalog = errors.New("invalid catalog document")

type CatalogSyncWorker struct {
	store    stores.CatalogWriter
	source   CatalogSource
	interval time.Duration
	validate *validator.Validate

	mu sync.Mutex // one sync at a time
}

func NewCatalogSyncWorker(store stores.CatalogWriter, source CatalogSource, interval time.Duration) *CatalogSyncWorker {
	return &CatalogSyncWorker{
		store:    store,
		source:   source,
		interval: interval,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (w *CatalogSyncWorker) Start(ctx context.Context) {
	log.Info().Str("source", w.source.Name()).Dur("interval", w.interval).Msg("[CATALOG_SYNC] starting worker")
	go w.run(ctx)
}

func (w *CatalogSyncWorker) run(ctx context.Context) {
	if _, err := w.SyncOnce(ctx); err != nil {
		log.Warn().Err(err).Msg("[CATALOG_SYNC] initial sync failed")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx); err != nil {
				log.Error().Err(err).Msg("[CATALOG_SYNC] sync failed")
			}
		case <-ctx.Done():
			log.Info().Msg("[CATALOG_SYNC] worker stopped")
			return
		}
	}
}

// SyncOnce fetches, validates and applies the catalog document. A document
// that fails validation is rejected whole and nothing is written. Games
// missing from an applied document are deactivated.
func (w *CatalogSyncWorker) SyncOnce(ctx context.Context) (*SyncReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	raw, err := w.source.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog from %s: %w", w.source.Name(), err)
	}
	doc, err := w.Parse(raw)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Source: w.source.Name(), At: time.Now().UTC()}
	entries := make([]stores.CatalogEntry, 0, len(doc.Games))
	for _, cg := range doc.Games {
		g, pairs := toModels(cg)
		entries = append(entries, stores.CatalogEntry{Game: g, Pairs: pairs})
		report.Games++
		report.Pairs += len(pairs)
	}
	deactivated, err := w.store.ReplaceCatalog(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("apply catalog: %w", err)
	}
	report.Deactivated = deactivated

	log.Info().
		Str("source", report.Source).
		Int("games", report.Games).
		Int("pairs", report.Pairs).
		Int64("deactivated", report.Deactivated).
		Msg("[CATALOG_SYNC] catalog applied")
	return report, nil
}

// Parse decodes and validates a catalog document.
func (w *CatalogSyncWorker) Parse(raw []byte) (*CatalogDocument, error) {
	var doc CatalogDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	for i := range doc.Games {
		normalize(&doc.Games[i])
	}
	if err := w.validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := checkStages(doc.Games); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return &doc, nil
}

func normalize(cg *CatalogGame) {
	cg.Title = utils.NormalizeContent(cg.Title)
	cg.Description = utils.NormalizeContent(cg.Description)
	for i := range cg.Pairs {
		cg.Pairs[i].Left = utils.NormalizeContent(cg.Pairs[i].Left)
		cg.Pairs[i].Right = utils.NormalizeContent(cg.Pairs[i].Right)
	}
}

// checkStages requires unique game ids and, within each level, stage
// numbers that are unique and contiguous from 1.
func checkStages(games []CatalogGame) error {
	ids := make(map[string]bool, len(games))
	stages := make(map[int][]int)
	for _, g := range games {
		if ids[g.ID] {
			return fmt.Errorf("game %s appears twice", g.ID)
		}
		ids[g.ID] = true
		stages[g.LevelNumber] = append(stages[g.LevelNumber], g.StageNumber)
	}
	for level, nums := range stages {
		sort.Ints(nums)
		for i, n := range nums {
			if n != i+1 {
				return fmt.Errorf("level %d: stages must be unique and contiguous from 1, got %v", level, nums)
			}
		}
	}
	return nil
}

func toModels(cg CatalogGame) (models.Game, []models.Pair) {
	active := true
	if cg.IsActive != nil {
		active = *cg.IsActive
	}
	g := models.Game{
		ID:               cg.ID,
		Title:            cg.Title,
		Slug:             utils.GameSlug(cg.Title, cg.LevelNumber, cg.StageNumber),
		SearchKey:        utils.SearchKey(cg.Title),
		Description:      cg.Description,
		LevelNumber:      cg.LevelNumber,
		StageNumber:      cg.StageNumber,
		MaxPairs:         cg.MaxPairs,
		TimeLimitSeconds: cg.TimeLimitSeconds,
		IsActive:         active,
	}
	pairs := make([]models.Pair, len(cg.Pairs))
	for i, p := range cg.Pairs {
		pairs[i] = models.Pair{
			ID:           fmt.Sprintf("%s-%03d", cg.ID, i+1),
			GameID:       cg.ID,
			LeftContent:  p.Left,
			RightContent: p.Right,
			OrderIndex:   i,
		}
	}
	return g, pairs
}
