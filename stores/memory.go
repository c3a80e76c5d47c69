package stores

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"matching-game-service/models"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	games    map[string]models.Game
	pairs    map[string][]models.Pair
	progress map[string]*models.PlayerGameProgress // key: player|game
	sessions map[string]*models.MatchSession
	attempts map[string][]models.MatchAttempt
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:    make(map[string]models.Game),
		pairs:    make(map[string][]models.Pair),
		progress: make(map[string]*models.PlayerGameProgress),
		sessions: make(map[string]*models.MatchSession),
		attempts: make(map[string][]models.MatchAttempt),
	}
}

func progressKey(playerID, gameID string) string { return playerID + "|" + gameID }

func (m *MemoryStore) ListGames(_ context.Context, activeOnly bool) ([]models.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Game, 0, len(m.games))
	for _, g := range m.games {
		if activeOnly && !g.IsActive {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *MemoryStore) GetGame(_ context.Context, id string) (*models.Game, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (m *MemoryStore) SetGameActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.games[id]
	if !ok {
		return ErrNotFound
	}
	g.IsActive = active
	g.UpdatedAt = time.Now()
	m.games[id] = g
	return nil
}

func (m *MemoryStore) UpsertGame(_ context.Context, g models.Game, pairs []models.Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertGameLocked(g, pairs)
	return nil
}

func (m *MemoryStore) ReplaceCatalog(_ context.Context, entries []CatalogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keep := make(map[string]bool, len(entries))
	for _, e := range entries {
		keep[m.upsertGameLocked(e.Game, e.Pairs)] = true
	}

	var deactivated int64
	now := time.Now()
	for id, g := range m.games {
		if keep[id] || !g.IsActive {
			continue
		}
		g.IsActive = false
		g.UpdatedAt = now
		m.games[id] = g
		deactivated++
	}
	return deactivated, nil
}

func (m *MemoryStore) upsertGameLocked(g models.Game, pairs []models.Pair) string {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now()
	if old, ok := m.games[g.ID]; ok {
		g.CreatedAt = old.CreatedAt
	} else {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	m.games[g.ID] = g

	pool := make([]models.Pair, len(pairs))
	for i, p := range pairs {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		p.GameID = g.ID
		pool[i] = p
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].OrderIndex < pool[j].OrderIndex })
	m.pairs[g.ID] = pool
	return g.ID
}

func (m *MemoryStore) ListPairs(_ context.Context, gameID string) ([]models.Pair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Pair(nil), m.pairs[gameID]...), nil
}

func (m *MemoryStore) ListProgress(_ context.Context, playerID string) ([]models.PlayerGameProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.PlayerGameProgress
	for _, p := range m.progress {
		if p.PlayerID == playerID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out, nil
}

func (m *MemoryStore) GetProgress(_ context.Context, playerID, gameID string) (*models.PlayerGameProgress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.progress[progressKey(playerID, gameID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ensureProgress returns the row for (player, game), creating it locked.
// Callers hold m.mu.
func (m *MemoryStore) ensureProgress(playerID, gameID string, at time.Time) *models.PlayerGameProgress {
	key := progressKey(playerID, gameID)
	p, ok := m.progress[key]
	if !ok {
		p = &models.PlayerGameProgress{ID: uuid.NewString(), PlayerID: playerID, GameID: gameID}
		p.CreatedAt = at
		p.UpdatedAt = at
		m.progress[key] = p
	}
	return p
}

func (m *MemoryStore) SeedProgress(_ context.Context, playerID string, gameIDs []string, unlockedID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range gameIDs {
		if _, ok := m.progress[progressKey(playerID, id)]; ok {
			continue
		}
		p := m.ensureProgress(playerID, id, at)
		if id == unlockedID {
			p.IsUnlocked = true
			t := at
			p.UnlockedAt = &t
		}
	}
	return nil
}

func (m *MemoryStore) RecordCompletion(_ context.Context, c Completion) (*models.PlayerGameProgress, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.SessionID != "" {
		ms, ok := m.sessions[c.SessionID]
		if !ok || ms.ProgressRecorded {
			if p, ok := m.progress[progressKey(c.PlayerID, c.GameID)]; ok {
				cp := *p
				return &cp, false, nil
			}
			return nil, false, nil
		}
		ms.ProgressRecorded = true
	}

	p := m.ensureProgress(c.PlayerID, c.GameID, c.At)
	at := c.At
	p.IsUnlocked = true
	p.IsCompleted = true
	if c.Score > p.BestScore {
		p.BestScore = c.Score
	}
	p.CompletionCount++
	p.LastPlayedAt = &at
	if p.FirstCompletedAt == nil {
		p.FirstCompletedAt = &at
	}
	if p.UnlockedAt == nil {
		p.UnlockedAt = &at
	}
	p.UpdatedAt = at

	cp := *p
	return &cp, true, nil
}

func (m *MemoryStore) Unlock(_ context.Context, playerID, gameID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.ensureProgress(playerID, gameID, at)
	if p.IsUnlocked {
		return false, nil
	}
	t := at
	p.IsUnlocked = true
	p.UnlockedAt = &t
	p.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) ResetProgress(_ context.Context, playerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, p := range m.progress {
		if p.PlayerID == playerID {
			delete(m.progress, key)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, ms *models.MatchSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ms.ID == "" {
		ms.ID = uuid.NewString()
	}
	if ms.Status == models.SessionActive {
		for _, other := range m.sessions {
			if other.Status == models.SessionActive && other.PlayerID == ms.PlayerID && other.GameID == ms.GameID {
				return ErrStaleSession
			}
		}
	}
	now := time.Now()
	ms.CreatedAt = now
	ms.UpdatedAt = now
	cp := *ms
	m.sessions[ms.ID] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.MatchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ms
	return &cp, nil
}

func (m *MemoryStore) FindActiveSession(_ context.Context, playerID, gameID string) (*models.MatchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ms := range m.sessions {
		if ms.Status == models.SessionActive && ms.PlayerID == playerID && ms.GameID == gameID {
			cp := *ms
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) RecordAttempt(_ context.Context, w AttemptWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := w.Attempt
	ms, ok := m.sessions[a.SessionID]
	if !ok || ms.Status != models.SessionActive ||
		ms.PairsMatched != w.PrevPairsMatched || ms.MistakesCount != w.PrevMistakes {
		return ErrStaleSession
	}
	for _, prev := range m.attempts[a.SessionID] {
		if prev.Seq == a.Seq {
			return ErrStaleSession
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now()
	m.attempts[a.SessionID] = append(m.attempts[a.SessionID], a)

	ms.Score = a.ScoreAfter
	ms.MistakesCount = a.MistakesAfter
	ms.PairsMatched = a.PairsMatchedAfter
	ms.SessionData = datatypes.NewJSONType(w.Data)
	ms.UpdatedAt = a.CreatedAt
	return nil
}

func (m *MemoryStore) FinalizeSession(_ context.Context, id string, f Finalize) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if ms.Status != models.SessionActive {
		return false, nil
	}
	at := f.CompletedAt
	ms.Status = f.Status
	ms.EndReason = f.Reason
	ms.CompletedAt = &at
	ms.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) MarkUnlockApplied(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	ms.UnlockApplied = true
	return nil
}

func (m *MemoryStore) ListAttempts(_ context.Context, sessionID string) ([]models.MatchAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.MatchAttempt(nil), m.attempts[sessionID]...), nil
}

func (m *MemoryStore) ListOverdueSessions(_ context.Context, before time.Time, limit int) ([]models.MatchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MatchSession
	for _, ms := range m.sessions {
		if ms.Status == models.SessionActive && ms.Deadline.Before(before) {
			out = append(out, *ms)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListPendingProgression(_ context.Context, limit int) ([]models.MatchSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.MatchSession
	for _, ms := range m.sessions {
		if ms.Status == models.SessionCompleted && !ms.UnlockApplied {
			out = append(out, *ms)
		}
	}
	sort.Slice(out, func(i, j int) bool { return completedAt(out[i]).Before(completedAt(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func completedAt(ms models.MatchSession) time.Time {
	if ms.CompletedAt == nil {
		return time.Time{}
	}
	return *ms.CompletedAt
}
