package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"matching-game-service/models"
	"matching-game-service/stores"
)

var epoch = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	store       *stores.MemoryStore
	clock       *clockwork.FakeClock
	broker      *Broker
	catalog     *CatalogService
	progression *ProgressionService
	engine      *SessionService
}

// faultyStore fails selected writes on demand.
type faultyStore struct {
	*stores.MemoryStore
	failAttempts atomic.Bool
	failUnlock   atomic.Bool
	failFinalize atomic.Bool
	// rivalStarts makes the next n CreateSession calls lose to a session
	// for the same player and game created just before them.
	rivalStarts atomic.Int32
	rivals      []string
}

var errInjected = fmt.Errorf("injected failure")

func (f *faultyStore) RecordAttempt(ctx context.Context, w stores.AttemptWrite) error {
	if f.failAttempts.Load() {
		return errInjected
	}
	return f.MemoryStore.RecordAttempt(ctx, w)
}

func (f *faultyStore) Unlock(ctx context.Context, playerID, gameID string, at time.Time) (bool, error) {
	if f.failUnlock.Load() {
		return false, errInjected
	}
	return f.MemoryStore.Unlock(ctx, playerID, gameID, at)
}

func (f *faultyStore) FinalizeSession(ctx context.Context, id string, fin stores.Finalize) (bool, error) {
	if f.failFinalize.Load() {
		return false, errInjected
	}
	return f.MemoryStore.FinalizeSession(ctx, id, fin)
}

func (f *faultyStore) CreateSession(ctx context.Context, ms *models.MatchSession) error {
	if ms.Status == models.SessionActive && f.rivalStarts.Add(-1) >= 0 {
		rival := *ms
		rival.ID = ""
		if err := f.MemoryStore.CreateSession(ctx, &rival); err != nil {
			return err
		}
		f.rivals = append(f.rivals, rival.ID)
	}
	return f.MemoryStore.CreateSession(ctx, ms)
}

func newHarnessWith(t *testing.T, st stores.Store, mem *stores.MemoryStore) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	broker := NewBroker()
	catalog := NewCatalogService(st, st)
	progression := NewProgressionService(st, st, catalog, broker, clock)
	var seed atomic.Uint64
	engine := NewSessionService(catalog, st, progression,
		WithClock(clock),
		WithRand(func() *rand.Rand {
			n := seed.Add(1)
			return rand.New(rand.NewPCG(n, n*31))
		}),
	)
	t.Cleanup(engine.Shutdown)
	return &harness{store: mem, clock: clock, broker: broker, catalog: catalog, progression: progression, engine: engine}
}

func newHarness(t *testing.T) *harness {
	mem := stores.NewMemoryStore()
	return newHarnessWith(t, mem, mem)
}

func newFaultyHarness(t *testing.T) (*harness, *faultyStore) {
	mem := stores.NewMemoryStore()
	f := &faultyStore{MemoryStore: mem}
	return newHarnessWith(t, f, mem), f
}

func (h *harness) addGame(t *testing.T, id string, level, stage, pairs, limit int) {
	t.Helper()
	pool := make([]models.Pair, pairs)
	for i := range pool {
		pool[i] = models.Pair{
			ID:           fmt.Sprintf("%s-p%d", id, i),
			LeftContent:  fmt.Sprintf("مصطلح %d", i),
			RightContent: fmt.Sprintf("تعريف %d", i),
			OrderIndex:   i,
		}
	}
	require.NoError(t, h.store.UpsertGame(context.Background(), models.Game{
		ID: id, Title: id, LevelNumber: level, StageNumber: stage, TimeLimitSeconds: limit, IsActive: true,
	}, pool))
}

// standardCatalog: level 1 has three stages, level 2 has two.
func (h *harness) standardCatalog(t *testing.T) {
	h.addGame(t, "g11", 1, 1, 6, 180)
	h.addGame(t, "g12", 1, 2, 6, 180)
	h.addGame(t, "g13", 1, 3, 6, 180)
	h.addGame(t, "g21", 2, 1, 8, 180)
	h.addGame(t, "g22", 2, 2, 8, 180)
}

// answerKey maps pair id to its (left item, right item) on the session board.
func (h *harness) answerKey(t *testing.T, sessionID string) map[string][2]string {
	t.Helper()
	ms, err := h.store.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	data := ms.SessionData.Data()
	key := map[string][2]string{}
	for _, it := range data.Left {
		v := key[it.PairID]
		v[0] = it.ID
		key[it.PairID] = v
	}
	for _, it := range data.Right {
		v := key[it.PairID]
		v[1] = it.ID
		key[it.PairID] = v
	}
	return key
}

// wrongPick returns a left item and a right item from different pairs.
func wrongPick(key map[string][2]string) (string, string) {
	var ids []string
	for id := range key {
		ids = append(ids, id)
	}
	return key[ids[0]][0], key[ids[1]][1]
}

func (h *harness) unlockAll(t *testing.T, player string, gameIDs ...string) {
	t.Helper()
	for _, id := range gameIDs {
		_, err := h.store.Unlock(context.Background(), player, id, epoch)
		require.NoError(t, err)
	}
}

func (h *harness) waitForCountdowns(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, n))
}
