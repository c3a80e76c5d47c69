package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matching-game-service/game"
	"matching-game-service/models"
	"matching-game-service/stores"
)

func TestStartDealsLevelQuota(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	h.unlockAll(t, "p1", "g21")
	ctx := context.Background()

	tests := []struct {
		gameID string
		pairs  int
		max    int
	}{
		{"g11", 4, 40},
		{"g21", 5, 50},
	}
	for _, tt := range tests {
		t.Run(tt.gameID, func(t *testing.T) {
			v, err := h.engine.Start(ctx, "p1", tt.gameID)
			require.NoError(t, err)
			assert.Equal(t, models.SessionActive, v.Status)
			assert.Equal(t, tt.pairs, v.TargetPairs)
			assert.Equal(t, tt.max, v.MaxScore)
			assert.Len(t, v.Left, tt.pairs)
			assert.Len(t, v.Right, tt.pairs)
			assert.Equal(t, 180, v.RemainingSeconds)
			assert.Zero(t, v.Score)
		})
	}
}

func TestStartWithSmallPoolUsesWholePool(t *testing.T) {
	h := newHarness(t)
	h.addGame(t, "small", 3, 1, 2, 60)

	v, err := h.engine.Start(context.Background(), "p1", "small")
	require.NoError(t, err)
	assert.Equal(t, 2, v.TargetPairs)
	assert.Equal(t, 60, v.MaxScore)
}

func TestStartWithEmptyPoolCreatesNoSession(t *testing.T) {
	h := newHarness(t)
	h.addGame(t, "empty", 1, 1, 0, 60)
	ctx := context.Background()

	_, err := h.engine.Start(ctx, "p1", "empty")
	assert.ErrorIs(t, err, game.ErrNoContent)

	_, err = h.store.FindActiveSession(ctx, "p1", "empty")
	assert.ErrorIs(t, err, stores.ErrNotFound)
	assert.Zero(t, h.engine.Live())
}

func TestStartGuards(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()
	require.NoError(t, h.catalog.SetActive(ctx, "g22", false))

	_, err := h.engine.Start(ctx, "p1", "g12")
	assert.ErrorIs(t, err, ErrGameLocked)

	_, err = h.engine.Start(ctx, "p1", "g22")
	assert.ErrorIs(t, err, ErrGameInactive)

	_, err = h.engine.Start(ctx, "p1", "nope")
	assert.ErrorIs(t, err, ErrGameNotFound)
}

func TestFullSessionCompletesAndUnlocksNextStage(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)
	key := h.answerKey(t, v.ID)
	require.Len(t, key, 4)

	var last *AttemptResult
	n := 0
	for _, items := range key {
		last, err = h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
		require.NoError(t, err)
		n++
		assert.True(t, last.Correct)
		require.NotNil(t, last.Match)
		assert.Equal(t, n, last.Match.Ordinal)
		assert.Equal(t, last.Session.PairsMatched*game.PointsPerMatch, last.Session.Score)
	}

	s := last.Session
	assert.Equal(t, models.SessionCompleted, s.Status)
	assert.Equal(t, models.EndAllMatched, s.EndReason)
	assert.Equal(t, 40, s.Score)
	assert.Equal(t, 4, s.PairsMatched)
	require.NotNil(t, s.Unlock)
	assert.Equal(t, UnlockStage, s.Unlock.Kind)
	require.NotNil(t, s.Unlock.NextGame)
	assert.Equal(t, "g12", s.Unlock.NextGame.ID)
	assert.Nil(t, s.Unlock.OpenedLevel)

	p, err := h.store.GetProgress(ctx, "p1", "g12")
	require.NoError(t, err)
	assert.True(t, p.IsUnlocked)

	done, err := h.store.GetProgress(ctx, "p1", "g11")
	require.NoError(t, err)
	assert.True(t, done.IsCompleted)
	assert.Equal(t, 40, done.BestScore)
	assert.Equal(t, 1, done.CompletionCount)
	assert.Zero(t, h.engine.Live(), "countdown must stop on completion")
}

func TestWrongAndRepeatedAttempts(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)
	key := h.answerKey(t, v.ID)

	l, r := wrongPick(key)
	res, err := h.engine.Attempt(ctx, "p1", v.ID, l, r)
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Nil(t, res.Match)
	assert.Equal(t, 1, res.Session.MistakesCount)
	assert.Zero(t, res.Session.Score)

	var items [2]string
	for _, it := range key {
		items = it
		break
	}
	_, err = h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
	require.NoError(t, err)

	_, err = h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
	assert.ErrorIs(t, err, game.ErrAlreadyMatched)
	_, err = h.engine.Attempt(ctx, "p1", v.ID, "ghost", items[1])
	assert.ErrorIs(t, err, game.ErrUnknownItem)

	got, err := h.engine.Get(ctx, "p1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PairsMatched)
	assert.Equal(t, 1, got.MistakesCount)
	assert.Equal(t, 10, got.Score)
	assert.Len(t, got.Matched, 1)

	attempts, err := h.engine.Attempts(ctx, "p1", v.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2, "rejected picks are not attempts")
	assert.False(t, attempts[0].Correct)
	assert.True(t, attempts[1].Correct)
	assert.Equal(t, 2, attempts[1].Seq)
}

func TestAttemptPersistenceFailureKeepsCounters(t *testing.T) {
	h, faulty := newFaultyHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)
	key := h.answerKey(t, v.ID)
	var items [2]string
	for _, it := range key {
		items = it
		break
	}

	faulty.failAttempts.Store(true)
	_, err = h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
	var ape *AttemptPersistenceError
	require.ErrorAs(t, err, &ape)
	assert.Equal(t, v.ID, ape.SessionID)

	got, err := h.engine.Get(ctx, "p1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, got.Status)
	assert.Zero(t, got.PairsMatched)
	assert.Zero(t, got.Score)
	assert.Empty(t, got.Matched)

	faulty.failAttempts.Store(false)
	res, err := h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, 10, res.Session.Score)
}

func TestTimeoutCompletesWithPartialScore(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)
	h.waitForCountdowns(t, 1)

	key := h.answerKey(t, v.ID)
	for _, items := range key {
		_, err := h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
		require.NoError(t, err)
		break
	}

	h.clock.Advance(180 * time.Second)
	require.Eventually(t, func() bool {
		ms, err := h.store.GetSession(ctx, v.ID)
		return err == nil && ms.Status == models.SessionCompleted
	}, 2*time.Second, 10*time.Millisecond)

	ms, err := h.store.GetSession(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EndTimeout, ms.EndReason)
	assert.Equal(t, 10, ms.Score)

	require.Eventually(t, func() bool {
		p, err := h.store.GetProgress(ctx, "p1", "g12")
		return err == nil && p.IsUnlocked
	}, 2*time.Second, 10*time.Millisecond)

	_, err = h.engine.Attempt(ctx, "p1", v.ID, "x", "y")
	assert.ErrorIs(t, err, game.ErrSessionNotActive)
}

func TestCompletionAndExpiryRaceAppliesOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		h.standardCatalog(t)
		ctx := context.Background()

		v, err := h.engine.Start(ctx, "p1", "g11")
		require.NoError(t, err)
		key := h.answerKey(t, v.ID)

		var lastPair [2]string
		n := 0
		for _, items := range key {
			n++
			if n == len(key) {
				lastPair = items
				break
			}
			_, err := h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := h.engine.Attempt(ctx, "p1", v.ID, lastPair[0], lastPair[1])
			if err != nil {
				assert.ErrorIs(t, err, game.ErrSessionNotActive)
			}
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, h.engine.Expire(ctx, v.ID))
		}()
		wg.Wait()

		ms, err := h.store.GetSession(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionCompleted, ms.Status)
		assert.Equal(t, ms.PairsMatched*game.PointsPerMatch, ms.Score)

		p, err := h.store.GetProgress(ctx, "p1", "g11")
		require.NoError(t, err)
		assert.Equal(t, 1, p.CompletionCount, "progression must run exactly once")
	}
}

func TestOwnerCheckWhileAdoptingStoredOutcome(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)
	// another instance finalized the row; this one still holds it live
	ok, err := h.store.FinalizeSession(ctx, v.ID, stores.Finalize{Status: models.SessionAbandoned, Reason: models.EndAbandoned, CompletedAt: epoch})
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := h.engine.Get(ctx, "p2", v.ID)
			assert.ErrorIs(t, err, ErrNotSessionOwner)
		}
	}()
	go func() {
		defer wg.Done()
		got, err := h.engine.Abandon(ctx, "p1", v.ID)
		assert.NoError(t, err)
		if got != nil {
			assert.Equal(t, models.SessionAbandoned, got.Status)
		}
	}()
	wg.Wait()

	got, err := h.engine.Get(ctx, "p1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbandoned, got.Status)
}

func TestCompleteIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)

	_, err = h.engine.Complete(ctx, "p1", v.ID)
	assert.ErrorIs(t, err, ErrSessionIncomplete)

	for _, items := range h.answerKey(t, v.ID) {
		_, err := h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		got, err := h.engine.Complete(ctx, "p1", v.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionCompleted, got.Status)
		assert.Equal(t, 40, got.Score)
	}

	p, err := h.store.GetProgress(ctx, "p1", "g11")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CompletionCount)
}

func TestCompleteRetriesFailedFinalize(t *testing.T) {
	h, faulty := newFaultyHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)

	faulty.failFinalize.Store(true)
	var last *AttemptResult
	for _, items := range h.answerKey(t, v.ID) {
		last, err = h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
		require.NoError(t, err)
	}
	assert.Equal(t, models.SessionActive, last.Session.Status, "failed finalize leaves the session active")
	assert.Equal(t, 40, last.Session.Score)

	_, err = h.engine.Complete(ctx, "p1", v.ID)
	assert.Error(t, err)

	faulty.failFinalize.Store(false)
	got, err := h.engine.Complete(ctx, "p1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)
	require.NotNil(t, got.Unlock)
	assert.Equal(t, "g12", got.Unlock.NextGame.ID)
}

func TestAbandonNeverUnlocks(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)
	for _, items := range h.answerKey(t, v.ID) {
		_, err := h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
		require.NoError(t, err)
		break
	}

	got, err := h.engine.Abandon(ctx, "p1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbandoned, got.Status)
	assert.Equal(t, models.EndAbandoned, got.EndReason)
	assert.Zero(t, h.engine.Live())

	again, err := h.engine.Abandon(ctx, "p1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbandoned, again.Status)

	p, err := h.store.GetProgress(ctx, "p1", "g12")
	require.NoError(t, err)
	assert.False(t, p.IsUnlocked)
	first, err := h.store.GetProgress(ctx, "p1", "g11")
	require.NoError(t, err)
	assert.Zero(t, first.CompletionCount)

	_, err = h.engine.Complete(ctx, "p1", v.ID)
	require.NoError(t, err, "complete on an ended session returns it")
}

func TestStartSupersedesActiveSession(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	first, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)
	second, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	old, err := h.store.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbandoned, old.Status)
	assert.Equal(t, models.EndSuperseded, old.EndReason)

	active, err := h.store.FindActiveSession(ctx, "p1", "g11")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, 1, h.engine.Live())
}

func TestStartRetriesAfterConcurrentStart(t *testing.T) {
	h, f := newFaultyHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	f.rivalStarts.Store(1)
	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)
	require.Len(t, f.rivals, 1)

	rival, err := h.store.GetSession(ctx, f.rivals[0])
	require.NoError(t, err)
	assert.Equal(t, models.SessionAbandoned, rival.Status)
	assert.Equal(t, models.EndSuperseded, rival.EndReason)

	active, err := h.store.FindActiveSession(ctx, "p1", "g11")
	require.NoError(t, err)
	assert.Equal(t, v.ID, active.ID)
}

func TestStartGivesUpAfterSecondConflict(t *testing.T) {
	h, f := newFaultyHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	f.rivalStarts.Store(2)
	_, err := h.engine.Start(ctx, "p1", "g11")
	assert.ErrorIs(t, err, ErrSessionConflict)
	require.Len(t, f.rivals, 2)

	active, err := h.store.FindActiveSession(ctx, "p1", "g11")
	require.NoError(t, err)
	assert.Equal(t, f.rivals[1], active.ID)
}

func TestConcurrentStartsLeaveOneActiveSession(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 2)
	errs := make([]error, 2)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := h.engine.Start(ctx, "p1", "g11")
			errs[i] = err
			if v != nil {
				ids[i] = v.ID
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrSessionConflict)
		}
	}
	active, err := h.store.FindActiveSession(ctx, "p1", "g11")
	require.NoError(t, err)
	assert.Contains(t, ids, active.ID)
}

func TestSessionRehydratesAfterRestart(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)
	key := h.answerKey(t, v.ID)
	var matched [2]string
	for _, items := range key {
		matched = items
		_, err := h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
		require.NoError(t, err)
		break
	}

	h.engine.Shutdown()
	restarted := NewSessionService(h.catalog, h.store, h.progression, WithClock(h.clock))
	t.Cleanup(restarted.Shutdown)

	got, err := restarted.Get(ctx, "p1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PairsMatched)
	assert.Equal(t, v.Left, got.Left)
	require.Len(t, got.Matched, 1)

	_, err = restarted.Attempt(ctx, "p1", v.ID, matched[0], matched[1])
	assert.ErrorIs(t, err, game.ErrAlreadyMatched)

	for _, items := range key {
		if items == matched {
			continue
		}
		_, err := restarted.Attempt(ctx, "p1", v.ID, items[0], items[1])
		require.NoError(t, err)
	}
	final, err := restarted.Get(ctx, "p1", v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, final.Status)
	assert.Equal(t, 40, final.Score)
}

func TestSessionOwnership(t *testing.T) {
	h := newHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)

	_, err = h.engine.Get(ctx, "p2", v.ID)
	assert.ErrorIs(t, err, ErrNotSessionOwner)
	_, err = h.engine.Attempt(ctx, "p2", v.ID, "a", "b")
	assert.ErrorIs(t, err, ErrNotSessionOwner)
	_, err = h.engine.Attempts(ctx, "p2", v.ID)
	assert.ErrorIs(t, err, ErrNotSessionOwner)
	_, err = h.engine.Get(ctx, "p1", "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUnlockFailureKeepsCompletion(t *testing.T) {
	h, faulty := newFaultyHarness(t)
	h.standardCatalog(t)
	ctx := context.Background()

	v, err := h.engine.Start(ctx, "p1", "g11")
	require.NoError(t, err)

	faulty.failUnlock.Store(true)
	var last *AttemptResult
	for _, items := range h.answerKey(t, v.ID) {
		last, err = h.engine.Attempt(ctx, "p1", v.ID, items[0], items[1])
		require.NoError(t, err)
	}
	assert.Equal(t, models.SessionCompleted, last.Session.Status)
	assert.Nil(t, last.Session.Unlock)

	p, err := h.store.GetProgress(ctx, "p1", "g11")
	require.NoError(t, err)
	assert.True(t, p.IsCompleted, "completion survives a failed unlock")
	next, err := h.store.GetProgress(ctx, "p1", "g12")
	require.NoError(t, err)
	assert.False(t, next.IsUnlocked)

	pending, err := h.store.ListPendingProgression(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	faulty.failUnlock.Store(false)
	sweeper := NewSweeper(faulty, h.engine, h.progression, h.clock, 0)
	assert.Equal(t, 1, sweeper.RetryProgression(ctx))

	next, err = h.store.GetProgress(ctx, "p1", "g12")
	require.NoError(t, err)
	assert.True(t, next.IsUnlocked)
	p, err = h.store.GetProgress(ctx, "p1", "g11")
	require.NoError(t, err)
	assert.Equal(t, 1, p.CompletionCount, "replay must not count the completion twice")

	pending, err = h.store.ListPendingProgression(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestErrorsUnwrap(t *testing.T) {
	ape := &AttemptPersistenceError{SessionID: "s", Err: stores.ErrStaleSession}
	assert.True(t, errors.Is(ape, stores.ErrStaleSession))
	upe := &UnlockPropagationError{PlayerID: "p", GameID: "g", Err: errInjected}
	assert.True(t, errors.Is(upe, errInjected))
	assert.Contains(t, upe.Error(), "g")
}
