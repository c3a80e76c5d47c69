package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"

	"matching-game-service/game"
	"matching-game-service/models"
	"matching-game-service/stores"
)

// SessionService runs the matching sessions: start, attempts, countdown,
// completion and abandonment. Each live session is guarded by its own lock,
// so attempts on one session are applied one at a time.
type SessionService struct {
	catalog     *CatalogService
	sessions    stores.SessionStore
	progression *ProgressionService
	clock       clockwork.Clock
	newRand     func() *rand.Rand

	mu   sync.Mutex
	live map[string]*liveSession
}

type liveSession struct {
	owner string // fixed at creation; read without mu

	mu        sync.Mutex
	row       models.MatchSession
	game      models.Game
	board     *game.Board
	countdown *game.Countdown
	unlock    *UnlockDecision
}

type SessionOption func(*SessionService)

func WithClock(c clockwork.Clock) SessionOption {
	return func(s *SessionService) { s.clock = c }
}

// WithRand sets the source of per-session randomness.
func WithRand(f func() *rand.Rand) SessionOption {
	return func(s *SessionService) { s.newRand = f }
}

func NewSessionService(catalog *CatalogService, sessions stores.SessionStore, progression *ProgressionService, opts ...SessionOption) *SessionService {
	s := &SessionService{
		catalog:     catalog,
		sessions:    sessions,
		progression: progression,
		clock:       clockwork.NewRealClock(),
		newRand: func() *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
		live: make(map[string]*liveSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionService) now() time.Time { return s.clock.Now().UTC() }

// ItemView is a board card as the player sees it.
type ItemView struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type MatchedView struct {
	LeftItemID  string `json:"left_item_id"`
	RightItemID string `json:"right_item_id"`
	Ordinal     int    `json:"ordinal"`
	Color       string `json:"color"`
}

type SessionView struct {
	ID               string               `json:"id"`
	GameID           string               `json:"game_id"`
	Status           models.SessionStatus `json:"status"`
	EndReason        models.EndReason     `json:"end_reason,omitempty"`
	Score            int                  `json:"score"`
	MistakesCount    int                  `json:"mistakes_count"`
	PairsMatched     int                  `json:"pairs_matched"`
	TargetPairs      int                  `json:"target_pairs"`
	MaxScore         int                  `json:"max_score"`
	TimeLimitSeconds int                  `json:"time_limit_seconds"`
	RemainingSeconds int                  `json:"remaining_seconds"`
	StartedAt        time.Time            `json:"started_at"`
	Deadline         time.Time            `json:"deadline"`
	CompletedAt      *time.Time           `json:"completed_at,omitempty"`
	Left             []ItemView           `json:"left"`
	Right            []ItemView           `json:"right"`
	Matched          []MatchedView        `json:"matched"`
	Unlock           *UnlockDecision      `json:"unlock,omitempty"`
}

type AttemptResult struct {
	Correct bool         `json:"correct"`
	Match   *MatchedView `json:"match,omitempty"`
	Session SessionView  `json:"session"`
}

func matchedView(mp models.MatchedPair) MatchedView {
	return MatchedView{LeftItemID: mp.LeftItemID, RightItemID: mp.RightItemID, Ordinal: mp.Ordinal, Color: mp.Color}
}

func itemViews(items []models.BoardItem) []ItemView {
	out := make([]ItemView, len(items))
	for i, it := range items {
		out[i] = ItemView{ID: it.ID, Content: it.Content}
	}
	return out
}

// view must be called with ls.mu held.
func (ls *liveSession) view(now time.Time) SessionView {
	v := SessionView{
		ID:               ls.row.ID,
		GameID:           ls.row.GameID,
		Status:           ls.row.Status,
		EndReason:        ls.row.EndReason,
		Score:            ls.row.Score,
		MistakesCount:    ls.row.MistakesCount,
		PairsMatched:     ls.row.PairsMatched,
		TargetPairs:      ls.row.TargetPairs,
		MaxScore:         ls.row.MaxScore,
		TimeLimitSeconds: ls.row.TimeLimitSeconds,
		StartedAt:        ls.row.StartedAt,
		Deadline:         ls.row.Deadline,
		CompletedAt:      ls.row.CompletedAt,
		Left:             itemViews(ls.board.Left()),
		Right:            itemViews(ls.board.Right()),
		Unlock:           ls.unlock,
	}
	for _, mp := range ls.board.Matched() {
		v.Matched = append(v.Matched, matchedView(mp))
	}
	if ls.row.Status == models.SessionActive {
		v.RemainingSeconds = secondsUntil(now, ls.row.Deadline)
	}
	return v
}

func secondsUntil(now, deadline time.Time) int {
	d := deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// Start deals a new session of gameID for playerID. Any active session the
// player already has on that game is abandoned first.
func (s *SessionService) Start(ctx context.Context, playerID, gameID string) (*SessionView, error) {
	g, err := s.catalog.Game(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !g.IsActive {
		return nil, ErrGameInactive
	}

	unlocked, err := s.progression.IsUnlocked(ctx, playerID, gameID)
	if err != nil {
		return nil, fmt.Errorf("check unlock: %w", err)
	}
	if !unlocked {
		return nil, ErrGameLocked
	}

	pool, err := s.catalog.Pairs(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	rng := s.newRand()
	chosen, err := game.SelectPairs(*g, pool, rng)
	if err != nil {
		return nil, err
	}
	left, right := game.ShufflePairs(chosen, rng)

	// A concurrent Start for the same game can create its session between
	// supersede and create; the loser supersedes that one and tries again.
	var row models.MatchSession
	for try := 1; ; try++ {
		if err := s.supersede(ctx, playerID, gameID); err != nil {
			return nil, err
		}
		row = s.newSessionRow(playerID, *g, left, right)
		err := s.sessions.CreateSession(ctx, &row)
		if err == nil {
			break
		}
		if !errors.Is(err, stores.ErrStaleSession) {
			return nil, fmt.Errorf("create session: %w", err)
		}
		if try == 2 {
			return nil, ErrSessionConflict
		}
		log.Warn().Str("player_id", playerID).Str("game_id", gameID).Msg("[SESSION] concurrent start, superseding again")
	}

	ls := s.track(row, *g)
	log.Info().
		Str("session_id", row.ID).
		Str("player_id", playerID).
		Str("game_id", g.ID).
		Int("pairs", row.TargetPairs).
		Msg("[SESSION] started")

	ls.mu.Lock()
	defer ls.mu.Unlock()
	v := ls.view(row.StartedAt)
	return &v, nil
}

func (s *SessionService) newSessionRow(playerID string, g models.Game, left, right []models.BoardItem) models.MatchSession {
	now := s.now()
	return models.MatchSession{
		PlayerID:         playerID,
		GameID:           g.ID,
		Status:           models.SessionActive,
		TargetPairs:      len(left),
		MaxScore:         game.MaxScoreForLevel(g.LevelNumber),
		TimeLimitSeconds: g.TimeLimitSeconds,
		StartedAt:        now,
		Deadline:         now.Add(time.Duration(g.TimeLimitSeconds) * time.Second),
		SessionData: datatypes.NewJSONType(models.SessionData{
			Version: models.SessionDataVersion,
			Left:    left,
			Right:   right,
		}),
	}
}

// supersede abandons the player's current active session on gameID, if any.
func (s *SessionService) supersede(ctx context.Context, playerID, gameID string) error {
	active, err := s.sessions.FindActiveSession(ctx, playerID, gameID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find active session: %w", err)
	}

	ls, err := s.load(ctx, active.ID)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	_, err = s.finish(ctx, ls, models.SessionAbandoned, models.EndSuperseded)
	return err
}

// track registers a live session and arms its countdown. A session that
// is already tracked is returned as is.
func (s *SessionService) track(row models.MatchSession, g models.Game) *liveSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.live[row.ID]; existing != nil {
		return existing
	}

	ls := newLiveSession(row, g)
	if remaining := secondsUntil(s.now(), row.Deadline); remaining > 0 {
		id := row.ID
		ls.countdown = game.StartCountdown(s.clock, remaining, nil, func() { s.expire(id) })
	}
	s.live[row.ID] = ls
	return ls
}

func newLiveSession(row models.MatchSession, g models.Game) *liveSession {
	return &liveSession{owner: row.PlayerID, row: row, game: g, board: game.NewBoard(row.SessionData.Data())}
}

func (s *SessionService) forget(id string) {
	s.mu.Lock()
	ls := s.live[id]
	delete(s.live, id)
	s.mu.Unlock()
	if ls != nil && ls.countdown != nil {
		ls.countdown.Stop()
	}
}

// load returns the live session for id, rebuilding it from the store when
// this process does not hold it.
func (s *SessionService) load(ctx context.Context, id string) (*liveSession, error) {
	s.mu.Lock()
	ls := s.live[id]
	s.mu.Unlock()
	if ls != nil {
		return ls, nil
	}

	row, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	g, err := s.catalog.Game(ctx, row.GameID)
	if err != nil {
		return nil, fmt.Errorf("load game of session %s: %w", id, err)
	}

	if row.Status != models.SessionActive {
		return newLiveSession(*row, *g), nil
	}
	return s.track(*row, *g), nil
}

func (s *SessionService) loadOwned(ctx context.Context, playerID, id string) (*liveSession, error) {
	ls, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if ls.owner != playerID {
		return nil, ErrNotSessionOwner
	}
	return ls, nil
}

// Get returns the current view of a session.
func (s *SessionService) Get(ctx context.Context, playerID, id string) (*SessionView, error) {
	ls, err := s.loadOwned(ctx, playerID, id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	v := ls.view(s.now())
	return &v, nil
}

// Attempt checks one (left, right) pick. The attempt is written to the
// attempt log together with the new counters before the live session
// changes; if that write fails the session is untouched and an
// *AttemptPersistenceError is returned.
func (s *SessionService) Attempt(ctx context.Context, playerID, id, leftID, rightID string) (*AttemptResult, error) {
	ls, err := s.loadOwned(ctx, playerID, id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.row.Status != models.SessionActive {
		return nil, game.ErrSessionNotActive
	}
	now := s.now()
	if !now.Before(ls.row.Deadline) {
		if _, err := s.finish(ctx, ls, models.SessionCompleted, models.EndTimeout); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("[SESSION] timeout finalize failed")
		}
		return nil, game.ErrSessionNotActive
	}

	verdict, err := ls.board.Check(leftID, rightID)
	if err != nil {
		return nil, err
	}

	prev := game.CountersOf(&ls.row)
	next := prev.Apply(verdict.Correct)

	var pending []models.MatchedPair
	var matched models.MatchedPair
	if verdict.Correct {
		matched = ls.board.Preview(verdict, now)
		pending = append(pending, matched)
	}
	snapshot := ls.board.Snapshot(pending...)

	write := stores.AttemptWrite{
		Attempt: models.MatchAttempt{
			SessionID:         id,
			Seq:               prev.PairsMatched + prev.Mistakes + 1,
			LeftItemID:        leftID,
			RightItemID:       rightID,
			PairID:            verdict.PairID,
			Correct:           verdict.Correct,
			ScoreAfter:        next.Score,
			MistakesAfter:     next.Mistakes,
			PairsMatchedAfter: next.PairsMatched,
		},
		PrevPairsMatched: prev.PairsMatched,
		PrevMistakes:     prev.Mistakes,
		Data:             snapshot,
	}
	if err := s.sessions.RecordAttempt(ctx, write); err != nil {
		if errors.Is(err, stores.ErrStaleSession) {
			// another writer moved the session; reload it on the next call
			s.forget(id)
		}
		log.Warn().Err(err).Str("session_id", id).Msg("[SESSION] attempt not recorded")
		return nil, &AttemptPersistenceError{SessionID: id, Err: err}
	}

	if verdict.Correct {
		ls.board.Commit(matched)
	}
	ls.row.Score = next.Score
	ls.row.MistakesCount = next.Mistakes
	ls.row.PairsMatched = next.PairsMatched
	ls.row.SessionData = datatypes.NewJSONType(snapshot)

	res := &AttemptResult{Correct: verdict.Correct}
	if verdict.Correct {
		mv := matchedView(matched)
		res.Match = &mv
	}

	if next.PairsMatched >= ls.row.TargetPairs {
		if _, err := s.finish(ctx, ls, models.SessionCompleted, models.EndAllMatched); err != nil {
			// the attempt stands; the client completes again to retry
			log.Warn().Err(err).Str("session_id", id).Msg("[SESSION] completion not recorded")
		}
	}

	res.Session = ls.view(s.now())
	return res, nil
}

// Complete finalizes a session whose pairs are all matched. It is
// idempotent: a session that already ended is returned unchanged.
func (s *SessionService) Complete(ctx context.Context, playerID, id string) (*SessionView, error) {
	ls, err := s.loadOwned(ctx, playerID, id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.row.Status == models.SessionActive {
		if ls.row.PairsMatched < ls.row.TargetPairs {
			return nil, ErrSessionIncomplete
		}
		if _, err := s.finish(ctx, ls, models.SessionCompleted, models.EndAllMatched); err != nil {
			return nil, err
		}
	}
	v := ls.view(s.now())
	return &v, nil
}

// Abandon ends an active session without scoring progression.
func (s *SessionService) Abandon(ctx context.Context, playerID, id string) (*SessionView, error) {
	ls, err := s.loadOwned(ctx, playerID, id)
	if err != nil {
		return nil, err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if _, err := s.finish(ctx, ls, models.SessionAbandoned, models.EndAbandoned); err != nil {
		return nil, err
	}
	v := ls.view(s.now())
	return &v, nil
}

// Expire force-completes an active session as a timeout.
func (s *SessionService) Expire(ctx context.Context, id string) error {
	ls, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	_, err = s.finish(ctx, ls, models.SessionCompleted, models.EndTimeout)
	return err
}

func (s *SessionService) expire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.Expire(ctx, id); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("[SESSION] countdown expiry failed; sweeper will retry")
	}
}

// finish moves ls out of active exactly once. Only a completed session
// reaches progression. A failed write leaves the session active. Callers
// hold ls.mu.
func (s *SessionService) finish(ctx context.Context, ls *liveSession, status models.SessionStatus, reason models.EndReason) (*UnlockDecision, error) {
	if ls.row.Status != models.SessionActive {
		return ls.unlock, nil
	}

	now := s.now()
	ok, err := s.sessions.FinalizeSession(ctx, ls.row.ID, stores.Finalize{Status: status, Reason: reason, CompletedAt: now})
	if err != nil {
		return nil, fmt.Errorf("finalize session %s: %w", ls.row.ID, err)
	}
	s.forget(ls.row.ID)

	if !ok {
		// finalized elsewhere; adopt the stored outcome
		if row, err := s.sessions.GetSession(ctx, ls.row.ID); err == nil {
			ls.row = *row
		}
		return nil, nil
	}

	ls.row.Status = status
	ls.row.EndReason = reason
	ls.row.CompletedAt = &now
	log.Info().
		Str("session_id", ls.row.ID).
		Str("player_id", ls.row.PlayerID).
		Str("status", string(status)).
		Str("reason", string(reason)).
		Int("score", ls.row.Score).
		Msg("[SESSION] finished")

	if status != models.SessionCompleted {
		return nil, nil
	}

	decision, err := s.progression.OnSessionCompleted(ctx, ls.row, ls.game)
	if err != nil {
		var upe *UnlockPropagationError
		if errors.As(err, &upe) {
			log.Warn().Err(err).Str("session_id", ls.row.ID).Msg("[PROGRESSION] unlock deferred")
		} else {
			log.Warn().Err(err).Str("session_id", ls.row.ID).Msg("[PROGRESSION] completion record deferred")
		}
		return nil, nil
	}
	ls.unlock = decision
	return decision, nil
}

// Live returns how many sessions this process is timing.
func (s *SessionService) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Shutdown stops every countdown. Sessions stay active in the store and
// are picked up again on their next request or by the sweeper.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ls := range s.live {
		if ls.countdown != nil {
			ls.countdown.Stop()
		}
		delete(s.live, id)
	}
}

// Attempts returns the attempt log of a session.
func (s *SessionService) Attempts(ctx context.Context, playerID, id string) ([]models.MatchAttempt, error) {
	row, err := s.sessions.GetSession(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	if row.PlayerID != playerID {
		return nil, ErrNotSessionOwner
	}
	return s.sessions.ListAttempts(ctx, id)
}
