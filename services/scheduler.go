// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"matching-game-service/stores"
)

const sweepBatch = 100

// Sweeper recovers work that a live process would normally do: it expires
// sessions whose countdown was lost (restart, another instance) and replays
// progression that failed after a completion.
type Sweeper struct {
	sessions    stores.SessionStore
	engine      *SessionService
	progression *ProgressionService
	clock       clockwork.Clock
	grace       time.Duration

	sched gocron.Scheduler
}

func NewSweeper(sessions stores.SessionStore, engine *SessionService, progression *ProgressionService, clock clockwork.Clock, grace time.Duration) *Sweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		sessions:    sessions,
		engine:      engine,
		progression: progression,
		clock:       clock,
		grace:       grace,
	}
}

// Start schedules both jobs.
func (s *Sweeper) Start(sweepEvery, retryEvery time.Duration) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		return err
	}

	// Every sweepEvery: force-complete overdue sessions
	if _, err := sched.NewJob(
		gocron.DurationJob(sweepEvery),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), sweepEvery)
			defer cancel()
			s.ExpireOverdue(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return err
	}

	// Every retryEvery: replay pending progression
	if _, err := sched.NewJob(
		gocron.DurationJob(retryEvery),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), retryEvery)
			defer cancel()
			s.RetryProgression(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return err
	}

	sched.Start()
	s.sched = sched
	return nil
}

func (s *Sweeper) Stop() error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Shutdown()
}

// ExpireOverdue completes every active session past its deadline plus the
// grace period. It returns how many were expired.
func (s *Sweeper) ExpireOverdue(ctx context.Context) int {
	cutoff := s.clock.Now().UTC().Add(-s.grace)
	overdue, err := s.sessions.ListOverdueSessions(ctx, cutoff, sweepBatch)
	if err != nil {
		log.Error().Err(err).Msg("[SWEEPER] list overdue sessions")
		return 0
	}

	n := 0
	for _, ms := range overdue {
		if err := s.engine.Expire(ctx, ms.ID); err != nil {
			log.Warn().Err(err).Str("session_id", ms.ID).Msg("[SWEEPER] expire failed")
			continue
		}
		n++
	}
	if n > 0 {
		log.Info().Int("sessions", n).Msg("[SWEEPER] expired overdue sessions")
	}
	return n
}

// RetryProgression replays completions whose unlock was never applied.
func (s *Sweeper) RetryProgression(ctx context.Context) int {
	pending, err := s.sessions.ListPendingProgression(ctx, sweepBatch)
	if err != nil {
		log.Error().Err(err).Msg("[SWEEPER] list pending progression")
		return 0
	}

	n := 0
	for _, ms := range pending {
		if err := s.progression.Replay(ctx, ms); err != nil {
			log.Warn().Err(err).Str("session_id", ms.ID).Msg("[SWEEPER] progression replay failed")
			continue
		}
		n++
	}
	if n > 0 {
		log.Info().Int("sessions", n).Msg("[SWEEPER] replayed progression")
	}
	return n
}
