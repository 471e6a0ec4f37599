package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"
)

// SweepResult reports what one sweep pass did.
type SweepResult struct {
	ExpiredInvitations int64 `json:"expired_invitations"`
	ReleasedClaims     int64 `json:"released_claims"`
	CompletedSummaries int   `json:"completed_summaries"`
}

// Sweeper runs the periodic maintenance pass: expiring invitations,
// releasing abandoned claims and retrying failed or stale summaries.
type Sweeper struct {
	grid          *GridService
	collaborators *CollaboratorService
	metrics       *Metrics

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	running   bool
}

func NewSweeper(grid *GridService, collaborators *CollaboratorService) *Sweeper {
	return &Sweeper{
		grid:          grid,
		collaborators: collaborators,
		metrics:       NewMetrics(),
	}
}

// Sweep runs one pass. Each step runs even if an earlier one failed; the
// first error is returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	var firstErr error
	keep := func(step string, err error) {
		if err == nil {
			return
		}
		log.Error().Err(err).Str("step", step).Msg("[Sweep] step failed")
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", step, err)
		}
	}

	n, err := s.collaborators.ExpireInvitations(ctx)
	keep("expire invitations", err)
	result.ExpiredInvitations = n
	if n > 0 {
		s.metrics.SweepExpiredInvites.Add(float64(n))
	}

	released, err := s.grid.ReleaseStaleClaims(ctx)
	keep("release claims", err)
	result.ReleasedClaims = released

	completed, err := s.grid.RunPendingSummaries(ctx)
	keep("pending summaries", err)
	result.CompletedSummaries = completed

	log.Info().
		Int64("expired_invitations", result.ExpiredInvitations).
		Int64("released_claims", result.ReleasedClaims).
		Int("completed_summaries", result.CompletedSummaries).
		Msg("[Sweep] done")
	return result, firstErr
}

// Start schedules Sweep on cronExpr. Overlapping runs are skipped.
func (s *Sweeper) Start(ctx context.Context, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("sweeper already running")
	}

	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	_, err := scheduler.Cron(cronExpr).Do(func() {
		if _, err := s.Sweep(ctx); err != nil {
			log.Warn().Err(err).Msg("[Sweep] pass finished with errors")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create sweep job: %w", err)
	}

	scheduler.StartAsync()
	s.scheduler = scheduler
	s.running = true
	log.Info().Str("cron", cronExpr).Msg("[Sweep] scheduler started")
	return nil
}

func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.scheduler.Stop()
	s.running = false
	log.Info().Msg("[Sweep] scheduler stopped")
}
