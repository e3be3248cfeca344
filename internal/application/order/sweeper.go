package order

import (
	"context"
	"errors"
	"time"

	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability/logctx"
)

const defaultSweepBatch = 100

// Sweeper cancels pending orders whose reservation outlived ttl. Cancellation
// goes through the TransitionUseCase so stock is released the normal way.
type Sweeper struct {
	repo       domorder.Repository
	transition *TransitionUseCase
	ttl        time.Duration
	interval   time.Duration
	batch      int
	now        func() time.Time
	log        observability.Logger
}

func NewSweeper(repo domorder.Repository, transition *TransitionUseCase, ttl, interval time.Duration, logger observability.Logger) *Sweeper {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		repo:       repo,
		transition: transition,
		ttl:        ttl,
		interval:   interval,
		batch:      defaultSweepBatch,
		now:        time.Now,
		log:        logger.With(observability.F("component", "reservation_sweeper")),
	}
}

// Start runs the sweeper until ctx is done. A non-positive ttl disables it.
func (s *Sweeper) Start(ctx context.Context) {
	if s.ttl <= 0 {
		s.log.Info("reservation_sweeper_disabled")
		return
	}
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("reservation_sweeper_started",
			observability.F("ttl", s.ttl.String()),
			observability.F("interval", s.interval.String()),
		)
		for {
			select {
			case <-ctx.Done():
				s.log.Info("reservation_sweeper_stopped")
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					s.log.Warn("reservation_sweep_failed", observability.F("error", err.Error()))
				}
			}
		}
	}()
}

// SweepOnce cancels one batch of expired reservations and reports how many
// orders it canceled. Orders that moved on meanwhile are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.ttl)
	stale, err := s.repo.ListStaleReservations(ctx, cutoff, s.batch)
	if err != nil {
		return 0, err
	}

	ctx = logctx.With(ctx, s.log)
	canceled := 0
	for _, o := range stale {
		_, err := s.transition.Execute(ctx, TransitionInput{OrderID: o.ID, Status: domorder.StatusCanceled})
		switch {
		case err == nil:
			canceled++
		case errors.Is(err, domorder.ErrConflict),
			errors.Is(err, domorder.ErrIllegalTransition),
			errors.Is(err, domorder.ErrOrderFinalized),
			errors.Is(err, domorder.ErrNotFound):
			s.log.Debug("reservation_sweep_skipped",
				observability.F("order_id", o.ID),
				observability.F("error", err.Error()),
			)
		default:
			s.log.Warn("reservation_expiry_failed",
				observability.F("order_id", o.ID),
				observability.F("error", err.Error()),
			)
		}
	}
	if canceled > 0 {
		s.log.Info("reservations_expired", observability.F("count", canceled))
	}
	return canceled, nil
}
