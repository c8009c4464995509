package scores

import (
	"context"

	"github.com/rs/zerolog"
)

// Scheduler settles rounds off the request path. Work is fire-and-forget:
// failures are logged and never retried.
type Scheduler struct {
	ledger *Ledger
	queue  chan Settlement
	logger zerolog.Logger
}

func NewScheduler(ledger *Ledger, size int, logger zerolog.Logger) *Scheduler {
	if size <= 0 {
		size = 256
	}
	return &Scheduler{
		ledger: ledger,
		queue:  make(chan Settlement, size),
		logger: logger.With().Str("component", "settlement").Logger(),
	}
}

// Schedule queues a settlement without blocking. It reports false when the
// queue is full and the settlement was dropped.
func (s *Scheduler) Schedule(st Settlement) bool {
	select {
	case s.queue <- st:
		return true
	default:
		s.logger.Error().
			Str("room_id", st.RoomID).
			Int("round", st.Round).
			Msg("settlement queue full, dropping")
		return false
	}
}

// Run settles queued rounds until ctx is done, then drains what is left.
// Settlements are not cancelled along with ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)
	for {
		select {
		case st := <-s.queue:
			s.settle(work, st)
		case <-ctx.Done():
			s.drain(work)
			return nil
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	for {
		select {
		case st := <-s.queue:
			s.settle(ctx, st)
		default:
			return
		}
	}
}

func (s *Scheduler) settle(ctx context.Context, st Settlement) {
	applied, err := s.ledger.Settle(ctx, st)
	log := s.logger.With().Str("room_id", st.RoomID).Int("round", st.Round).Logger()
	switch {
	case err != nil:
		log.Error().Err(err).Msg("settlement failed")
	case !applied:
		log.Debug().Msg("round already settled")
	default:
		log.Info().Str("winner_id", st.WinnerID).Int("players", len(st.PlayerIDs)).Msg("round settled")
	}
}
