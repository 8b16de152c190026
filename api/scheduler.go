/*
scheduler.go - Automated offer status scheduler

PURPOSE:
  Periodically applies date-driven offer status transitions so offers
  activate at their start date and archive at expiry without any client
  traffic.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Delegates to Engine.RefreshOfferStatuses, the same operation the
    manual POST /api/offers/refresh endpoint drives
  - Acts as the "system" user so refresh transitions are attributable
    in the audit trail

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 minute)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewOfferScheduler(handler.Engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RefreshOffers endpoint (manual refresh)
  - market/offers.go: RefreshOfferStatuses
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/market-ledger/ledger"
	"github.com/warp/market-ledger/market"
)

// SchedulerUserID attributes scheduler-driven transitions in the audit
// trail.
const SchedulerUserID = "system"

// OfferScheduler drives periodic offer status refreshes.
type OfferScheduler struct {
	Engine        *market.Engine
	CheckInterval time.Duration
	Enabled       bool

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewOfferScheduler creates a new scheduler.
func NewOfferScheduler(engine *market.Engine, log zerolog.Logger) *OfferScheduler {
	return &OfferScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Minute,
		Enabled:       true,
		log:           log.With().Str("component", "offer-scheduler").Logger(),
	}
}

// Start begins the scheduler. A stopped scheduler may be started again.
func (s *OfferScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info().Msg("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	// Each run gets its own ticker and stop channel so a restart never
	// reuses a closed channel.
	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan bool)
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.log.Info().Dur("interval", s.CheckInterval).Msg("started")
}

// Stop stops the scheduler.
func (s *OfferScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
		close(s.stop)
		s.wg.Wait()
		s.log.Info().Msg("stopped")
	}
}

func (s *OfferScheduler) run(ticker *time.Ticker, stop chan bool) {
	defer s.wg.Done()

	// Run immediately on start
	s.refresh()

	for {
		select {
		case <-ticker.C:
			s.refresh()
		case <-stop:
			return
		}
	}
}

func (s *OfferScheduler) refresh() {
	ctx := context.Background()
	op := ledger.NewOperationContext(time.Now(), SchedulerUserID)

	n, err := s.Engine.RefreshOfferStatuses(ctx, op)
	if err != nil {
		s.log.Error().Err(err).Msg("offer status refresh failed")
		return
	}
	if n > 0 {
		s.log.Info().Int("transitioned", n).Msg("offer statuses refreshed")
	}
}
