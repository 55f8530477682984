package matcher

import (
	"context"
	"time"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/clock"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/eventbus"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/store"
)

// SweeperStore is the persistence slice ExpirySweeper needs.
type SweeperStore interface {
	SweepExpiredOrders(ctx context.Context, now time.Time, orderTTL time.Duration) ([]store.ExpiredOrder, error)
}

// Sweeper is ExpirySweeper: a plain timer loop, independent of MatchTick,
// that flips every order whose TTL has elapsed unmatched to expired
// (spec.md §4.4's separate periodic task, not a subscriber of any topic).
type Sweeper struct {
	store    SweeperStore
	topics   *eventbus.Topics
	clock    clock.Clock
	orderTTL time.Duration
	interval time.Duration
}

func NewSweeper(s SweeperStore, topics *eventbus.Topics, clk clock.Clock, orderTTL, interval time.Duration) *Sweeper {
	return &Sweeper{store: s, topics: topics, clock: clk, orderTTL: orderTTL, interval: interval}
}

// Run fires one sweep at startup, then on each interval tick, until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	timer := s.clock.NewTimer(s.interval)
	defer timer.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C():
			s.sweep(ctx)
			timer.Reset(s.interval)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.store.SweepExpiredOrders(ctx, s.clock.Now(), s.orderTTL)
	if err != nil {
		obslog.Warn("matcher: expiry sweep failed", "err", err)
		return
	}
	for _, eo := range expired {
		for _, pair := range eo.EvictedPairs {
			s.topics.PendingDepositChanged.Publish(eventbus.PendingDepositChangedEvent{
				OrderID: eo.OrderID, Pair: pair, Kind: eventbus.DepositRemoved,
			})
		}
	}
	if len(expired) > 0 {
		obslog.Info("matcher: expiry sweep flipped orders", "count", len(expired))
	}
}
