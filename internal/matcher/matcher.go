// Package matcher implements OrderBookWatcher and ExpirySweeper (spec.md
// §4.4): the former binds confirmed transfers to pending deposits on
// MatchTick, the latter periodically expires orders that outlived their
// TTL unmatched. Watcher.Run handles one MatchTick at a time across all
// pairs; there is no per-pair mutex, and Sweeper takes no lock shared with
// Watcher. The single-in-flight idiom mirrors
// _examples/luxfi-evm/plugin/evm/block_builder.go's buildBlockLock.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/eventbus"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/ocrchmetrics"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/store"
)

// Store is the persistence slice OrderBookWatcher needs.
type Store interface {
	ListPendingDeposits(ctx context.Context, pair domain.Pair) ([]domain.PendingDeposit, error)
	GetWaitingTransfers(ctx context.Context, network domain.Network, ids []int64) ([]domain.Transfer, error)
	Fulfill(ctx context.Context, in store.FulfillmentInput) (store.FulfillmentResult, error)
	MarkNoMatch(ctx context.Context, network domain.Network, transferID int64, enqueueUnknownPayment bool, detail store.UnknownPaymentDetail) error
	GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error)
}

// Config tunes the matching pass.
type Config struct {
	OrderTTL                      time.Duration // default order's active window; per spec.md §3/§8
	UnknownPaymentWebhooksEnabled bool
}

// Watcher is OrderBookWatcher: it matches transfers named in a MatchTick
// to the live deposit pool for that tick's pair, one pair at a time.
type Watcher struct {
	store   Store
	topics  *eventbus.Topics
	cfg     Config
	metrics *ocrchmetrics.Registry
	risk    *RiskFilter
	nowFunc func() time.Time
}

// New builds a Watcher. risk may be nil, which allows every unknown
// payment through unchanged.
func New(s Store, topics *eventbus.Topics, cfg Config, metrics *ocrchmetrics.Registry, risk *RiskFilter) *Watcher {
	if risk == nil {
		risk = &RiskFilter{}
	}
	return &Watcher{store: s, topics: topics, cfg: cfg, metrics: metrics, risk: risk, nowFunc: time.Now}
}

// Run subscribes to MatchTick and serializes matching passes until ctx is
// cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticks, unsubscribe := w.topics.MatchTick.Subscribe(ctx)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := w.handleTick(ctx, ev); err != nil {
				obslog.Warn("matcher: tick failed", "pair", ev.Pair.String(), "err", err)
			}
		}
	}
}

// handleTick loads the live deposit pool and the newly-inserted transfers
// for ev.Pair, sorts transfers chronologically by on-chain order, and
// matches each against the pool in turn (spec.md §4.4 rules 1-6).
func (w *Watcher) handleTick(ctx context.Context, ev eventbus.MatchTickEvent) error {
	deposits, err := w.store.ListPendingDeposits(ctx, ev.Pair)
	if err != nil {
		return fmt.Errorf("list pending deposits: %w", err)
	}
	transfers, err := w.store.GetWaitingTransfers(ctx, ev.Pair.Network, ev.InsertedTransferIDs)
	if err != nil {
		return fmt.Errorf("get waiting transfers: %w", err)
	}
	if len(transfers) == 0 {
		return nil
	}
	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].CursorPosition() < transfers[j].CursorPosition()
	})

	byID := make(map[int64]domain.PendingDeposit, len(deposits))
	live := mapset.NewThreadUnsafeSet[int64]()
	for _, d := range deposits {
		byID[d.ID] = d
		live.Add(d.ID)
	}

	for _, t := range transfers {
		match, ok := w.bestMatch(t, byID, live)
		if !ok {
			w.markNoMatch(ctx, ev.Pair, t)
			continue
		}
		if err := w.fulfill(ctx, ev.Pair, t, match, byID, live); err != nil {
			obslog.Warn("matcher: fulfill failed", "pair", ev.Pair.String(), "txn", t.TxnHash, "err", err)
		}
	}
	return nil
}

// bestMatch applies spec.md §4.4's candidate rules and tie-breaks by
// earliest started_at then smallest id among the survivors.
func (w *Watcher) bestMatch(t domain.Transfer, byID map[int64]domain.PendingDeposit, live mapset.Set[int64]) (domain.PendingDeposit, bool) {
	var best domain.PendingDeposit
	found := false
	live.Each(func(id int64) bool {
		d := byID[id]
		if !t.MatchesDeposit(d) {
			return false
		}
		if !d.MatchWindowContains(t.BlockTimestamp, w.cfg.OrderTTL) {
			return false
		}
		if !found {
			best, found = d, true
			return false
		}
		if d.StartedAt.Before(best.StartedAt) || (d.StartedAt.Equal(best.StartedAt) && d.ID < best.ID) {
			best = d
		}
		return false
	})
	return best, found
}

func (w *Watcher) fulfill(ctx context.Context, pair domain.Pair, t domain.Transfer, d domain.PendingDeposit, byID map[int64]domain.PendingDeposit, live mapset.Set[int64]) error {
	order, err := w.store.GetOrder(ctx, d.OrderID)
	if err != nil {
		return fmt.Errorf("get order: %w", err)
	}
	result, err := w.store.Fulfill(ctx, store.FulfillmentInput{
		Network:       pair.Network,
		TransferID:    t.ID,
		DepositID:     d.ID,
		OrderID:       d.OrderID,
		MatchedAt:     w.nowFunc(),
		WebhookURL:    order.WebhookURL,
		MerchantOrder: order.MerchantOrderID,
		Amount:        order.Amount,
	})
	if err != nil {
		return fmt.Errorf("fulfill: %w", err)
	}

	// Every deposit on this order, on any pair, is gone; strike every
	// local candidate that belonged to the same order so a later transfer
	// in this same tick cannot double-match it.
	for id, other := range byID {
		if other.OrderID == d.OrderID {
			live.Remove(id)
		}
	}
	for _, evictedPair := range result.EvictedSiblingPairs {
		w.topics.PendingDepositChanged.Publish(eventbus.PendingDepositChangedEvent{
			OrderID: d.OrderID, Pair: evictedPair, Kind: eventbus.DepositRemoved,
		})
	}
	if w.metrics != nil {
		w.metrics.MatchesFulfilled.With(map[string]string{"network": string(pair.Network), "token": string(pair.Token)}).Inc()
	}
	return nil
}

func (w *Watcher) markNoMatch(ctx context.Context, pair domain.Pair, t domain.Transfer) {
	detail := store.UnknownPaymentDetail{
		Token: t.Token, Network: t.Network, ToAddress: t.ToAddress,
		FromAddress: t.FromAddress, TxnHash: t.TxnHash, Value: t.Value,
	}

	enqueue := w.cfg.UnknownPaymentWebhooksEnabled
	if enqueue {
		allow, err := w.risk.Allow(detail)
		if err != nil {
			obslog.Warn("matcher: risk filter evaluation failed, enqueueing anyway", "pair", pair.String(), "txn", t.TxnHash, "err", err)
		} else {
			enqueue = allow
		}
	}

	if err := w.store.MarkNoMatch(ctx, pair.Network, t.ID, enqueue, detail); err != nil {
		obslog.Warn("matcher: mark no match failed", "pair", pair.String(), "txn", t.TxnHash, "err", err)
		return
	}
	if w.metrics != nil {
		w.metrics.MatchesUnmatched.With(map[string]string{"network": string(pair.Network), "token": string(pair.Token)}).Inc()
	}
}
