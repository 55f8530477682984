// Package chainsync implements BlockchainSync (spec.md §4.3): one instance
// per enabled (network, token) pair, driven by PoolingTick, that ingests
// explorer transfer data with exactly-once persistence and runs the
// confirmation pass. The per-pair single-slot coalescing scheduler is
// grounded on _examples/luxfi-evm/plugin/evm/block_builder.go's
// buildBlockLock idiom (a mutex TryLock used to drop overlapping work
// rather than queue it).
package chainsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/eventbus"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/explorer"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/ocrchmetrics"
)

// notFoundRecheckInterval bounds how often the confirmation pass re-asks
// the explorer about a hash it just reported as not-yet-indexed; poll
// periods can be as low as min_period (3s), much tighter than an
// explorer's typical indexing lag.
const notFoundRecheckInterval = 15 * time.Second

// Store is the narrow persistence slice BlockchainSync needs.
type Store interface {
	GetSyncCursor(ctx context.Context, pair domain.Pair) (domain.SyncCursor, error)
	InsertTransfers(ctx context.Context, pair domain.Pair, transfers []domain.Transfer) ([]int64, error)
	ListUnconfirmedTransfers(ctx context.Context, pair domain.Pair, since time.Time) ([]domain.Transfer, error)
	ConfirmTransfer(ctx context.Context, network domain.Network, id int64) error
	FailTransferConfirmation(ctx context.Context, network domain.Network, id int64) error
}

// WalletLister supplies the merchant wallet address set to watch for a
// pair; internal/app backs this with internal/matcher's WalletRegistry,
// filled once at startup from each enabled pair's configured merchant
// wallet.
type WalletLister interface {
	WalletsFor(pair domain.Pair) []string
}

// Config tunes the confirmation pass; defaults match spec.md §4.3.
type Config struct {
	Confirmations      int           // K: 12 for EVM, 20 for TRON
	ConfirmationWindow time.Duration // Δ: default 1h
	FetchLimit         int           // explorer page size per tick
}

func DefaultConfig() Config {
	return Config{Confirmations: 12, ConfirmationWindow: time.Hour, FetchLimit: 500}
}

// Sync is one BlockchainSync instance, bound to a single (network, token).
type Sync struct {
	pair     domain.Pair
	adapter  explorer.Adapter
	store    Store
	wallets  WalletLister
	topics   *eventbus.Topics
	cfg      Config
	metrics  *ocrchmetrics.Registry
	nowFunc  func() time.Time

	running chan struct{} // single-slot semaphore: buffered(1), a full channel means a tick is in flight

	notFoundCache *lru.Cache // txnHash -> time.Time of the last not-found lookup
}

func New(pair domain.Pair, adapter explorer.Adapter, store Store, wallets WalletLister, topics *eventbus.Topics, cfg Config, metrics *ocrchmetrics.Registry) *Sync {
	notFoundCache, _ := lru.New(1024)
	return &Sync{
		pair:          pair,
		adapter:       adapter,
		store:         store,
		wallets:       wallets,
		topics:        topics,
		cfg:           cfg,
		metrics:       metrics,
		nowFunc:       time.Now,
		running:       make(chan struct{}, 1),
		notFoundCache: notFoundCache,
	}
}

// Run subscribes to PoolingTick and drives one tick at a time until ctx is
// cancelled. Ticks for this pair that queued up while a tick was running
// are dropped once it finishes.
func (s *Sync) Run(ctx context.Context) error {
	ticks, unsubscribe := s.topics.PoolingTick.Subscribe(ctx)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ticks:
			if !ok {
				return nil
			}
			if ev.Pair != s.pair {
				continue
			}
			s.handleTick(ctx)
			for drained := false; !drained; {
				select {
				case queued, ok := <-ticks:
					if !ok {
						return nil
					}
					if queued.Pair == s.pair {
						s.observeTick("coalesced")
					}
				default:
					drained = true
				}
			}
		}
	}
}

// handleTick serializes ticks for this pair: if a prior tick is still
// running, the new one is dropped (coalesced), per spec.md §4.3.
func (s *Sync) handleTick(ctx context.Context) {
	select {
	case s.running <- struct{}{}:
	default:
		s.observeTick("coalesced")
		return
	}
	defer func() { <-s.running }()

	if err := s.tick(ctx); err != nil {
		obslog.Warn("chainsync: tick failed, cursor not advanced", "pair", s.pair.String(), "err", err)
		s.observeTick("failed")
		return
	}
	s.observeTick("ok")
}

func (s *Sync) tick(ctx context.Context) error {
	cursor, err := s.store.GetSyncCursor(ctx, s.pair)
	if err != nil {
		return fmt.Errorf("get sync cursor: %w", err)
	}

	wallets := s.wallets.WalletsFor(s.pair)
	if len(wallets) > 0 {
		records, err := s.adapter.FetchTransfersSince(ctx, s.pair.Token, wallets, cursor.Position, s.cfg.FetchLimit)
		if err != nil {
			return fmt.Errorf("fetch transfers: %w", err)
		}
		if len(records) > 0 {
			transfers := make([]domain.Transfer, 0, len(records))
			for _, r := range records {
				transfers = append(transfers, domain.Transfer{
					Token:               s.pair.Token,
					Network:             s.pair.Network,
					FromAddress:         r.FromAddress,
					ToAddress:           r.ToAddress,
					TxnHash:             r.TxnHash,
					Value:               r.Value,
					BlockNumber:         r.BlockNumber,
					BlockTimestamp:      r.BlockTimestamp,
					BlockchainConfirmed: false,
					Status:              domain.TransferWaitingForConfirmation,
					CreatedAt:           s.nowFunc(),
				})
			}
			inserted, err := s.store.InsertTransfers(ctx, s.pair, transfers)
			if err != nil {
				return fmt.Errorf("insert transfers: %w", err)
			}
			if s.metrics != nil {
				s.metrics.TransfersInserted.With(s.labels()).Add(float64(len(inserted)))
			}
			if len(inserted) > 0 {
				s.topics.MatchTick.Publish(eventbus.MatchTickEvent{Pair: s.pair, InsertedTransferIDs: inserted})
			}
		}
	}

	// has_pending_confirmation gates the confirmation pass: if the cursor
	// view shows nothing unconfirmed in the last day, there is nothing to
	// re-check, so the pass is skipped outright rather than issuing zero
	// no-op explorer calls.
	if cursor.HasPendingConfirmation {
		if err := s.runConfirmationPass(ctx); err != nil {
			return fmt.Errorf("confirmation pass: %w", err)
		}
	}
	return nil
}

func (s *Sync) runConfirmationPass(ctx context.Context) error {
	since := s.nowFunc().Add(-24 * time.Hour)
	pending, err := s.store.ListUnconfirmedTransfers(ctx, s.pair, since)
	if err != nil {
		return fmt.Errorf("list unconfirmed transfers: %w", err)
	}
	for _, t := range pending {
		if s.nowFunc().Sub(t.CreatedAt) > s.cfg.ConfirmationWindow {
			if err := s.store.FailTransferConfirmation(ctx, s.pair.Network, t.ID); err != nil {
				obslog.Warn("chainsync: failed to mark confirmation timeout", "pair", s.pair.String(), "txn", t.TxnHash, "err", err)
			}
			continue
		}
		if last, ok := s.notFoundCache.Get(t.TxnHash); ok {
			if s.nowFunc().Sub(last.(time.Time)) < notFoundRecheckInterval {
				continue
			}
		}

		confirmations, err := s.adapter.Confirmations(ctx, t.TxnHash)
		if err != nil {
			if errors.Is(err, explorer.ErrNotFound) {
				s.notFoundCache.Add(t.TxnHash, s.nowFunc())
				continue // explorer hasn't indexed it yet; try again next tick
			}
			obslog.Warn("chainsync: confirmations lookup failed", "pair", s.pair.String(), "txn", t.TxnHash, "err", err)
			continue
		}
		if confirmations >= s.cfg.Confirmations {
			if err := s.store.ConfirmTransfer(ctx, s.pair.Network, t.ID); err != nil {
				obslog.Warn("chainsync: failed to confirm transfer", "pair", s.pair.String(), "txn", t.TxnHash, "err", err)
			}
		}
	}
	return nil
}

func (s *Sync) observeTick(outcome string) {
	if s.metrics == nil {
		return
	}
	labels := s.labels()
	labels["outcome"] = outcome
	s.metrics.SyncTicks.With(labels).Inc()
}

func (s *Sync) labels() map[string]string {
	return map[string]string{"network": string(s.pair.Network), "token": string(s.pair.Token)}
}
