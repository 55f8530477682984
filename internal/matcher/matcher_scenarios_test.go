package matcher_test

import (
	"context"
	"math/big"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/eventbus"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/matcher"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/store"
)

func usdt(amount string) domain.Decimal {
	v, _ := new(big.Int).SetString(amount, 10)
	return domain.NewDecimalFromBaseUnits(v)
}

// fakeStore is a minimal in-memory matcher.Store for the literal scenario
// tests; it mimics Postgres.Fulfill's sibling-eviction semantics (every
// pending deposit on the fulfilled order is deleted, across every pair).
type fakeStore struct {
	mu        sync.Mutex
	deposits  map[domain.Pair][]domain.PendingDeposit
	transfers map[int64]domain.Transfer
	orders    map[domain.OrderID]domain.Order

	fulfilled  []store.FulfillmentInput
	noMatches  []int64
	noMatchDet []store.UnknownPaymentDetail
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deposits:  map[domain.Pair][]domain.PendingDeposit{},
		transfers: map[int64]domain.Transfer{},
		orders:    map[domain.OrderID]domain.Order{},
	}
}

func (f *fakeStore) ListPendingDeposits(_ context.Context, pair domain.Pair) ([]domain.PendingDeposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PendingDeposit(nil), f.deposits[pair]...), nil
}

func (f *fakeStore) GetWaitingTransfers(_ context.Context, network domain.Network, ids []int64) ([]domain.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Transfer, 0, len(ids))
	for _, id := range ids {
		if t, ok := f.transfers[id]; ok && t.Network == network {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) Fulfill(_ context.Context, in store.FulfillmentInput) (store.FulfillmentResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fulfilled = append(f.fulfilled, in)

	var evicted []domain.Pair
	for pair, ds := range f.deposits {
		kept := ds[:0:0]
		for _, d := range ds {
			if d.OrderID == in.OrderID {
				evicted = append(evicted, pair)
				continue
			}
			kept = append(kept, d)
		}
		f.deposits[pair] = kept
	}
	return store.FulfillmentResult{EvictedSiblingPairs: evicted, WebhookEventID: 1}, nil
}

func (f *fakeStore) MarkNoMatch(_ context.Context, _ domain.Network, transferID int64, _ bool, detail store.UnknownPaymentDetail) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noMatches = append(f.noMatches, transferID)
	f.noMatchDet = append(f.noMatchDet, detail)
	return nil
}

func (f *fakeStore) GetOrder(_ context.Context, id domain.OrderID) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id], nil
}

func runTick(watcher *matcher.Watcher, topics *eventbus.Topics, ev eventbus.MatchTickEvent) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = watcher.Run(ctx)
		close(done)
	}()

	// Give Run a moment to subscribe before publishing.
	time.Sleep(10 * time.Millisecond)
	topics.MatchTick.Publish(ev)
	time.Sleep(50 * time.Millisecond)
}

var _ = Describe("OrderBookWatcher", func() {
	var (
		fs     *fakeStore
		topics *eventbus.Topics
		depChanged chan eventbus.PendingDepositChangedEvent
	)

	BeforeEach(func() {
		fs = newFakeStore()
		topics = eventbus.NewTopics(16, func(string, string) {})
		ch, _ := topics.PendingDepositChanged.Subscribe(context.Background())
		depChanged = make(chan eventbus.PendingDepositChangedEvent, 16)
		go func() {
			for ev := range ch {
				depChanged <- ev
			}
		}()
	})

	It("matches the happy path exactly (scenario 1)", func() {
		pair := domain.Pair{Network: domain.NetworkPolygon, Token: domain.TokenUSDT}
		orderID := domain.OrderID{1}
		fs.orders[orderID] = domain.Order{ID: orderID, MerchantOrderID: "O1", Status: domain.OrderPending, WebhookURL: "https://merchant.example/hook"}
		fs.deposits[pair] = []domain.PendingDeposit{{
			ID: 1, OrderID: orderID, Token: domain.TokenUSDT, Network: domain.NetworkPolygon,
			WalletAddress: "0xA", ExpectedValue: usdt("10000000"), StartedAt: time.Now().Add(-time.Minute),
		}}
		fs.transfers[100] = domain.Transfer{
			ID: 100, Token: domain.TokenUSDT, Network: domain.NetworkPolygon,
			ToAddress: "0xA", TxnHash: "0xT1", Value: usdt("10000000"),
			BlockNumber: 100, BlockTimestamp: time.Now(),
		}

		w := matcher.New(fs, topics, matcher.Config{OrderTTL: time.Hour, UnknownPaymentWebhooksEnabled: true}, nil, nil)
		runTick(w, topics, eventbus.MatchTickEvent{Pair: pair, InsertedTransferIDs: []int64{100}})

		Expect(fs.fulfilled).To(HaveLen(1))
		Expect(fs.fulfilled[0].TransferID).To(Equal(int64(100)))
		Expect(fs.fulfilled[0].DepositID).To(Equal(int64(1)))
		Expect(fs.deposits[pair]).To(BeEmpty())
		Expect(fs.noMatches).To(BeEmpty())
	})

	It("evicts both sibling deposits and emits two removal events (scenario 2)", func() {
		ethPair := domain.Pair{Network: domain.NetworkEthereum, Token: domain.TokenUSDC}
		tronPair := domain.Pair{Network: domain.NetworkTron, Token: domain.TokenUSDT}
		orderID := domain.OrderID{2}
		fs.orders[orderID] = domain.Order{ID: orderID, MerchantOrderID: "O2", Status: domain.OrderPending}
		fs.deposits[ethPair] = []domain.PendingDeposit{{
			ID: 2, OrderID: orderID, Token: domain.TokenUSDC, Network: domain.NetworkEthereum,
			WalletAddress: "0xB", ExpectedValue: usdt("5000000"), StartedAt: time.Now().Add(-time.Minute),
		}}
		fs.deposits[tronPair] = []domain.PendingDeposit{{
			ID: 3, OrderID: orderID, Token: domain.TokenUSDT, Network: domain.NetworkTron,
			WalletAddress: "TXsweep", ExpectedValue: usdt("5000000"), StartedAt: time.Now().Add(-time.Minute),
		}}
		fs.transfers[200] = domain.Transfer{
			ID: 200, Token: domain.TokenUSDT, Network: domain.NetworkTron,
			ToAddress: "TXsweep", TxnHash: "0xT2", Value: usdt("5000000"),
			BlockTimestamp: time.Now(),
		}

		w := matcher.New(fs, topics, matcher.Config{OrderTTL: time.Hour}, nil, nil)
		runTick(w, topics, eventbus.MatchTickEvent{Pair: tronPair, InsertedTransferIDs: []int64{200}})

		Expect(fs.fulfilled).To(HaveLen(1))
		Expect(fs.fulfilled[0].DepositID).To(Equal(int64(3)))
		Eventually(depChanged).Should(Receive())
		Eventually(depChanged).Should(Receive())
	})

	It("matches an overpayment (scenario 3)", func() {
		pair := domain.Pair{Network: domain.NetworkPolygon, Token: domain.TokenUSDT}
		orderID := domain.OrderID{3}
		fs.orders[orderID] = domain.Order{ID: orderID}
		fs.deposits[pair] = []domain.PendingDeposit{{
			ID: 4, OrderID: orderID, Token: domain.TokenUSDT, Network: domain.NetworkPolygon,
			WalletAddress: "0xC", ExpectedValue: usdt("5000000"), StartedAt: time.Now().Add(-time.Minute),
		}}
		fs.transfers[300] = domain.Transfer{
			ID: 300, Token: domain.TokenUSDT, Network: domain.NetworkPolygon,
			ToAddress: "0xC", Value: usdt("5010000"), BlockNumber: 1, BlockTimestamp: time.Now(),
		}

		w := matcher.New(fs, topics, matcher.Config{OrderTTL: time.Hour}, nil, nil)
		runTick(w, topics, eventbus.MatchTickEvent{Pair: pair, InsertedTransferIDs: []int64{300}})

		Expect(fs.fulfilled).To(HaveLen(1))
	})

	It("marks an underpayment as no match", func() {
		pair := domain.Pair{Network: domain.NetworkPolygon, Token: domain.TokenUSDT}
		orderID := domain.OrderID{4}
		fs.orders[orderID] = domain.Order{ID: orderID}
		fs.deposits[pair] = []domain.PendingDeposit{{
			ID: 5, OrderID: orderID, Token: domain.TokenUSDT, Network: domain.NetworkPolygon,
			WalletAddress: "0xD", ExpectedValue: usdt("5000000"), StartedAt: time.Now().Add(-time.Minute),
		}}
		fs.transfers[400] = domain.Transfer{
			ID: 400, Token: domain.TokenUSDT, Network: domain.NetworkPolygon,
			ToAddress: "0xD", Value: usdt("4990000"), BlockNumber: 1, BlockTimestamp: time.Now(),
		}

		w := matcher.New(fs, topics, matcher.Config{OrderTTL: time.Hour}, nil, nil)
		runTick(w, topics, eventbus.MatchTickEvent{Pair: pair, InsertedTransferIDs: []int64{400}})

		Expect(fs.fulfilled).To(BeEmpty())
		Expect(fs.noMatches).To(ConsistOf(int64(400)))
	})
})
