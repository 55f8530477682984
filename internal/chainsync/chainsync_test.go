package chainsync_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/chainsync"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/eventbus"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/explorer"
)

type fakeStore struct {
	mu sync.Mutex

	cursor     domain.SyncCursor
	inserted   []domain.Transfer
	confirmed  []int64
	failed     []int64
	unconfirmed []domain.Transfer
}

func (f *fakeStore) GetSyncCursor(_ context.Context, _ domain.Pair) (domain.SyncCursor, error) {
	return f.cursor, nil
}

func (f *fakeStore) InsertTransfers(_ context.Context, _ domain.Pair, transfers []domain.Transfer) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, len(transfers))
	for i, t := range transfers {
		id := int64(len(f.inserted) + 1)
		t.ID = id
		f.inserted = append(f.inserted, t)
		ids[i] = id
	}
	return ids, nil
}

func (f *fakeStore) ListUnconfirmedTransfers(_ context.Context, _ domain.Pair, _ time.Time) ([]domain.Transfer, error) {
	return f.unconfirmed, nil
}

func (f *fakeStore) ConfirmTransfer(_ context.Context, _ domain.Network, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, id)
	return nil
}

func (f *fakeStore) FailTransferConfirmation(_ context.Context, _ domain.Network, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

type fakeWallets struct{ wallets []string }

func (f fakeWallets) WalletsFor(domain.Pair) []string { return f.wallets }

type fakeAdapter struct {
	records       []explorer.TransferRecord
	confirmations map[string]int
	notFound      map[string]bool
}

func (f *fakeAdapter) FetchTransfersSince(_ context.Context, _ domain.Token, _ []string, _ int64, _ int) ([]explorer.TransferRecord, error) {
	return f.records, nil
}

func (f *fakeAdapter) Confirmations(_ context.Context, txnHash string) (int, error) {
	if f.notFound[txnHash] {
		return 0, explorer.ErrNotFound
	}
	return f.confirmations[txnHash], nil
}

func pair() domain.Pair { return domain.Pair{Network: domain.NetworkPolygon, Token: domain.TokenUSDT} }

func TestSyncInsertsFetchedTransfersAndPublishesMatchTick(t *testing.T) {
	store := &fakeStore{cursor: domain.SyncCursor{Pair: pair(), Position: 10}}
	adapter := &fakeAdapter{records: []explorer.TransferRecord{{
		ToAddress: "0xA", TxnHash: "0xT1", Value: domain.NewDecimalFromBaseUnits(big.NewInt(10)), BlockNumber: 11,
	}}}
	topics := eventbus.NewTopics(4, nil)
	ticks, unsub := topics.MatchTick.Subscribe(context.Background())
	defer unsub()

	s := chainsync.New(pair(), adapter, store, fakeWallets{wallets: []string{"0xA"}}, topics, chainsync.DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	topics.PoolingTick.Publish(eventbus.PoolingTickEvent{Pair: pair()})

	select {
	case ev := <-ticks:
		assert.Equal(t, pair(), ev.Pair)
		assert.Len(t, ev.InsertedTransferIDs, 1)
	case <-time.After(time.Second):
		t.Fatal("expected a MatchTick after a successful fetch")
	}
	require.Len(t, store.inserted, 1)
	assert.Equal(t, "0xT1", store.inserted[0].TxnHash)
}

func TestSyncIgnoresTicksForOtherPairs(t *testing.T) {
	store := &fakeStore{cursor: domain.SyncCursor{Pair: pair()}}
	adapter := &fakeAdapter{}
	topics := eventbus.NewTopics(4, nil)

	s := chainsync.New(pair(), adapter, store, fakeWallets{}, topics, chainsync.DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	otherPair := domain.Pair{Network: domain.NetworkTron, Token: domain.TokenUSDT}
	topics.PoolingTick.Publish(eventbus.PoolingTickEvent{Pair: otherPair})
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, store.inserted)
}

func TestSyncConfirmationPassConfirmsOnceThresholdReached(t *testing.T) {
	txn := domain.Transfer{ID: 5, TxnHash: "0xT5", CreatedAt: time.Now()}
	store := &fakeStore{
		cursor:      domain.SyncCursor{Pair: pair(), HasPendingConfirmation: true},
		unconfirmed: []domain.Transfer{txn},
	}
	adapter := &fakeAdapter{confirmations: map[string]int{"0xT5": 12}}
	topics := eventbus.NewTopics(4, nil)

	s := chainsync.New(pair(), adapter, store, fakeWallets{}, topics, chainsync.DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	topics.PoolingTick.Publish(eventbus.PoolingTickEvent{Pair: pair()})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []int64{5}, store.confirmed)
}

func TestSyncConfirmationPassFailsTransfersOutsideTheWindow(t *testing.T) {
	stale := domain.Transfer{ID: 6, TxnHash: "0xT6", CreatedAt: time.Now().Add(-2 * time.Hour)}
	store := &fakeStore{
		cursor:      domain.SyncCursor{Pair: pair(), HasPendingConfirmation: true},
		unconfirmed: []domain.Transfer{stale},
	}
	cfg := chainsync.DefaultConfig()
	cfg.ConfirmationWindow = time.Hour
	adapter := &fakeAdapter{}
	topics := eventbus.NewTopics(4, nil)

	s := chainsync.New(pair(), adapter, store, fakeWallets{}, topics, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	topics.PoolingTick.Publish(eventbus.PoolingTickEvent{Pair: pair()})
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, []int64{6}, store.failed)
	assert.Empty(t, store.confirmed)
}

func TestSyncConfirmationPassSkipsNotFoundWithoutFailing(t *testing.T) {
	pending := domain.Transfer{ID: 7, TxnHash: "0xT7", CreatedAt: time.Now()}
	store := &fakeStore{
		cursor:      domain.SyncCursor{Pair: pair(), HasPendingConfirmation: true},
		unconfirmed: []domain.Transfer{pending},
	}
	adapter := &fakeAdapter{notFound: map[string]bool{"0xT7": true}}
	topics := eventbus.NewTopics(4, nil)

	s := chainsync.New(pair(), adapter, store, fakeWallets{}, topics, chainsync.DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	topics.PoolingTick.Publish(eventbus.PoolingTickEvent{Pair: pair()})
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, store.confirmed)
	assert.Empty(t, store.failed)
}
