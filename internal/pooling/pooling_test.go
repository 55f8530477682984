package pooling_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/clock"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/eventbus"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/pooling"
)

func TestSchedulePeriodIdleWhenNoActiveDeposits(t *testing.T) {
	s := pooling.DefaultSchedule()
	assert.Equal(t, s.BaseIdle, s.Period(0))
}

func TestSchedulePeriodShrinksAsDepositsGrow(t *testing.T) {
	s := pooling.DefaultSchedule()
	p1 := s.Period(1)
	p3 := s.Period(3)
	p10 := s.Period(10)

	assert.True(t, p3 <= p1, "more active deposits should never slow down polling")
	assert.True(t, p10 <= p3)
}

func TestSchedulePeriodFloorsAtMinPeriod(t *testing.T) {
	s := pooling.DefaultSchedule()
	assert.Equal(t, s.MinPeriod, s.Period(1_000_000))
}

func TestSchedulePeriodMatchesFormulaAtN1(t *testing.T) {
	// ceil(log2(1+1)) == 1, so period == BaseActive at N=1.
	s := pooling.DefaultSchedule()
	assert.Equal(t, s.BaseActive, s.Period(1))
}

type fakeCounter struct {
	counts map[domain.Pair]int
}

func (f *fakeCounter) CountActiveDeposits(_ context.Context, pair domain.Pair) (int, error) {
	return f.counts[pair], nil
}

func TestManagerTicksAtTheIdlePeriodWithNoDeposits(t *testing.T) {
	pair := domain.Pair{Network: domain.NetworkPolygon, Token: domain.TokenUSDT}
	mclock := clock.NewMock(time.Now())
	topics := eventbus.NewTopics(4, nil)
	counter := &fakeCounter{counts: map[domain.Pair]int{}}

	m := pooling.New(mclock, counter, topics, pooling.DefaultSchedule(), nil, []domain.Pair{pair})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	// Let Run register the pair's initial timer before advancing.
	time.Sleep(20 * time.Millisecond)

	ticks, unsub := topics.PoolingTick.Subscribe(context.Background())
	defer unsub()

	mclock.Advance(pooling.DefaultSchedule().BaseIdle)

	select {
	case ev := <-ticks:
		assert.Equal(t, pair, ev.Pair)
	case <-time.After(time.Second):
		t.Fatal("expected a PoolingTick after advancing past the idle period")
	}
}

func TestManagerRecomputeOnDepositChangeResetsToShorterPeriod(t *testing.T) {
	pair := domain.Pair{Network: domain.NetworkPolygon, Token: domain.TokenUSDT}
	mclock := clock.NewMock(time.Now())
	topics := eventbus.NewTopics(4, nil)
	counter := &fakeCounter{counts: map[domain.Pair]int{pair: 0}}

	m := pooling.New(mclock, counter, topics, pooling.DefaultSchedule(), nil, []domain.Pair{pair})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	counter.counts[pair] = 5
	topics.PendingDepositChanged.Publish(eventbus.PendingDepositChangedEvent{Pair: pair, Kind: eventbus.DepositCreated})
	time.Sleep(20 * time.Millisecond)

	statuses := m.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, 5, statuses[0].ActiveCount)
	assert.Equal(t, pooling.DefaultSchedule().Period(5).String(), statuses[0].Period)
}

func TestManagerSuspendStopsTicksUntilResumed(t *testing.T) {
	pair := domain.Pair{Network: domain.NetworkPolygon, Token: domain.TokenUSDT}
	mclock := clock.NewMock(time.Now())
	topics := eventbus.NewTopics(4, nil)
	counter := &fakeCounter{counts: map[domain.Pair]int{}}

	m := pooling.New(mclock, counter, topics, pooling.DefaultSchedule(), nil, []domain.Pair{pair})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)

	m.Suspend(pair)
	statuses := m.Status()
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Suspended)

	m.Resume(ctx, pair)
	statuses = m.Status()
	assert.False(t, statuses[0].Suspended)
}
