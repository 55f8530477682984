// Package pooling implements PoolingManager, the sole consumer of
// PendingDepositChanged: it maintains one adaptive poll period per
// (network, token) pair and emits PoolingTick at that cadence (spec.md
// §4.2). The per-pair timer idiom is grounded on
// _examples/luxfi-evm/plugin/evm/block_builder.go's condvar-driven pacing,
// reshaped around internal/clock's mockable Timer instead of a condvar
// since each pair needs its own independent deadline rather than one
// shared signal.
package pooling

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/adminapi"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/clock"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/eventbus"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/ocrchmetrics"
)

// DepositCounter is the one store dependency PoolingManager needs: N(n,t).
// Kept as a narrow interface so tests can fake it without a full Store.
type DepositCounter interface {
	CountActiveDeposits(ctx context.Context, pair domain.Pair) (int, error)
}

// Schedule holds the tunables of spec.md §4.2's period formula.
type Schedule struct {
	BaseIdle   time.Duration // default 60s, used when N=0
	MinPeriod  time.Duration // default 3s, floor for N>=1
	BaseActive time.Duration // default 30s, numerator for N>=1
}

func DefaultSchedule() Schedule {
	return Schedule{BaseIdle: 60 * time.Second, MinPeriod: 3 * time.Second, BaseActive: 30 * time.Second}
}

// Period implements N=0 -> BaseIdle; N>=1 -> max(MinPeriod, BaseActive/ceil(log2(1+N))).
func (s Schedule) Period(n int) time.Duration {
	if n <= 0 {
		return s.BaseIdle
	}
	divisor := math.Ceil(math.Log2(1 + float64(n)))
	if divisor < 1 {
		divisor = 1
	}
	period := time.Duration(float64(s.BaseActive) / divisor)
	if period < s.MinPeriod {
		period = s.MinPeriod
	}
	return period
}

type pairState struct {
	timer       clock.Timer
	suspended   bool
	period      time.Duration
	activeCount int
}

// Manager runs one adaptive timer per enabled (network, token) pair. It is
// the only subscriber of Topics.PendingDepositChanged; every recomputation
// re-reads N(n,t) from the store rather than tracking a running count
// itself, keeping PendingDepositChanged events themselves idempotent
// (spec.md §4.1).
type Manager struct {
	clock    clock.Clock
	counter  DepositCounter
	topics   *eventbus.Topics
	schedule Schedule
	metrics  *ocrchmetrics.Registry

	mu     sync.Mutex
	states map[domain.Pair]*pairState
	pairs  []domain.Pair
}

// New builds a Manager over the given enabled pairs. Pairs not in the list
// are never ticked (spec.md §4.2's "tokens disabled in config").
func New(clk clock.Clock, counter DepositCounter, topics *eventbus.Topics, schedule Schedule, metrics *ocrchmetrics.Registry, pairs []domain.Pair) *Manager {
	return &Manager{
		clock:    clk,
		counter:  counter,
		topics:   topics,
		schedule: schedule,
		metrics:  metrics,
		states:   make(map[domain.Pair]*pairState, len(pairs)),
		pairs:    pairs,
	}
}

// Run starts one timer per enabled pair at its initial period and drains
// PendingDepositChanged until ctx is cancelled. It blocks until every
// timer has stopped ticking.
func (m *Manager) Run(ctx context.Context) error {
	changed, unsubscribe := m.topics.PendingDepositChanged.Subscribe(ctx)
	defer unsubscribe()

	var wg sync.WaitGroup
	for _, pair := range m.pairs {
		n, err := m.counter.CountActiveDeposits(ctx, pair)
		if err != nil {
			return fmt.Errorf("pooling: initial count for %s: %w", pair, err)
		}
		period := m.schedule.Period(n)
		st := &pairState{timer: m.clock.NewTimer(period), period: period, activeCount: n}
		m.mu.Lock()
		m.states[pair] = st
		m.mu.Unlock()
		m.observePeriod(pair, period, n)

		wg.Add(1)
		go func(pair domain.Pair, st *pairState) {
			defer wg.Done()
			m.driveTimer(ctx, pair, st)
		}(pair, st)
	}

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case ev, ok := <-changed:
			if !ok {
				wg.Wait()
				return nil
			}
			m.recompute(ctx, ev.Pair)
		}
	}
}

// driveTimer fires PoolingTick on st's timer until ctx is done, re-arming
// the timer with the pair's current period after each firing. recompute
// resets st.timer in place, so the loop re-reads st.timer.C() on every
// iteration.
func (m *Manager) driveTimer(ctx context.Context, pair domain.Pair, st *pairState) {
	for {
		select {
		case <-ctx.Done():
			st.timer.Stop()
			return
		case <-st.timer.C():
			m.mu.Lock()
			suspended := st.suspended
			period := st.period
			m.mu.Unlock()
			if !suspended {
				m.topics.PoolingTick.Publish(eventbus.PoolingTickEvent{Pair: pair})
			}
			st.timer.Reset(period)
		}
	}
}

// recompute re-reads N(n,t) and resets the pair's running timer to the new
// period, per spec.md §4.2: "the running timer is reset to the new period
// (not merely reconfigured for the next tick)".
func (m *Manager) recompute(ctx context.Context, pair domain.Pair) {
	m.mu.Lock()
	st, ok := m.states[pair]
	m.mu.Unlock()
	if !ok {
		return // pair not enabled; nothing to recompute
	}

	n, err := m.counter.CountActiveDeposits(ctx, pair)
	if err != nil {
		obslog.Warn("pooling: recompute failed, keeping previous period", "pair", pair.String(), "err", err)
		return
	}

	period := m.schedule.Period(n)
	st.timer.Reset(period)
	m.mu.Lock()
	st.period = period
	st.activeCount = n
	m.mu.Unlock()
	m.observePeriod(pair, period, n)
}

// Status reports every enabled pair's current period, active-deposit
// count, and suspension state, for the admin API's pooling-status read.
func (m *Manager) Status() []adminapi.PairStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]adminapi.PairStatus, 0, len(m.pairs))
	for _, pair := range m.pairs {
		st, ok := m.states[pair]
		if !ok {
			continue
		}
		out = append(out, adminapi.PairStatus{
			Pair:        pair,
			Period:      st.period.String(),
			ActiveCount: st.activeCount,
			Suspended:   st.suspended,
		})
	}
	return out
}

func (m *Manager) observePeriod(pair domain.Pair, period time.Duration, activeCount int) {
	if m.metrics == nil {
		return
	}
	labels := map[string]string{"network": string(pair.Network), "token": string(pair.Token)}
	m.metrics.PoolingPeriod.With(labels).Set(period.Seconds())
	m.metrics.PoolingActiveCount.With(labels).Set(float64(activeCount))
}

// Suspend/Resume implement the config-reload half of the Suspended <->
// Active(period) state machine (spec.md §4.2). internal/app builds the
// Manager but does not call them.
func (m *Manager) Suspend(pair domain.Pair) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[pair]; ok {
		st.suspended = true
	}
}

func (m *Manager) Resume(ctx context.Context, pair domain.Pair) {
	m.mu.Lock()
	st, ok := m.states[pair]
	m.mu.Unlock()
	if !ok {
		return
	}
	st.suspended = false
	m.recompute(ctx, pair)
}
