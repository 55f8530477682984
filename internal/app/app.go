// Package app is the composition root: it builds the config snapshot
// holder, the store, the event bus, and all five long-lived components
// (PoolingManager, one BlockchainSync per enabled pair, OrderBookWatcher,
// ExpirySweeper, WebhookSender), wraps each in a supervisor, and drives
// the shutdown sequence spec.md §5 specifies: stop intake, stop
// PoolingManager, drain sync/matcher with a grace deadline, drain the
// webhook sender, close the store. Wiring shape (one errgroup, one shared
// cancel, a sentinel-flagged store connectivity task) is grounded
// on _examples/luxfi-evm/plugin/evm/block_builder.go's shutdownChan
// pattern, generalized across N supervised tasks via
// internal/supervisor.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/adminapi"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/chainsync"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/clock"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/config"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/eventbus"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/explorer"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/explorer/evmscan"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/explorer/tronscan"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/matcher"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/ocrchmetrics"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/pooling"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/store"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/supervisor"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/webhook"
)

// ShutdownGrace bounds how long App.Shutdown waits for the sync/matcher
// supervisors to drain before moving on regardless (spec.md §5).
const ShutdownGrace = 30 * time.Second

// App owns every long-lived component built from one config snapshot.
type App struct {
	cfgHolder *config.Holder
	store     *store.Postgres
	topics    *eventbus.Topics
	metrics   *ocrchmetrics.Registry
	wallets   *matcher.WalletRegistry

	pooling *pooling.Manager
	syncs   []*chainsync.Sync
	watcher *matcher.Watcher
	sweeper *matcher.Sweeper
	sender  *webhook.Sender
	Admin   *adminapi.Admin

	poolingSup *supervisor.Supervisor
	syncSups   []*supervisor.Supervisor
	watcherSup *supervisor.Supervisor
	sweeperSup *supervisor.Supervisor
	senderSup  *supervisor.Supervisor
	sentinel   *supervisor.Supervisor
}

// New builds every component from cfg. pool must already be connected and
// have had store.Migrate run against it by the caller (cmd/ocrch's
// --migrate path is separate from normal startup).
func New(cfg *config.Config, pool *pgxpool.Pool) (*App, error) {
	holder := config.NewHolder(cfg)
	st := store.NewPostgres(pool)
	metrics := ocrchmetrics.New()
	topics := eventbus.NewTopics(eventbus.DefaultQueueSize, func(topic, subscriber string) {
		metrics.EventBusDropped.With(map[string]string{"topic": topic, "subscriber": subscriber}).Inc()
	})

	wallets := matcher.NewWalletRegistry()
	pairs := cfg.EnabledPairs()
	for _, pc := range cfg.Pairs {
		if pc.Enabled {
			wallets.Add(pc.Pair, pc.MerchantWallet)
		}
	}

	risk, err := matcher.NewRiskFilter(cfg.RiskFilterExpression)
	if err != nil {
		return nil, fmt.Errorf("app: risk filter: %w", err)
	}

	clk := clock.NewReal()

	poolingSchedule := pooling.Schedule{
		BaseIdle: cfg.Pooling.BaseIdle, MinPeriod: cfg.Pooling.MinPeriod, BaseActive: cfg.Pooling.BaseActive,
	}
	poolingMgr := pooling.New(clk, st, topics, poolingSchedule, metrics, pairs)

	syncs := make([]*chainsync.Sync, 0, len(pairs))
	for _, pair := range pairs {
		adapter, err := buildAdapter(cfg, pair)
		if err != nil {
			return nil, err
		}
		syncCfg := chainsync.Config{
			Confirmations:      confirmationsFor(cfg, pair.Network),
			ConfirmationWindow: cfg.ConfirmationWindow,
			FetchLimit:         500,
		}
		syncs = append(syncs, chainsync.New(pair, adapter, st, wallets, topics, syncCfg, metrics))
	}

	matcherCfg := matcher.Config{OrderTTL: cfg.OrderTTL, UnknownPaymentWebhooksEnabled: cfg.Webhook.UnknownPaymentWebhookURL != ""}
	watcher := matcher.New(st, topics, matcherCfg, metrics, risk)
	sweeper := matcher.NewSweeper(st, topics, clk, cfg.OrderTTL, time.Minute)

	webhookCfg := webhook.Config{
		PollInterval:             cfg.Webhook.PollInterval,
		BatchLimit:               cfg.Webhook.BatchLimit,
		HTTPTimeout:              cfg.Webhook.HTTPTimeout,
		Secret:                   []byte(cfg.Webhook.Secret),
		UnknownPaymentWebhookURL: cfg.Webhook.UnknownPaymentWebhookURL,
	}
	sender := webhook.New(st, clk, webhookCfg, metrics)

	admin := adminapi.New(sender, poolingMgr)

	a := &App{
		cfgHolder: holder,
		store:     st,
		topics:    topics,
		metrics:   metrics,
		wallets:   wallets,
		pooling:   poolingMgr,
		syncs:     syncs,
		watcher:   watcher,
		sweeper:   sweeper,
		sender:    sender,
		Admin:     admin,
	}
	a.buildSupervisors()
	return a, nil
}

func (a *App) buildSupervisors() {
	a.poolingSup = supervisor.New("pooling_manager", a.pooling.Run)
	a.watcherSup = supervisor.New("order_book_watcher", a.watcher.Run)
	a.sweeperSup = supervisor.New("expiry_sweeper", a.sweeper.Run)
	a.senderSup = supervisor.New("webhook_sender", a.sender.Run)

	a.syncSups = make([]*supervisor.Supervisor, len(a.syncs))
	for i, s := range a.syncs {
		a.syncSups[i] = supervisor.New(fmt.Sprintf("blockchain_sync[%d]", i), s.Run)
	}

	// The store's own connectivity check is the one task flagged as a
	// sentinel. Its supervisor restarts it like every other task, so a
	// failed ping is logged and retried; it does not bring the process
	// down.
	a.sentinel = supervisor.New("store_connectivity", func(ctx context.Context) error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := a.store.Ping(ctx); err != nil {
					return fmt.Errorf("store unreachable: %w", err)
				}
			}
		}
	}).MarkSentinel()
}

// Run starts every component and blocks until every supervisor has
// returned. A supervisor returns an error only when its backoff reports
// backoff.Stop, which New's default backoff never does, so Run returns
// once ctx is cancelled; a failing sentinel task does not end it.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.poolingSup.Run(gctx) })
	g.Go(func() error { return a.watcherSup.Run(gctx) })
	g.Go(func() error { return a.sweeperSup.Run(gctx) })
	g.Go(func() error { return a.senderSup.Run(gctx) })
	for _, sup := range a.syncSups {
		sup := sup
		g.Go(func() error { return sup.Run(gctx) })
	}
	g.Go(func() error { return a.sentinel.Run(gctx) })

	return g.Wait()
}

// Shutdown runs the ordered drain spec.md §5 specifies: stop intake (the
// caller's own responsibility, out of App's scope), stop PoolingManager
// so no new ticks fire, wait up to ShutdownGrace for sync/matcher tasks
// to drain, drain the webhook sender, then close the store. cancel must
// already have been called on the context App.Run was given; Shutdown
// only waits for components to settle and releases the store.
func (a *App) Shutdown(ctx context.Context) error {
	deadline := time.Now().Add(ShutdownGrace)
	for _, sup := range append([]*supervisor.Supervisor{a.poolingSup, a.watcherSup, a.sweeperSup}, a.syncSups...) {
		waitDrained(sup, deadline)
	}
	waitDrained(a.senderSup, deadline)
	a.store.Close()
	return nil
}

func waitDrained(sup *supervisor.Supervisor, deadline time.Time) {
	for time.Now().Before(deadline) {
		st, _ := sup.State()
		if st == supervisor.StateStopped || st == supervisor.StateFailed {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	obslog.Warn("app: shutdown grace period elapsed before task drained", "task", sup.Name())
}

func confirmationsFor(cfg *config.Config, network domain.Network) int {
	if network.IsTron() {
		return cfg.ConfirmationsTron
	}
	return cfg.ConfirmationsEVM
}

func buildAdapter(cfg *config.Config, pair domain.Pair) (explorer.Adapter, error) {
	ex, ok := cfg.Explorer[pair.Network]
	if !ok {
		return nil, fmt.Errorf("app: no explorer config for network %s", pair.Network)
	}
	if pair.Network.IsTron() {
		return tronscan.New(tronscan.Config{
			BaseURL:           ex.BaseURL,
			APIKey:            ex.APIKey,
			ContractOf:        ex.ContractOf(),
			RequestsPerSecond: ex.RequestsPerSecond,
			Confirmations:     cfg.ConfirmationsTron,
		}), nil
	}
	return evmscan.New(evmscan.Config{
		Network:           pair.Network,
		BaseURL:           ex.BaseURL,
		APIKey:            ex.APIKey,
		ContractOf:        ex.ContractOf(),
		RequestsPerSecond: ex.RequestsPerSecond,
		Confirmations:     cfg.ConfirmationsEVM,
	}), nil
}
