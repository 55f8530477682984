// Package store is the persistence contract of spec.md §6: order_records,
// erc20/trc20 pending deposits, erc20/trc20 token transfers, and the two
// sync-cursor materialized views. internal/store/postgres.go is the one
// concrete implementation, over PostgreSQL via pgx (see SPEC_FULL.md §6A for
// why Postgres/pgx and not a teacher-grounded KV store).
package store

import (
	"context"
	"time"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

// FulfillmentInput is the atomic write spec.md §4.4 describes: bind one
// transfer to one deposit, flip the order to paid, and delete every
// sibling deposit on that order (the fulfilled one included).
type FulfillmentInput struct {
	Network       domain.Network
	TransferID    int64
	DepositID     int64
	OrderID       domain.OrderID
	MatchedAt     time.Time
	WebhookURL    string
	MerchantOrder string
	Amount        domain.Decimal
}

// FulfillmentResult reports the sibling deposits that were evicted, so the
// caller can publish PendingDepositChanged for each.
type FulfillmentResult struct {
	EvictedSiblingPairs []domain.Pair
	WebhookEventID      int64
}

// ExpiredOrder is one row the expiry sweep flipped to expired.
type ExpiredOrder struct {
	OrderID       domain.OrderID
	MerchantOrder string
	WebhookURL    string
	EvictedPairs  []domain.Pair
}

// Store is the full persistence contract the core depends on. Every
// method takes a context because every call is a suspension point
// (spec.md §5).
type Store interface {
	// Ping verifies connectivity; internal/app's store_connectivity task
	// calls it every 30s. A failed ping fails that task, which its
	// supervisor restarts like any other task; it does not shut the
	// process down.
	Ping(ctx context.Context) error

	// CountActiveDeposits is PoolingManager's N(n,t).
	CountActiveDeposits(ctx context.Context, pair domain.Pair) (int, error)

	// GetSyncCursor reads the materialized view for (network, token).
	GetSyncCursor(ctx context.Context, pair domain.Pair) (domain.SyncCursor, error)

	// InsertTransfers is the single batched ON CONFLICT(txn_hash, network)
	// DO NOTHING insert of spec.md §4.3. It returns only the ids that were
	// actually inserted (the insert's RETURNING set), which become the
	// MatchTick payload.
	InsertTransfers(ctx context.Context, pair domain.Pair, transfers []domain.Transfer) ([]int64, error)

	// ListUnconfirmedTransfers returns transfers for (network,token) with
	// blockchain_confirmed=false and block_timestamp within the last
	// 24h, for the confirmation pass.
	ListUnconfirmedTransfers(ctx context.Context, pair domain.Pair, since time.Time) ([]domain.Transfer, error)

	// ConfirmTransfer flips blockchain_confirmed=true and advances status
	// to waiting_for_match. network picks the erc20/trc20 table, since a
	// bare transfer id is only unique within one of the two tables.
	ConfirmTransfer(ctx context.Context, network domain.Network, id int64) error

	// FailTransferConfirmation advances status to failed_to_confirm; the
	// transfer is not re-queried after this.
	FailTransferConfirmation(ctx context.Context, network domain.Network, id int64) error

	// ListPendingDeposits loads every active deposit for (network, token).
	ListPendingDeposits(ctx context.Context, pair domain.Pair) ([]domain.PendingDeposit, error)

	// GetWaitingTransfers loads, from the given ids, only those currently
	// status=waiting_for_match (a MatchTick may race with a confirmation
	// pass demoting one of its own ids, though not within the same tick).
	// ids are assumed to all belong to network's transfer table, since a
	// MatchTick is scoped to one (network, token) pair.
	GetWaitingTransfers(ctx context.Context, network domain.Network, ids []int64) ([]domain.Transfer, error)

	// Fulfill performs the single serializable transaction of spec.md
	// §4.4: match, flip order to paid, evict siblings, enqueue webhook.
	Fulfill(ctx context.Context, in FulfillmentInput) (FulfillmentResult, error)

	// MarkNoMatch flips a transfer to no_matched_deposit and, if
	// enqueueUnknownPayment is true (merchant has UnknownPayment
	// webhooks configured), enqueues that webhook.
	MarkNoMatch(ctx context.Context, network domain.Network, transferID int64, enqueueUnknownPayment bool, detail UnknownPaymentDetail) error

	// SweepExpiredOrders flips every pending order whose created_at+ttl
	// has passed to expired, deletes their deposits, and enqueues a
	// webhook for each — atomically per order.
	SweepExpiredOrders(ctx context.Context, now time.Time, orderTTL time.Duration) ([]ExpiredOrder, error)

	// EnqueueWebhook inserts a fresh outbox row with retry_count=0; used
	// both by the pipeline and by the admin manual-resend operation. It
	// never mutates existing history (spec.md §4.5).
	EnqueueWebhook(ctx context.Context, ev domain.WebhookEvent) (int64, error)

	// ListDueWebhooks returns up to limit rows in
	// {queued,retry_pending} with next_attempt_at<=now, ordered by
	// next_attempt_at.
	ListDueWebhooks(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error)

	// MarkWebhookInFlight transitions a row to in_flight right before the
	// HTTP POST, so a crash mid-delivery doesn't leave it eligible for an
	// immediate duplicate send by a second sender instance.
	MarkWebhookInFlight(ctx context.Context, id int64) error

	// MarkWebhookResult records a delivery attempt's outcome: on success,
	// state=success and webhook_success_at is set on the order; on
	// failure, retry_count increments, webhook_last_tried_at is set, and
	// next_attempt_at/state are computed from spec.md's fixed schedule
	// (state becomes dead past MaxWebhookAttempts).
	MarkWebhookResult(ctx context.Context, id int64, now time.Time, success bool, httpErr string) error

	// GetOrder loads an order by id, for the webhook payload and the
	// admin API.
	GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error)

	Close()
}

// UnknownPaymentDetail carries the fields an UnknownPayment webhook needs
// when no deposit owns the transfer to look an order up from.
type UnknownPaymentDetail struct {
	Token       domain.Token
	Network     domain.Network
	ToAddress   string
	FromAddress string
	TxnHash     string
	Value       domain.Decimal
}
