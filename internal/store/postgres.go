package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
)

// Postgres is the sole Store implementation. It dispatches every
// transfer/deposit operation between the erc20_* and trc20_* table
// families based on domain.Network.IsTron() (see SPEC_FULL.md §6A).
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an already-connected pool. Callers build the pool
// (and run Migrate) during startup; Postgres never opens a connection
// itself.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) CountActiveDeposits(ctx context.Context, pair domain.Pair) (int, error) {
	var count int
	var err error
	if pair.Network.IsTron() {
		err = p.pool.QueryRow(ctx,
			`SELECT count(*) FROM trc20_pending_deposits WHERE token_name = $1`,
			pair.Token).Scan(&count)
	} else {
		err = p.pool.QueryRow(ctx,
			`SELECT count(*) FROM erc20_pending_deposits WHERE chain = $1 AND token_name = $2`,
			pair.Network, pair.Token).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("store: count active deposits for %s: %w", pair, err)
	}
	return count, nil
}

func (p *Postgres) GetSyncCursor(ctx context.Context, pair domain.Pair) (domain.SyncCursor, error) {
	cur := domain.SyncCursor{Pair: pair}
	var position *int64
	var hasPending *bool
	var err error
	if pair.Network.IsTron() {
		err = p.pool.QueryRow(ctx,
			`SELECT cursor_position, has_pending_confirmation FROM trc20_sync_cursor WHERE token_name = $1`,
			pair.Token).Scan(&position, &hasPending)
	} else {
		err = p.pool.QueryRow(ctx,
			`SELECT cursor_position, has_pending_confirmation FROM erc20_sync_cursor WHERE chain = $1 AND token_name = $2`,
			pair.Network, pair.Token).Scan(&position, &hasPending)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		// No transfers ever seen for this pair: cursor starts at zero,
		// nothing pending.
		return cur, nil
	}
	if err != nil {
		return domain.SyncCursor{}, fmt.Errorf("store: get sync cursor for %s: %w", pair, err)
	}
	if position != nil {
		cur.Position = *position
	}
	if hasPending != nil {
		cur.HasPendingConfirmation = *hasPending
	}
	return cur, nil
}

func (p *Postgres) InsertTransfers(ctx context.Context, pair domain.Pair, transfers []domain.Transfer) ([]int64, error) {
	if len(transfers) == 0 {
		return nil, nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: begin insert transfers: %w", err)
	}
	defer tx.Rollback(ctx)

	var inserted []int64
	for _, t := range transfers {
		var id int64
		var err error
		if pair.Network.IsTron() {
			err = tx.QueryRow(ctx, `
				INSERT INTO trc20_token_transfers
					(token_name, from_address, to_address, txn_hash, value, block_number, block_timestamp, blockchain_confirmed, status)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (txn_hash) DO NOTHING
				RETURNING id`,
				t.Token, t.FromAddress, t.ToAddress, t.TxnHash, t.Value.Format(t.Token.Decimals()),
				int64(t.BlockNumber), t.BlockTimestamp, t.BlockchainConfirmed, t.Status,
			).Scan(&id)
		} else {
			err = tx.QueryRow(ctx, `
				INSERT INTO erc20_token_transfers
					(token_name, chain, from_address, to_address, txn_hash, value, block_number, block_timestamp, blockchain_confirmed, status)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (txn_hash, chain) DO NOTHING
				RETURNING id`,
				t.Token, t.Network, t.FromAddress, t.ToAddress, t.TxnHash, t.Value.Format(t.Token.Decimals()),
				int64(t.BlockNumber), t.BlockTimestamp, t.BlockchainConfirmed, t.Status,
			).Scan(&id)
		}
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict on (txn_hash, network): already ingested, exactly
			// the exactly-once guarantee spec.md §4.3 asks for.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: insert transfer %s: %w", t.TxnHash, err)
		}
		inserted = append(inserted, id)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: commit insert transfers: %w", err)
	}
	return inserted, nil
}

func (p *Postgres) ListUnconfirmedTransfers(ctx context.Context, pair domain.Pair, since time.Time) ([]domain.Transfer, error) {
	var rows pgx.Rows
	var err error
	if pair.Network.IsTron() {
		rows, err = p.pool.Query(ctx, `
			SELECT id, token_name, from_address, to_address, txn_hash, value, block_number,
				block_timestamp, blockchain_confirmed, status, fulfillment_id, created_at
			FROM trc20_token_transfers
			WHERE token_name = $1 AND blockchain_confirmed = false AND block_timestamp >= $2`,
			pair.Token, since)
	} else {
		rows, err = p.pool.Query(ctx, `
			SELECT id, token_name, from_address, to_address, txn_hash, value, block_number,
				block_timestamp, blockchain_confirmed, status, fulfillment_id, created_at
			FROM erc20_token_transfers
			WHERE chain = $1 AND token_name = $2 AND blockchain_confirmed = false AND block_timestamp >= $3`,
			pair.Network, pair.Token, since)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list unconfirmed transfers for %s: %w", pair, err)
	}
	defer rows.Close()
	return scanTransfers(rows, pair.Network)
}

func (p *Postgres) ConfirmTransfer(ctx context.Context, network domain.Network, id int64) error {
	table := transferTable(network)
	_, err := p.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET blockchain_confirmed = true, status = $1 WHERE id = $2`, table),
		domain.TransferWaitingForMatch, id)
	if err != nil {
		return fmt.Errorf("store: confirm transfer %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) FailTransferConfirmation(ctx context.Context, network domain.Network, id int64) error {
	table := transferTable(network)
	_, err := p.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $1 WHERE id = $2`, table),
		domain.TransferFailedToConfirm, id)
	if err != nil {
		return fmt.Errorf("store: fail transfer confirmation %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) ListPendingDeposits(ctx context.Context, pair domain.Pair) ([]domain.PendingDeposit, error) {
	var rows pgx.Rows
	var err error
	if pair.Network.IsTron() {
		rows, err = p.pool.Query(ctx, `
			SELECT id, "order", token_name, user_address, wallet_address, value, started_at, last_scanned_at
			FROM trc20_pending_deposits WHERE token_name = $1`, pair.Token)
	} else {
		rows, err = p.pool.Query(ctx, `
			SELECT id, "order", token_name, chain, user_address, wallet_address, value, started_at, last_scanned_at
			FROM erc20_pending_deposits WHERE chain = $1 AND token_name = $2`, pair.Network, pair.Token)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list pending deposits for %s: %w", pair, err)
	}
	defer rows.Close()

	var deposits []domain.PendingDeposit
	for rows.Next() {
		d := domain.PendingDeposit{Network: pair.Network}
		var orderID uuid.UUID
		var userAddress *string
		var value string
		if pair.Network.IsTron() {
			if err := rows.Scan(&d.ID, &orderID, &d.Token, &userAddress, &d.WalletAddress, &value, &d.StartedAt, &d.LastScannedAt); err != nil {
				return nil, fmt.Errorf("store: scan trc20 pending deposit: %w", err)
			}
		} else {
			if err := rows.Scan(&d.ID, &orderID, &d.Token, &d.Network, &userAddress, &d.WalletAddress, &value, &d.StartedAt, &d.LastScannedAt); err != nil {
				return nil, fmt.Errorf("store: scan erc20 pending deposit: %w", err)
			}
		}
		d.OrderID = orderIDFromUUID(orderID)
		if userAddress != nil {
			d.UserAddress = *userAddress
		}
		dec, err := domain.ParseDecimal(value, d.Token.Decimals())
		if err != nil {
			return nil, fmt.Errorf("store: parse deposit value %q: %w", value, err)
		}
		d.ExpectedValue = dec
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

func (p *Postgres) GetWaitingTransfers(ctx context.Context, network domain.Network, ids []int64) ([]domain.Transfer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	table := transferTable(network)
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, token_name, from_address, to_address, txn_hash, value, block_number,
			block_timestamp, blockchain_confirmed, status, fulfillment_id, created_at
		FROM %s WHERE id = ANY($1) AND status = $2`, table),
		ids, domain.TransferWaitingForMatch)
	if err != nil {
		return nil, fmt.Errorf("store: get waiting transfers: %w", err)
	}
	defer rows.Close()
	return scanTransfers(rows, network)
}

// Fulfill performs the match-and-evict transaction of spec.md §4.4 inside
// a single serializable transaction: the matched transfer is bound to its
// deposit, the order flips to paid, every sibling deposit on the order is
// deleted (the fulfilled one included, via ON DELETE CASCADE from
// order_records is not used here since deposits aren't children of the
// match, so deletion is explicit), and a webhook is enqueued.
func (p *Postgres) Fulfill(ctx context.Context, in FulfillmentInput) (FulfillmentResult, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return FulfillmentResult{}, fmt.Errorf("store: begin fulfill: %w", err)
	}
	defer tx.Rollback(ctx)

	transferTbl := transferTable(in.Network)

	if _, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $1, fulfillment_id = $2 WHERE id = $3`, transferTbl),
		domain.TransferMatched, in.DepositID, in.TransferID); err != nil {
		return FulfillmentResult{}, fmt.Errorf("store: bind transfer to deposit: %w", err)
	}

	orderUUID := uuidFromOrderID(in.OrderID)
	if _, err := tx.Exec(ctx,
		`UPDATE order_records SET status = $1 WHERE order_id = $2 AND status = $3`,
		domain.OrderPaid, orderUUID, domain.OrderPending); err != nil {
		return FulfillmentResult{}, fmt.Errorf("store: mark order paid: %w", err)
	}

	// Every remaining sibling deposit across both table families for this
	// order is evicted (an order's deposits may span erc20 and trc20 if
	// the merchant's deposit instructions cover both).
	evicted, err := deleteSiblingDeposits(ctx, tx, orderUUID, domain.NetworkEthereum, "erc20_pending_deposits", true)
	if err != nil {
		return FulfillmentResult{}, err
	}
	evictedTron, err := deleteSiblingDeposits(ctx, tx, orderUUID, domain.NetworkTron, "trc20_pending_deposits", false)
	if err != nil {
		return FulfillmentResult{}, err
	}
	evicted = append(evicted, evictedTron...)

	event := domain.WebhookEvent{
		OrderID:     in.OrderID,
		HasOrder:    true,
		Kind:        domain.WebhookOrderStatusChanged,
		EventID:     uuid.NewString(),
		PayloadHash: "",
		State:       domain.WebhookQueued,
	}
	webhookID, err := enqueueWebhookTx(ctx, tx, event)
	if err != nil {
		return FulfillmentResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return FulfillmentResult{}, fmt.Errorf("store: commit fulfill: %w", err)
	}
	return FulfillmentResult{EvictedSiblingPairs: evicted, WebhookEventID: webhookID}, nil
}

// deleteSiblingDeposits removes every deposit for orderUUID in one table
// family and reports which (network, token) pairs lost a deposit, so the
// caller can publish PendingDepositChanged per pair. tronFamily selects
// the trc20 table's narrower column set (no chain column).
func deleteSiblingDeposits(ctx context.Context, tx pgx.Tx, orderUUID uuid.UUID, fallbackNetwork domain.Network, table string, hasChainColumn bool) ([]domain.Pair, error) {
	var rows pgx.Rows
	var err error
	if hasChainColumn {
		rows, err = tx.Query(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "order" = $1 RETURNING chain, token_name`, table), orderUUID)
	} else {
		rows, err = tx.Query(ctx, fmt.Sprintf(`DELETE FROM %s WHERE "order" = $1 RETURNING token_name`, table), orderUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: delete sibling deposits in %s: %w", table, err)
	}
	defer rows.Close()

	var pairs []domain.Pair
	for rows.Next() {
		pair := domain.Pair{Network: fallbackNetwork}
		if hasChainColumn {
			if err := rows.Scan(&pair.Network, &pair.Token); err != nil {
				return nil, fmt.Errorf("store: scan deleted deposit: %w", err)
			}
		} else {
			if err := rows.Scan(&pair.Token); err != nil {
				return nil, fmt.Errorf("store: scan deleted deposit: %w", err)
			}
		}
		pairs = append(pairs, pair)
	}
	return pairs, rows.Err()
}

func (p *Postgres) MarkNoMatch(ctx context.Context, network domain.Network, transferID int64, enqueueUnknownPayment bool, detail UnknownPaymentDetail) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin mark no match: %w", err)
	}
	defer tx.Rollback(ctx)

	table := transferTable(network)
	if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status = $1 WHERE id = $2`, table),
		domain.TransferNoMatchedDeposit, transferID); err != nil {
		return fmt.Errorf("store: mark transfer no match: %w", err)
	}

	if enqueueUnknownPayment {
		event := domain.WebhookEvent{
			Kind:        domain.WebhookUnknownPayment,
			EventID:     uuid.NewString(),
			PayloadHash: detail.TxnHash,
			State:       domain.WebhookQueued,
			Detail: map[string]any{
				"token":        detail.Token,
				"network":      detail.Network,
				"to_address":   detail.ToAddress,
				"from_address": detail.FromAddress,
				"txn_hash":     detail.TxnHash,
				"value":        detail.Value.Format(detail.Token.Decimals()),
			},
		}
		if _, err := enqueueWebhookTx(ctx, tx, event); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (p *Postgres) SweepExpiredOrders(ctx context.Context, now time.Time, orderTTL time.Duration) ([]ExpiredOrder, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: begin sweep: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		UPDATE order_records
		SET status = $1
		WHERE status = $2 AND created_at + $3 <= $4
		RETURNING order_id, merchant_order_id, webhook_url`,
		domain.OrderExpired, domain.OrderPending, orderTTL, now)
	if err != nil {
		return nil, fmt.Errorf("store: sweep expired orders: %w", err)
	}
	var expired []ExpiredOrder
	for rows.Next() {
		var orderUUID uuid.UUID
		var eo ExpiredOrder
		if err := rows.Scan(&orderUUID, &eo.MerchantOrder, &eo.WebhookURL); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan expired order: %w", err)
		}
		eo.OrderID = orderIDFromUUID(orderUUID)
		expired = append(expired, eo)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range expired {
		orderUUID := uuidFromOrderID(expired[i].OrderID)
		pairs, err := deleteSiblingDeposits(ctx, tx, orderUUID, domain.NetworkEthereum, "erc20_pending_deposits", true)
		if err != nil {
			return nil, err
		}
		tronPairs, err := deleteSiblingDeposits(ctx, tx, orderUUID, domain.NetworkTron, "trc20_pending_deposits", false)
		if err != nil {
			return nil, err
		}
		expired[i].EvictedPairs = append(pairs, tronPairs...)

		event := domain.WebhookEvent{
			OrderID:     expired[i].OrderID,
			HasOrder:    true,
			Kind:        domain.WebhookOrderStatusChanged,
			EventID:     uuid.NewString(),
			PayloadHash: "",
			State:       domain.WebhookQueued,
		}
		if _, err := enqueueWebhookTx(ctx, tx, event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("store: commit sweep: %w", err)
	}
	return expired, nil
}

func (p *Postgres) EnqueueWebhook(ctx context.Context, ev domain.WebhookEvent) (int64, error) {
	orderUUID, detailJSON, err := encodeWebhookEvent(ev)
	if err != nil {
		return 0, err
	}
	var id int64
	err = p.pool.QueryRow(ctx, `
		INSERT INTO webhook_outbox (order_id, kind, event_id, payload_hash, detail, retry_count, next_attempt_at, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		orderUUID, ev.Kind, ev.EventID, ev.PayloadHash, detailJSON, ev.RetryCount, ev.NextAttemptAt, ev.State,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: enqueue webhook: %w", err)
	}
	return id, nil
}

func enqueueWebhookTx(ctx context.Context, tx pgx.Tx, ev domain.WebhookEvent) (int64, error) {
	orderUUID, detailJSON, err := encodeWebhookEvent(ev)
	if err != nil {
		return 0, err
	}
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO webhook_outbox (order_id, kind, event_id, payload_hash, detail, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		orderUUID, ev.Kind, ev.EventID, ev.PayloadHash, detailJSON, ev.State,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: enqueue webhook in tx: %w", err)
	}
	return id, nil
}

// encodeWebhookEvent prepares the two columns that vary by event shape:
// order_id is NULL for UnknownPayment (no order to point at), and detail
// is an empty JSON object unless the caller supplied one.
func encodeWebhookEvent(ev domain.WebhookEvent) (*uuid.UUID, []byte, error) {
	var orderUUID *uuid.UUID
	if ev.HasOrder {
		u := uuidFromOrderID(ev.OrderID)
		orderUUID = &u
	}
	detail := ev.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return nil, nil, fmt.Errorf("store: marshal webhook detail: %w", err)
	}
	return orderUUID, detailJSON, nil
}

func (p *Postgres) ListDueWebhooks(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, order_id, kind, event_id, payload_hash, detail, created_at, retry_count, next_attempt_at, last_error, state
		FROM webhook_outbox
		WHERE state IN ($1, $2) AND next_attempt_at <= $3
		ORDER BY next_attempt_at
		LIMIT $4`,
		domain.WebhookQueued, domain.WebhookRetryPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list due webhooks: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		var ev domain.WebhookEvent
		var orderUUID *uuid.UUID
		var lastError *string
		var detailJSON []byte
		if err := rows.Scan(&ev.ID, &orderUUID, &ev.Kind, &ev.EventID, &ev.PayloadHash, &detailJSON, &ev.CreatedAt,
			&ev.RetryCount, &ev.NextAttemptAt, &lastError, &ev.State); err != nil {
			return nil, fmt.Errorf("store: scan due webhook: %w", err)
		}
		if orderUUID != nil {
			ev.OrderID = orderIDFromUUID(*orderUUID)
			ev.HasOrder = true
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &ev.Detail); err != nil {
				return nil, fmt.Errorf("store: unmarshal webhook detail: %w", err)
			}
		}
		if lastError != nil {
			ev.LastError = *lastError
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (p *Postgres) MarkWebhookInFlight(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, `UPDATE webhook_outbox SET state = $1 WHERE id = $2`, domain.WebhookInFlight, id)
	if err != nil {
		return fmt.Errorf("store: mark webhook in flight %d: %w", id, err)
	}
	return nil
}

func (p *Postgres) MarkWebhookResult(ctx context.Context, id int64, now time.Time, success bool, httpErr string) error {
	if success {
		tx, err := p.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("store: begin mark webhook success: %w", err)
		}
		defer tx.Rollback(ctx)

		var orderUUID *uuid.UUID
		if err := tx.QueryRow(ctx,
			`UPDATE webhook_outbox SET state = $1 WHERE id = $2 RETURNING order_id`,
			domain.WebhookSuccess, id).Scan(&orderUUID); err != nil {
			return fmt.Errorf("store: mark webhook success %d: %w", id, err)
		}
		// UnknownPayment webhooks carry no order_id; there is nothing to
		// stamp webhook_success_at on.
		if orderUUID != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE order_records SET webhook_success_at = $1 WHERE order_id = $2`,
				now, *orderUUID); err != nil {
				return fmt.Errorf("store: stamp webhook success on order: %w", err)
			}
		}
		return tx.Commit(ctx)
	}

	var retryCount int
	err := p.pool.QueryRow(ctx,
		`SELECT retry_count FROM webhook_outbox WHERE id = $1`, id).Scan(&retryCount)
	if err != nil {
		return fmt.Errorf("store: read retry count for webhook %d: %w", id, err)
	}
	retryCount++
	state := domain.WebhookRetryPending
	if retryCount >= domain.MaxWebhookAttempts {
		state = domain.WebhookDead
	}
	nextAttempt := now.Add(domain.RetryDelay(retryCount))
	_, err = p.pool.Exec(ctx, `
		UPDATE webhook_outbox
		SET retry_count = $1, state = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $5`,
		retryCount, state, nextAttempt, httpErr, id)
	if err != nil {
		return fmt.Errorf("store: mark webhook retry %d: %w", id, err)
	}
	// order_id is NULL for UnknownPayment rows, so no order is stamped.
	if _, err := p.pool.Exec(ctx, `
		UPDATE order_records SET webhook_last_tried_at = $1
		WHERE order_id = (SELECT order_id FROM webhook_outbox WHERE id = $2)`,
		now, id); err != nil {
		return fmt.Errorf("store: stamp webhook attempt on order: %w", err)
	}
	if state == domain.WebhookDead {
		obslog.Warn("webhook delivery exhausted retries", "webhook_id", id, "retry_count", retryCount)
	}
	return nil
}

func (p *Postgres) GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error) {
	var o domain.Order
	var lastTried, successAt *time.Time
	var amount string
	var orderUUID uuid.UUID
	err := p.pool.QueryRow(ctx, `
		SELECT order_id, merchant_order_id, amount, token_name, status, created_at,
			webhook_url, webhook_retry_count, webhook_last_tried_at, webhook_success_at
		FROM order_records WHERE order_id = $1`,
		uuidFromOrderID(id),
	).Scan(&orderUUID, &o.MerchantOrderID, &amount, &o.Token, &o.Status, &o.CreatedAt,
		&o.WebhookURL, &o.WebhookRetries, &lastTried, &successAt)
	if err != nil {
		return domain.Order{}, fmt.Errorf("store: get order %x: %w", id, err)
	}
	o.ID = id
	o.WebhookLastTried = lastTried
	o.WebhookSuccessAt = successAt
	dec, err := domain.ParseDecimal(amount, o.Token.Decimals())
	if err != nil {
		return domain.Order{}, fmt.Errorf("store: parse order amount %q: %w", amount, err)
	}
	o.Amount = dec
	return o, nil
}

func scanTransfers(rows pgx.Rows, network domain.Network) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	for rows.Next() {
		t := domain.Transfer{Network: network}
		var value string
		var blockNumber int64
		var fulfillmentID *int64
		if err := rows.Scan(&t.ID, &t.Token, &t.FromAddress, &t.ToAddress, &t.TxnHash, &value,
			&blockNumber, &t.BlockTimestamp, &t.BlockchainConfirmed, &t.Status, &fulfillmentID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan transfer: %w", err)
		}
		t.BlockNumber = uint64(blockNumber)
		t.FulfillmentID = fulfillmentID
		dec, err := domain.ParseDecimal(value, t.Token.Decimals())
		if err != nil {
			return nil, fmt.Errorf("store: parse transfer value %q: %w", value, err)
		}
		t.Value = dec
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func transferTable(network domain.Network) string {
	if network.IsTron() {
		return "trc20_token_transfers"
	}
	return "erc20_token_transfers"
}

func uuidFromOrderID(id domain.OrderID) uuid.UUID {
	return uuid.UUID(id)
}

func orderIDFromUUID(u uuid.UUID) domain.OrderID {
	return domain.OrderID(u)
}
