// Package tronscan implements explorer.Adapter against a TronScan-family
// HTTP API (TRC-20 transfer history + transaction info), per spec.md §6B.
// TRON has no block-number cursor in the schema; the cursor field is the
// transfer's unix block_timestamp.
package tronscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/explorer"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
)

// Config is the single TRON network explorer endpoint (there is only one
// TRON network in this system, unlike the seven EVM networks).
type Config struct {
	BaseURL           string
	APIKey            string
	ContractOf        func(domain.Token) (string, bool)
	RequestsPerSecond float64
	Confirmations     int // default 20 per spec.md §4.3
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Confirmations <= 0 {
		cfg.Confirmations = 20
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

type trc20TransferEntry struct {
	TransactionID string `json:"transaction_id"`
	FromAddress   string `json:"from_address"`
	ToAddress     string `json:"to_address"`
	Amount        string `json:"amount_str"`
	BlockTs       int64  `json:"block_ts"` // milliseconds
	Confirmed     bool   `json:"confirmed"`
}

type trc20TransferResponse struct {
	Data []trc20TransferEntry `json:"token_transfers"`
}

// FetchTransfersSince calls the TRC-20 transfer-history endpoint once per
// wallet, merges and filters to rows after cursor (a unix second
// timestamp), and returns them sorted ascending by block_timestamp.
func (c *Client) FetchTransfersSince(ctx context.Context, token domain.Token, wallets []string, cursor int64, limit int) ([]explorer.TransferRecord, error) {
	contract, ok := c.cfg.ContractOf(token)
	if !ok {
		return nil, fmt.Errorf("tronscan: no contract configured for token %s", token)
	}

	var merged []explorer.TransferRecord
	for _, wallet := range wallets {
		entries, err := c.fetchTransfers(ctx, contract, wallet, limit)
		if err != nil {
			return nil, fmt.Errorf("tronscan: fetch transfers for %s: %w", wallet, err)
		}
		for _, e := range entries {
			tsSeconds := e.BlockTs / 1000
			if tsSeconds <= cursor {
				continue
			}
			value, ok := parseTronAmount(e.Amount)
			if !ok {
				obslog.Warn("tronscan: malformed amount, skipping row", "txn", e.TransactionID, "raw", e.Amount)
				continue
			}
			merged = append(merged, explorer.TransferRecord{
				FromAddress:    e.FromAddress,
				ToAddress:      e.ToAddress,
				TxnHash:        e.TransactionID,
				Value:          value,
				BlockTimestamp: time.Unix(tsSeconds, 0).UTC(),
			})
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].BlockTimestamp.Before(merged[j].BlockTimestamp) })
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (c *Client) fetchTransfers(ctx context.Context, contract, wallet string, limit int) ([]trc20TransferEntry, error) {
	q := url.Values{}
	q.Set("contract_address", contract)
	q.Set("relatedAddress", wallet)
	q.Set("sort", "block_ts")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	reqURL := c.cfg.BaseURL + "/api/token_trc20/transfers?" + q.Encode()

	body, err := c.getWithRetry(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	var resp trc20TransferResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode trc20 transfer response: %w", err)
	}
	return resp.Data, nil
}

// Confirmations reports the depth of a TRON transaction by reading its
// confirmed flag only; TronScan surfaces
// "confirmed" as a boolean rather than a depth, so an unconfirmed
// transaction reports 0 and a confirmed one reports the configured
// threshold (the confirmation pass only needs "at least K", not the exact
// depth, for TRON).
func (c *Client) Confirmations(ctx context.Context, txnHash string) (int, error) {
	q := url.Values{}
	q.Set("hash", txnHash)
	reqURL := c.cfg.BaseURL + "/api/transaction-info?" + q.Encode()

	body, err := c.getWithRetry(ctx, reqURL)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Confirmed bool `json:"confirmed"`
		Hash      string `json:"hash"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode transaction-info response: %w", err)
	}
	if resp.Hash == "" {
		return 0, explorer.ErrNotFound
	}
	if resp.Confirmed {
		return c.cfg.Confirmations, nil
	}
	return 0, nil
}

func (c *Client) getWithRetry(ctx context.Context, reqURL string) ([]byte, error) {
	op := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if c.cfg.APIKey != "" {
			req.Header.Set("TRON-PRO-API-KEY", c.cfg.APIKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("tronscan: %s returned %d", reqURL, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("tronscan: %s returned %d", reqURL, resp.StatusCode))
		}
		return body, nil
	}
	// WithMaxTries counts the first attempt, so 4 tries is 3 retries.
	return backoff.Retry(ctx, op, backoff.WithMaxTries(4), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}

func parseTronAmount(raw string) (domain.Decimal, bool) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return domain.Decimal{}, false
	}
	return domain.NewDecimalFromBaseUnits(n), true
}
