// Package evmscan implements explorer.Adapter against an EtherScan-family
// HTTP API (Etherscan, Polygonscan, Basescan, Arbiscan, Lineascan,
// Optimistic Etherscan, Snowtrace — one base URL per EVM network, same
// JSON shape), per spec.md §6B.
package evmscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/explorer"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
)

// Config is one EVM network's explorer endpoint.
type Config struct {
	Network    domain.Network
	BaseURL    string
	APIKey     string
	ContractOf func(domain.Token) (string, bool) // token -> ERC-20 contract address
	// RequestsPerSecond caps this client's own call rate; most
	// EtherScan-family free tiers allow 5/s.
	RequestsPerSecond float64
	Confirmations     int // K, default 12 per spec.md §4.3
}

// Client is one explorer.Adapter bound to a single EVM network.
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
		cfg.Confirmations = 12
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

type tokenTxResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type tokenTxEntry struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Hash            string `json:"hash"`
	Value           string `json:"value"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Confirmations   string `json:"confirmations"`
	ContractAddress string `json:"contractAddress"`
}

// FetchTransfersSince calls the tokentx action for token's one configured
// contract address, scoped to each of wallets, merges the
// results and keeps only rows with blockNumber > cursor, sorted ascending.
// EtherScan's tokentx endpoint is itself per-address, so one API call per
// wallet is issued and the 3-retry/jittered-backoff policy of spec.md §5
// wraps each call individually.
func (c *Client) FetchTransfersSince(ctx context.Context, token domain.Token, wallets []string, cursor int64, limit int) ([]explorer.TransferRecord, error) {
	contract, ok := c.cfg.ContractOf(token)
	if !ok {
		return nil, fmt.Errorf("evmscan: no contract configured for token %s on %s", token, c.cfg.Network)
	}

	var merged []explorer.TransferRecord
	for _, wallet := range wallets {
		entries, err := c.fetchTokenTx(ctx, contract, wallet, limit)
		if err != nil {
			return nil, fmt.Errorf("evmscan: fetch tokentx for %s: %w", wallet, err)
		}
		for _, e := range entries {
			blockNumber, err := strconv.ParseUint(e.BlockNumber, 10, 64)
			if err != nil {
				obslog.Warn("evmscan: malformed blockNumber, skipping row", "hash", e.Hash, "raw", e.BlockNumber)
				continue
			}
			if int64(blockNumber) <= cursor {
				continue
			}
			ts, err := strconv.ParseInt(e.TimeStamp, 10, 64)
			if err != nil {
				obslog.Warn("evmscan: malformed timeStamp, skipping row", "hash", e.Hash, "raw", e.TimeStamp)
				continue
			}
			value, ok := parseUint256Decimal(e.Value)
			if !ok {
				obslog.Warn("evmscan: malformed value, skipping row", "hash", e.Hash, "raw", e.Value)
				continue
			}
			merged = append(merged, explorer.TransferRecord{
				FromAddress:    e.From,
				ToAddress:      e.To,
				TxnHash:        e.Hash,
				Value:          value,
				BlockNumber:    blockNumber,
				BlockTimestamp: time.Unix(ts, 0).UTC(),
			})
		}
	}
	sortByBlockNumber(merged)
	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

func (c *Client) fetchTokenTx(ctx context.Context, contract, wallet string, limit int) ([]tokenTxEntry, error) {
	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "tokentx")
	q.Set("contractaddress", contract)
	q.Set("address", wallet)
	q.Set("sort", "asc")
	q.Set("apikey", c.cfg.APIKey)
	if limit > 0 {
		q.Set("offset", strconv.Itoa(limit))
		q.Set("page", "1")
	}
	reqURL := c.cfg.BaseURL + "?" + q.Encode()

	body, err := c.getWithRetry(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	var resp tokenTxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode tokentx response: %w", err)
	}
	if resp.Status == "0" && resp.Message != "No transactions found" {
		return nil, fmt.Errorf("evmscan error: %s", resp.Message)
	}
	var entries []tokenTxEntry
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &entries); err != nil {
			return nil, fmt.Errorf("decode tokentx result: %w", err)
		}
	}
	return entries, nil
}

// Confirmations re-queries a single transaction's receipt via the proxy
// module's eth_getTransactionReceipt action and derives a confirmation
// count as the current block height minus the receipt's block number,
// plus one.
func (c *Client) Confirmations(ctx context.Context, txnHash string) (int, error) {
	q := url.Values{}
	q.Set("module", "proxy")
	q.Set("action", "eth_getTransactionReceipt")
	q.Set("txhash", txnHash)
	q.Set("apikey", c.cfg.APIKey)
	reqURL := c.cfg.BaseURL + "?" + q.Encode()

	body, err := c.getWithRetry(ctx, reqURL)
	if err != nil {
		return 0, err
	}
	var receipt struct {
		Result *struct {
			BlockNumber string `json:"blockNumber"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &receipt); err != nil {
		return 0, fmt.Errorf("decode receipt response: %w", err)
	}
	if receipt.Result == nil {
		return 0, explorer.ErrNotFound
	}

	txBlock, err := strconv.ParseUint(receipt.Result.BlockNumber, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parse receipt blockNumber: %w", err)
	}
	head, err := c.latestBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if head < txBlock {
		return 0, nil
	}
	return int(head-txBlock) + 1, nil
}

func (c *Client) latestBlockNumber(ctx context.Context) (uint64, error) {
	q := url.Values{}
	q.Set("module", "proxy")
	q.Set("action", "eth_blockNumber")
	q.Set("apikey", c.cfg.APIKey)
	reqURL := c.cfg.BaseURL + "?" + q.Encode()

	body, err := c.getWithRetry(ctx, reqURL)
	if err != nil {
		return 0, err
	}
	var resp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode blockNumber response: %w", err)
	}
	n, err := strconv.ParseUint(resp.Result, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parse blockNumber: %w", err)
	}
	return n, nil
}

// getWithRetry issues a GET, rate-limited to this client's own quota, with
// the 3-retry jittered exponential backoff spec.md §5 specifies for
// explorer timeouts/5xx/rate-limit responses.
func (c *Client) getWithRetry(ctx context.Context, reqURL string) ([]byte, error) {
	op := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err // network error: retryable
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("evmscan: %s returned %d", reqURL, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, backoff.Permanent(fmt.Errorf("evmscan: %s returned %d", reqURL, resp.StatusCode))
		}
		return body, nil
	}
	// WithMaxTries counts the first attempt, so 4 tries is 3 retries.
	return backoff.Retry(ctx, op, backoff.WithMaxTries(4), backoff.WithBackOff(backoff.NewExponentialBackOff()))
}
