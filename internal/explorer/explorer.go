// Package explorer defines the outbound contract BlockchainSync polls
// through: one Adapter per chain family, hiding EtherScan-style and
// TronScan-style APIs behind the same two calls (spec.md §6).
package explorer

import (
	"context"
	"errors"
	"time"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

// ErrNotFound is returned by Confirmations when the explorer has never
// heard of the hash (not yet indexed, or the network rejected it).
var ErrNotFound = errors.New("explorer: transaction not found")

// TransferRecord is one on-chain Transfer event as reported by an
// explorer, before it is persisted. Records from the same call are
// ordered ascending on the cursor field: block_number for EVM, unix
// block_timestamp for TRON.
type TransferRecord struct {
	FromAddress    string
	ToAddress      string
	TxnHash        string
	Value          domain.Decimal
	BlockNumber    uint64
	BlockTimestamp time.Time
}

// Adapter is the plug-in contract of spec.md §6: one implementation per
// chain family (evmscan for the seven EVM networks, tronscan for TRON).
// BlockchainSync never talks HTTP directly.
type Adapter interface {
	// FetchTransfersSince returns every Transfer event moving token into
	// one of wallets, strictly after cursor, oldest first, capped at
	// limit. The explorer-side wallet filter is the only filtering the
	// server ever applies before persistence: non-wallet-matching
	// transfers are never requested, so they never need separate
	// "unknown payment" discovery from the adapter's side (spec.md §8's
	// unknown-payment case comes from a transfer whose to_address isn't
	// any deposit's wallet_address, not from an un-filtered explorer feed).
	FetchTransfersSince(ctx context.Context, token domain.Token, wallets []string, cursor int64, limit int) ([]TransferRecord, error)

	// Confirmations reports the current confirmation depth of txnHash, or
	// ErrNotFound if the explorer doesn't know about it yet.
	Confirmations(ctx context.Context, txnHash string) (int, error)
}
