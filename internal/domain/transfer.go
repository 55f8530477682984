package domain

import "time"

// TransferStatus tracks a transfer through confirmation and matching.
type TransferStatus string

const (
	TransferWaitingForConfirmation TransferStatus = "waiting_for_confirmation"
	TransferFailedToConfirm        TransferStatus = "failed_to_confirm"
	TransferWaitingForMatch        TransferStatus = "waiting_for_match"
	TransferNoMatchedDeposit       TransferStatus = "no_matched_deposit"
	TransferMatched                TransferStatus = "matched"
)

// Transfer is an on-chain token movement ingested from a blockchain
// explorer. Transfers are never deleted.
type Transfer struct {
	ID                  int64
	Token               Token
	Network             Network
	FromAddress         string
	ToAddress           string
	TxnHash             string
	Value               Decimal
	BlockNumber         uint64 // EVM cursor field
	BlockTimestamp      time.Time
	BlockchainConfirmed bool
	Status              TransferStatus
	FulfillmentID       *int64 // nullable FK to PendingDeposit.id
	CreatedAt           time.Time
}

func (t Transfer) Pair() Pair {
	return Pair{Network: t.Network, Token: t.Token}
}

// CursorPosition is the block_number for EVM networks and the unix
// timestamp of block_timestamp for TRON, per spec.md §3/§6.
func (t Transfer) CursorPosition() int64 {
	if t.Network.IsTron() {
		return t.BlockTimestamp.Unix()
	}
	return int64(t.BlockNumber)
}

// MatchesDeposit evaluates spec.md §4.4 rules 1-3 and 5 (rule 4, the time
// window, is PendingDeposit.MatchWindowContains since it needs order_ttl).
func (t Transfer) MatchesDeposit(d PendingDeposit) bool {
	if t.ToAddress != d.WalletAddress {
		return false
	}
	if t.Token != d.Token || t.Network != d.Network {
		return false
	}
	if !t.Value.GreaterOrEqual(d.ExpectedValue) {
		return false
	}
	if d.HasUserAddress() && t.FromAddress != d.UserAddress {
		return false
	}
	return true
}
