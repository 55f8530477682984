package domain

import "time"

// PendingDeposit is a (wallet, token, network) watch-slot attached to an
// order. It is destroyed the instant any sibling on the same order is
// fulfilled, or the order terminates.
type PendingDeposit struct {
	ID             int64
	OrderID        OrderID
	Token          Token
	Network        Network
	UserAddress    string // optional; empty means "any sender accepts"
	WalletAddress  string
	ExpectedValue  Decimal
	StartedAt      time.Time
	LastScannedAt  time.Time
}

func (d PendingDeposit) Pair() Pair {
	return Pair{Network: d.Network, Token: d.Token}
}

// Expired reports whether the deposit's window [StartedAt, StartedAt+ttl)
// has closed as of now. The window is closed on the lower bound and open
// on the upper bound per spec.md §8 boundary behavior: a deposit created
// exactly at the boundary is expired, one created one tick before is not.
func (d PendingDeposit) Expired(now time.Time, ttl time.Duration) bool {
	return !now.Before(d.StartedAt.Add(ttl))
}

// HasUserAddress reports whether the deposit restricts the sender.
func (d PendingDeposit) HasUserAddress() bool {
	return d.UserAddress != ""
}

// MatchWindowContains reports whether a transfer timestamp falls inside
// the deposit's matching window, closed on both ends per spec.md §4.4
// rule 4: [StartedAt, StartedAt+ttl]. This is deliberately inclusive on
// the upper bound, unlike Expired, which treats the same instant as
// already-expired for the separate periodic sweep — the two checks are
// allowed to overlap at the boundary instant.
func (d PendingDeposit) MatchWindowContains(t time.Time, ttl time.Duration) bool {
	end := d.StartedAt.Add(ttl)
	return !t.Before(d.StartedAt) && !t.After(end)
}
