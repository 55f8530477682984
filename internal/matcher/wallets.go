package matcher

import (
	"sync"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

// WalletRegistry is the merchant wallet address book, grouped by
// (network, token). It backs chainsync.WalletLister (the explorer query's
// address filter). internal/app fills it once at startup with each
// enabled pair's configured merchant wallet; nothing updates it as
// deposits are created or evicted.
type WalletRegistry struct {
	mu     sync.RWMutex
	byPair map[domain.Pair]map[string]struct{}
}

func NewWalletRegistry() *WalletRegistry {
	return &WalletRegistry{byPair: make(map[domain.Pair]map[string]struct{})}
}

func (r *WalletRegistry) Add(pair domain.Pair, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byPair[pair]
	if !ok {
		set = make(map[string]struct{})
		r.byPair[pair] = set
	}
	set[address] = struct{}{}
}

func (r *WalletRegistry) Remove(pair domain.Pair, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.byPair[pair]; ok {
		delete(set, address)
	}
}

// WalletsFor implements chainsync.WalletLister.
func (r *WalletRegistry) WalletsFor(pair domain.Pair) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byPair[pair]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for addr := range set {
		out = append(out, addr)
	}
	return out
}

// IsKnown reports whether address is currently registered for pair. No
// caller in this module uses it.
func (r *WalletRegistry) IsKnown(pair domain.Pair, address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byPair[pair]
	if !ok {
		return false
	}
	_, ok = set[address]
	return ok
}
