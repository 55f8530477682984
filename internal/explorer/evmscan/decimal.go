package evmscan

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/explorer"
)

// parseUint256Decimal parses an EtherScan "value" field, a base-10 string
// of a native uint256 Transfer-event amount, into a Decimal.
func parseUint256Decimal(raw string) (domain.Decimal, bool) {
	v, ok := uint256.FromDecimal(raw)
	if !ok {
		return domain.Decimal{}, false
	}
	return domain.NewDecimalFromUint256(v), true
}

func sortByBlockNumber(records []explorer.TransferRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].BlockNumber < records[j].BlockNumber
	})
}
