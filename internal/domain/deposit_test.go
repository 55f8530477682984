package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

func TestPendingDepositExpiredBoundary(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := domain.PendingDeposit{StartedAt: start}
	ttl := time.Hour

	assert.False(t, d.Expired(start.Add(ttl-time.Nanosecond), ttl), "one tick before the boundary must not be expired")
	assert.True(t, d.Expired(start.Add(ttl), ttl), "exactly at the boundary must be expired")
	assert.True(t, d.Expired(start.Add(ttl+time.Nanosecond), ttl))
}

func TestPendingDepositMatchWindowContainsIsClosedOnBothEnds(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := domain.PendingDeposit{StartedAt: start}
	ttl := time.Hour

	assert.True(t, d.MatchWindowContains(start, ttl), "the starting instant itself must be inside the window")
	assert.True(t, d.MatchWindowContains(start.Add(ttl), ttl), "the closing instant itself must still be inside the window")
	assert.False(t, d.MatchWindowContains(start.Add(-time.Nanosecond), ttl))
	assert.False(t, d.MatchWindowContains(start.Add(ttl+time.Nanosecond), ttl))
}

func TestPendingDepositHasUserAddress(t *testing.T) {
	assert.False(t, domain.PendingDeposit{}.HasUserAddress())
	assert.True(t, domain.PendingDeposit{UserAddress: "0xA"}.HasUserAddress())
}
