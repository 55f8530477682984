package domain_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
)

func TestOrderStatusCanTransitionTo(t *testing.T) {
	assert.True(t, domain.OrderPending.CanTransitionTo(domain.OrderPaid))
	assert.True(t, domain.OrderPending.CanTransitionTo(domain.OrderExpired))
	assert.True(t, domain.OrderPending.CanTransitionTo(domain.OrderCancelled))
	assert.False(t, domain.OrderPending.CanTransitionTo(domain.OrderPending))
}

func TestOrderStatusTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, terminal := range []domain.OrderStatus{domain.OrderPaid, domain.OrderExpired, domain.OrderCancelled} {
		for _, next := range []domain.OrderStatus{domain.OrderPending, domain.OrderPaid, domain.OrderExpired, domain.OrderCancelled} {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s should be illegal", terminal, next)
		}
	}
}

func TestOrderIDStringIsCanonicalUUID(t *testing.T) {
	raw := uuid.New()
	id := domain.OrderID(raw)
	assert.Equal(t, raw.String(), id.String())
}

func TestOrderExpiresAt(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	o := domain.Order{CreatedAt: created}
	assert.Equal(t, created.Add(time.Hour), o.ExpiresAt(time.Hour))
}
