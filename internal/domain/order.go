package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is total-ordered and monotonic: pending -> {paid, expired,
// cancelled}, all three terminal. There is no transition back to pending
// and no transition between the three terminal states.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderExpired   OrderStatus = "expired"
	OrderCancelled OrderStatus = "cancelled"
)

// CanTransitionTo reports whether moving from the receiver to next is a
// legal Order.status transition (invariant 5 of spec.md §3).
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == OrderPending {
		return next == OrderPaid || next == OrderExpired || next == OrderCancelled
	}
	return false // every other state is terminal
}

// OrderID is an opaque 128-bit identifier, stored as its raw 16 bytes.
type OrderID [16]byte

// String renders the canonical UUID form, used in webhook payloads and
// admin API responses.
func (id OrderID) String() string {
	return uuid.UUID(id).String()
}

// Order is a merchant-initiated request to receive a specific stablecoin
// amount.
type Order struct {
	ID               OrderID
	MerchantOrderID  string
	Amount           Decimal
	Token            Token
	Status           OrderStatus
	CreatedAt        time.Time
	WebhookURL       string
	WebhookRetries   int
	WebhookLastTried *time.Time
	WebhookSuccessAt *time.Time
}

// ExpiresAt is created_at + order_ttl. The expiry sweep (run by
// internal/matcher through the store) treats now >= ExpiresAt as expired,
// so the instant ExpiresAt itself already counts as expired.
func (o Order) ExpiresAt(orderTTL time.Duration) time.Time {
	return o.CreatedAt.Add(orderTTL)
}
