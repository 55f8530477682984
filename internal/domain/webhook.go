package domain

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// WebhookEventKind is the event the merchant's endpoint is notified of.
type WebhookEventKind string

const (
	WebhookOrderStatusChanged WebhookEventKind = "OrderStatusChanged"
	WebhookUnknownPayment    WebhookEventKind = "UnknownPayment"
)

// WebhookState is the per-event delivery state machine: queued ->
// in_flight -> {success, retry_pending} -> ... -> dead after 12 attempts.
type WebhookState string

const (
	WebhookQueued       WebhookState = "queued"
	WebhookInFlight     WebhookState = "in_flight"
	WebhookSuccess      WebhookState = "success"
	WebhookRetryPending WebhookState = "retry_pending"
	WebhookDead         WebhookState = "dead"
)

// MaxWebhookAttempts caps webhook_retry_count at 12 (invariant 4, spec.md §3).
const MaxWebhookAttempts = 12

// WebhookEvent is one row of the webhook_outbox table. OrderID is the zero
// value for UnknownPayment events, which have no matching order to point
// at; Detail then carries whatever the payload needs instead (an
// OrderStatusChanged event leaves Detail empty and re-reads the order at
// send time).
type WebhookEvent struct {
	ID            int64
	OrderID       OrderID
	HasOrder      bool
	Kind          WebhookEventKind
	EventID       string // monotonically stable, part of the merchant dedupe key
	PayloadHash   string
	Detail        map[string]any
	CreatedAt     time.Time
	RetryCount    int
	NextAttemptAt time.Time
	LastError     string
	State         WebhookState
}

// RetryDelay is 2^min(retry_count,11) seconds, per spec.md §4.5. The
// schedule is a fixed function of the persisted retry_count rather than an
// in-process jittered backoff (the spec pins exact retry timestamps in
// its scenario §8.5), so it is expressed over backoff.BackOff's single
// NextBackOff call rather than a running sequence.
func RetryDelay(retryCount int) time.Duration {
	return (&fixedWebhookBackOff{attempt: retryCount}).NextBackOff()
}

// fixedWebhookBackOff implements backoff.BackOff over the fixed schedule.
type fixedWebhookBackOff struct{ attempt int }

func (b *fixedWebhookBackOff) NextBackOff() time.Duration {
	n := b.attempt
	if n > 11 {
		n = 11
	}
	return (1 << uint(n)) * time.Second
}

var _ backoff.BackOff = (*fixedWebhookBackOff)(nil)

// WebhookPayload is the JSON wire body, per spec.md §6.
type WebhookPayload struct {
	EventID         string           `json:"event_id"`
	EventKind       WebhookEventKind `json:"event_kind"`
	OrderID         string           `json:"order_id"`
	MerchantOrderID string           `json:"merchant_order_id"`
	Status          OrderStatus      `json:"status"`
	Timestamp       time.Time        `json:"timestamp"`
	Detail          map[string]any   `json:"detail,omitempty"`
}
