// Package webhook implements WebhookSender (spec.md §4.5): an outbox
// polling loop that signs and POSTs due webhook events, advancing each
// row through the {queued, in_flight, success, retry_pending, dead} state
// machine. Polling/drain shape mirrors
// _examples/luxfi-evm/plugin/evm/block_builder.go's ticker loop.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/clock"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/ocrchmetrics"
)

// Store is the persistence slice WebhookSender needs.
type Store interface {
	ListDueWebhooks(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error)
	MarkWebhookInFlight(ctx context.Context, id int64) error
	MarkWebhookResult(ctx context.Context, id int64, now time.Time, success bool, httpErr string) error
	GetOrder(ctx context.Context, id domain.OrderID) (domain.Order, error)
	EnqueueWebhook(ctx context.Context, ev domain.WebhookEvent) (int64, error)
}

// Config tunes the outbox loop.
type Config struct {
	PollInterval time.Duration // default 2s
	BatchLimit   int           // B, default 32 per spec.md §4.5
	HTTPTimeout  time.Duration // default 15s total per attempt, per spec.md §5
	Secret       []byte        // merchant_secret used for the HMAC

	// UnknownPaymentWebhookURL is where UnknownPayment events are
	// delivered, since those have no order to read a webhook_url from
	// (spec.md §3 only names webhook_url on Order). Left empty, such
	// events fail delivery permanently until configured.
	UnknownPaymentWebhookURL string
}

func DefaultConfig(secret []byte) Config {
	return Config{PollInterval: 2 * time.Second, BatchLimit: 32, HTTPTimeout: 15 * time.Second, Secret: secret}
}

// Sender is WebhookSender.
type Sender struct {
	store   Store
	clock   clock.Clock
	cfg     Config
	http    *http.Client
	metrics *ocrchmetrics.Registry
}

func New(s Store, clk clock.Clock, cfg Config, metrics *ocrchmetrics.Registry) *Sender {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 32
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 15 * time.Second
	}
	return &Sender{
		store:   s,
		clock:   clk,
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.HTTPTimeout},
		metrics: metrics,
	}
}

// Run polls the outbox on cfg.PollInterval until ctx is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	timer := s.clock.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C():
			s.drainDue(ctx)
			timer.Reset(s.cfg.PollInterval)
		}
	}
}

func (s *Sender) drainDue(ctx context.Context) {
	due, err := s.store.ListDueWebhooks(ctx, s.clock.Now(), s.cfg.BatchLimit)
	if err != nil {
		obslog.Warn("webhook: list due failed", "err", err)
		return
	}
	for _, ev := range due {
		s.deliver(ctx, ev)
	}
}

// deliver sends one event: mark in_flight, build and sign the payload,
// POST, record the outcome. Success is HTTP 200 only (spec.md §9 Open
// Question: the "500 OK" in an earlier draft is a typo for 200 OK).
func (s *Sender) deliver(ctx context.Context, ev domain.WebhookEvent) {
	if err := s.store.MarkWebhookInFlight(ctx, ev.ID); err != nil {
		obslog.Warn("webhook: mark in-flight failed", "id", ev.ID, "err", err)
		return
	}

	payload, destination, err := s.buildPayload(ctx, ev)
	if err != nil {
		s.finish(ctx, ev, false, err.Error())
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.finish(ctx, ev, false, fmt.Sprintf("encode payload: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		s.finish(ctx, ev, false, fmt.Sprintf("build request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocrch-Signature", sign(s.cfg.Secret, body))

	resp, err := s.http.Do(req)
	if err != nil {
		s.finish(ctx, ev, false, err.Error())
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		s.finish(ctx, ev, false, fmt.Sprintf("merchant endpoint returned %d", resp.StatusCode))
		return
	}
	s.finish(ctx, ev, true, "")
}

func (s *Sender) buildPayload(ctx context.Context, ev domain.WebhookEvent) (domain.WebhookPayload, string, error) {
	if !ev.HasOrder {
		payload := domain.WebhookPayload{
			EventID:   ev.EventID,
			EventKind: ev.Kind,
			Timestamp: s.clock.Now(),
			Detail:    ev.Detail,
		}
		if s.cfg.UnknownPaymentWebhookURL == "" {
			return payload, "", fmt.Errorf("webhook: no UnknownPaymentWebhookURL configured")
		}
		return payload, s.cfg.UnknownPaymentWebhookURL, nil
	}
	order, err := s.store.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return domain.WebhookPayload{}, "", fmt.Errorf("get order: %w", err)
	}
	payload := domain.WebhookPayload{
		EventID:         ev.EventID,
		EventKind:       ev.Kind,
		OrderID:         ev.OrderID.String(),
		MerchantOrderID: order.MerchantOrderID,
		Status:          order.Status,
		Timestamp:       s.clock.Now(),
		Detail:          ev.Detail,
	}
	return payload, order.WebhookURL, nil
}

func (s *Sender) finish(ctx context.Context, ev domain.WebhookEvent, success bool, httpErr string) {
	if err := s.store.MarkWebhookResult(ctx, ev.ID, s.clock.Now(), success, httpErr); err != nil {
		obslog.Warn("webhook: mark result failed", "id", ev.ID, "err", err)
	}
	if s.metrics == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	s.metrics.WebhookAttempts.With(map[string]string{"kind": string(ev.Kind), "outcome": outcome}).Inc()
	if !success && ev.RetryCount+1 >= domain.MaxWebhookAttempts {
		s.metrics.WebhookDead.With(map[string]string{"kind": string(ev.Kind)}).Inc()
	}
}

// sign returns hex(HMAC-SHA256(secret, body)), per spec.md §6.
func sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Resend implements the admin manual-resend operation (spec.md §4.5): it
// enqueues a fresh outbox row for the given order's current status,
// leaving delivery history untouched.
func (s *Sender) Resend(ctx context.Context, orderID domain.OrderID) (int64, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return 0, fmt.Errorf("webhook: resend get order: %w", err)
	}
	return s.store.EnqueueWebhook(ctx, domain.WebhookEvent{
		OrderID:  orderID,
		HasOrder: true,
		Kind:     domain.WebhookOrderStatusChanged,
		EventID:  uuid.NewString(),
		State:    domain.WebhookQueued,
	})
}
