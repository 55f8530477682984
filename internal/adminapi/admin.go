// Package adminapi exposes the admin control surface (spec.md §9B): manual
// webhook resend, pooling-status introspection, and a log-level setter.
// Method shape (func(*http.Request, *Args, *Reply) error) mirrors
// _examples/luxfi-evm/plugin/evm/admin.go, meant to be mounted by
// github.com/gorilla/rpc; this package only owns the plain Go service
// object, not the HTTP listener (out of scope per SPEC_FULL.md §1).
package adminapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/haruki-nikaidou/open-crypto-checkout/internal/domain"
	"github.com/haruki-nikaidou/open-crypto-checkout/internal/obslog"
)

// EmptyReply mirrors the teacher's api.EmptyReply: a method that only
// reports success/failure via its error return has nothing else to fill in.
type EmptyReply struct{}

// Resender is the webhook collaborator the manual-resend operation needs.
type Resender interface {
	Resend(ctx context.Context, orderID domain.OrderID) (int64, error)
}

// PoolingStatusProvider reports the live schedule state PoolingManager is
// driving, for the admin pooling-status read.
type PoolingStatusProvider interface {
	Status() []PairStatus
}

// PairStatus is one (network, token) pair's current pooling state.
type PairStatus struct {
	Pair          domain.Pair
	Period        string
	ActiveCount   int
	Suspended     bool
}

// Admin is the RPC service object.
type Admin struct {
	webhooks Resender
	pooling  PoolingStatusProvider
}

func New(webhooks Resender, pooling PoolingStatusProvider) *Admin {
	return &Admin{webhooks: webhooks, pooling: pooling}
}

// ResendWebhookArgs names the order to resend a webhook for.
type ResendWebhookArgs struct {
	OrderID string // canonical UUID string form
}

type ResendWebhookReply struct {
	WebhookEventID int64
}

// ResendWebhook enqueues a fresh OrderStatusChanged webhook for an order,
// per spec.md §4.5's manual-resend operation.
func (a *Admin) ResendWebhook(r *http.Request, args *ResendWebhookArgs, reply *ResendWebhookReply) error {
	id, err := parseOrderID(args.OrderID)
	if err != nil {
		return err
	}
	obslog.Info("adminapi: ResendWebhook called", "order_id", args.OrderID)
	eventID, err := a.webhooks.Resend(r.Context(), id)
	if err != nil {
		return err
	}
	reply.WebhookEventID = eventID
	return nil
}

func parseOrderID(s string) (domain.OrderID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return domain.OrderID{}, fmt.Errorf("adminapi: invalid order_id %q: %w", s, err)
	}
	return domain.OrderID(u), nil
}

type PoolingStatusReply struct {
	Pairs []PairStatus
}

// PoolingStatus reports what period every enabled (network, token) pair is
// currently driving, for operator visibility into the adaptive schedule.
func (a *Admin) PoolingStatus(_ *http.Request, _ *struct{}, reply *PoolingStatusReply) error {
	reply.Pairs = a.pooling.Status()
	return nil
}

type SetLogLevelArgs struct {
	Level string // one of trace, debug, info, warn, error
}

// SetLogLevel adjusts the live logger's minimum level, unlike the teacher's
// own admin surface (whose SetLogLevel is a stub pending luxfi/log support
// for dynamic levels) — obslog's slog.LevelVar makes this a real operation
// here.
func (a *Admin) SetLogLevel(_ *http.Request, args *SetLogLevelArgs, _ *EmptyReply) error {
	lvl, err := parseLevel(args.Level)
	if err != nil {
		return err
	}
	obslog.SetLevel(lvl)
	obslog.Info("adminapi: SetLogLevel called", "level", args.Level)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "trace":
		return obslog.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("adminapi: unknown log level %q", s)
	}
}
