package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/bookbarn/checkout/internal/checkout"
	kafkax "github.com/bookbarn/checkout/internal/kafka"
	"github.com/bookbarn/checkout/internal/metrics"
	"github.com/bookbarn/checkout/internal/redisx"
)

// ErrBadStatus: the gateway sent a status outside its own contract.
// Retrying cannot fix the message, so it goes straight to the dead letter.
var ErrBadStatus = errors.New("unknown gateway status")

// Reconciler applies gateway callbacks to orders. It is an idempotent
// consumer: the order's terminal-state check runs before any side effect,
// under a row lock, so redelivered messages change nothing.
type Reconciler struct {
	Store       checkout.Store
	Redis       *redis.Client // optional dedup fast path
	ServiceName string
	Metrics     *metrics.Reconciler // optional
}

// HandleMessage adapts a queue delivery to Handle. Installed as the kafka
// consumer handler.
func (r *Reconciler) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType != EventPaymentCallback {
		return nil // not ours
	}

	// Dedup fast path only. The DB terminal-state check below is the
	// source of truth; a lost dedup key just means one redundant no-op.
	dkey := ""
	if r.Redis != nil && env.EventID != "" {
		dkey = fmt.Sprintf(redisx.KeyDedup, r.ServiceName, env.EventID)
		if exists, _ := redisx.Exists(ctx, r.Redis, dkey); exists {
			return nil
		}
	}

	msg, err := kafkax.UnwrapPayload[CallbackMessage](env.Payload)
	if err != nil {
		return err
	}
	if err := r.Handle(ctx, msg); err != nil {
		return err
	}

	// Mark only after success. A failed attempt must stay invisible to the
	// dedup check so redelivery re-attempts cleanly.
	if dkey != "" {
		_ = r.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	return nil
}

// Handle applies one callback. Safe to invoke more than once with the same
// message.
func (r *Reconciler) Handle(ctx context.Context, msg CallbackMessage) error {
	if !msg.ValidStatus() {
		return fmt.Errorf("%w: %q", ErrBadStatus, msg.Status)
	}

	tx, err := r.Store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reconcile tx: %w", err)
	}
	defer tx.Rollback(ctx)

	order, lines, err := tx.OrderForUpdate(ctx, msg.CheckoutReferenceNumber)
	if err != nil {
		return err // ErrOrderNotFound is fatal for the caller
	}

	// Idempotent short-circuit: a settled order never moves again and its
	// stock effects are never re-applied.
	if order.PaymentStatus.Terminal() {
		log.Printf("reconcile %s: already %s, skipping", order.ReferenceNumber, order.PaymentStatus)
		r.count("duplicate")
		return nil
	}

	switch msg.Status {
	case GatewayFailed:
		// Compensate the optimistic decrement from checkout time.
		for _, l := range lines {
			if err := tx.AdjustStock(ctx, l.BookID, l.Quantity, -l.Quantity); err != nil {
				return err
			}
		}
		if err := tx.SetPaymentResult(ctx, order.ID, checkout.StatusFailed, msg.PaymentReferenceNumber); err != nil {
			return err
		}

	case GatewaySuccess:
		// Stock was already taken at checkout; only the status moves.
		if err := tx.SetPaymentResult(ctx, order.ID, checkout.StatusPaid, msg.PaymentReferenceNumber); err != nil {
			return err
		}

	case GatewayPending:
		// No transition. Record the gateway reference; a later terminal
		// message supersedes this one.
		if err := tx.SetPaymentResult(ctx, order.ID, checkout.StatusPending, msg.PaymentReferenceNumber); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	r.count(msg.Status)
	r.cacheStatus(ctx, msg)
	log.Printf("reconcile %s: gateway=%s", msg.CheckoutReferenceNumber, msg.Status)
	return nil
}

// Fatal reports errors that redelivery cannot fix; the consumer dead-letters
// these without retrying.
func Fatal(err error) bool {
	return errors.Is(err, checkout.ErrOrderNotFound) || errors.Is(err, ErrBadStatus)
}

func (r *Reconciler) count(outcome string) {
	if r.Metrics != nil {
		r.Metrics.Outcomes.WithLabelValues(outcome).Inc()
	}
}

func (r *Reconciler) cacheStatus(ctx context.Context, msg CallbackMessage) {
	if r.Redis == nil {
		return
	}
	status := checkout.StatusPending
	switch msg.Status {
	case GatewaySuccess:
		status = checkout.StatusPaid
	case GatewayFailed:
		status = checkout.StatusFailed
	}
	key := fmt.Sprintf(redisx.KeyCheckoutStatus, msg.CheckoutReferenceNumber)
	body, _ := json.Marshal(map[string]any{"payment_status": status})
	_ = r.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
}
