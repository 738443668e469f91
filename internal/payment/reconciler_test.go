package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/bookbarn/checkout/internal/cart"
	"github.com/bookbarn/checkout/internal/checkout"
	"github.com/bookbarn/checkout/internal/checkout/checkouttest"
	"github.com/bookbarn/checkout/internal/payment"
)

// flakyStore fails the first n Begin calls to simulate a transient storage
// outage during reconciliation.
type flakyStore struct {
	checkout.Store
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) Begin(ctx context.Context) (checkout.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("storage hiccup")
	}
	return f.Store.Begin(ctx)
}

type staticCart struct {
	mu    sync.Mutex
	snaps map[int64]cart.Snapshot
}

func (f *staticCart) SnapshotForCheckout(ctx context.Context, userID int64) (cart.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[userID]
	if !ok {
		return cart.Snapshot{}, cart.ErrEmpty
	}
	return snap, nil
}

func (f *staticCart) Clear(ctx context.Context, userID int64) error { return nil }

// placeOrder runs a real checkout against the in-memory store so the
// reconciler tests start from the exact post-checkout state.
func placeOrder(t *testing.T, store *checkouttest.Store, userID, bookID int64, priceCents, qty int) *checkout.Order {
	t.Helper()
	carts := &staticCart{snaps: map[int64]cart.Snapshot{
		userID: {
			Lines: []cart.Line{{
				BookID:        bookID,
				Title:         "some book",
				PriceCents:    priceCents,
				Quantity:      qty,
				SubtotalCents: priceCents * qty,
			}},
			TotalCents: priceCents * qty,
		},
	}}
	svc := &checkout.Service{Store: store, Cart: carts}
	order, _, err := svc.CreateCheckout(context.Background(), userID, "CREDIT_CARD")
	if err != nil {
		t.Fatalf("placing order: %v", err)
	}
	return order
}

func TestHandle_Success(t *testing.T) {
	store := checkouttest.NewStore(checkout.Book{ID: 1, Title: "Dune", PriceCents: 1500, Stock: 5})
	order := placeOrder(t, store, 7, 1, 1500, 3)

	rec := &payment.Reconciler{Store: store}
	err := rec.Handle(context.Background(), payment.CallbackMessage{
		CheckoutReferenceNumber: order.ReferenceNumber,
		Status:                  payment.GatewaySuccess,
		PaymentReferenceNumber:  "PAY-123",
	})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	got, _ := store.Order(order.ReferenceNumber)
	if got.PaymentStatus != checkout.StatusPaid {
		t.Errorf("expected PAID, got %s", got.PaymentStatus)
	}
	if got.PaymentReference != "PAY-123" {
		t.Errorf("gateway reference not recorded: %q", got.PaymentReference)
	}

	// Success must not touch inventory; the decrement happened at checkout.
	b, _ := store.Book(1)
	if b.Stock != 2 || b.SoldCount != 3 {
		t.Errorf("inventory changed on success: stock=%d sold=%d", b.Stock, b.SoldCount)
	}
}

func TestHandle_SuccessRedelivery(t *testing.T) {
	store := checkouttest.NewStore(checkout.Book{ID: 1, Title: "Dune", PriceCents: 1500, Stock: 5})
	order := placeOrder(t, store, 7, 1, 1500, 3)

	rec := &payment.Reconciler{Store: store}
	msg := payment.CallbackMessage{
		CheckoutReferenceNumber: order.ReferenceNumber,
		Status:                  payment.GatewaySuccess,
		PaymentReferenceNumber:  "PAY-123",
	}
	for i := 0; i < 5; i++ {
		if err := rec.Handle(context.Background(), msg); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	b, _ := store.Book(1)
	if b.Stock != 2 || b.SoldCount != 3 {
		t.Errorf("redelivery changed inventory: stock=%d sold=%d", b.Stock, b.SoldCount)
	}
	got, _ := store.Order(order.ReferenceNumber)
	if got.PaymentStatus != checkout.StatusPaid {
		t.Errorf("expected PAID, got %s", got.PaymentStatus)
	}
}

func TestHandle_FailedCompensates(t *testing.T) {
	store := checkouttest.NewStore(checkout.Book{ID: 1, Title: "Dune", PriceCents: 1500, Stock: 5})
	order := placeOrder(t, store, 7, 1, 1500, 5)

	if b, _ := store.Book(1); b.Stock != 0 {
		t.Fatalf("precondition: stock should be 0, got %d", b.Stock)
	}

	rec := &payment.Reconciler{Store: store}
	err := rec.Handle(context.Background(), payment.CallbackMessage{
		CheckoutReferenceNumber: order.ReferenceNumber,
		Status:                  payment.GatewayFailed,
		PaymentReferenceNumber:  "PAY-456",
	})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	// Compensation nets the checkout decrement to zero.
	b, _ := store.Book(1)
	if b.Stock != 5 || b.SoldCount != 0 {
		t.Errorf("expected stock=5 sold=0 after compensation, got stock=%d sold=%d", b.Stock, b.SoldCount)
	}
	got, _ := store.Order(order.ReferenceNumber)
	if got.PaymentStatus != checkout.StatusFailed {
		t.Errorf("expected FAILED, got %s", got.PaymentStatus)
	}
}

func TestHandle_FailedRedeliveryCompensatesOnce(t *testing.T) {
	store := checkouttest.NewStore(checkout.Book{ID: 1, Title: "Dune", PriceCents: 1500, Stock: 5})
	order := placeOrder(t, store, 7, 1, 1500, 2)

	rec := &payment.Reconciler{Store: store}
	msg := payment.CallbackMessage{
		CheckoutReferenceNumber: order.ReferenceNumber,
		Status:                  payment.GatewayFailed,
		PaymentReferenceNumber:  "PAY-456",
	}
	for i := 0; i < 4; i++ {
		if err := rec.Handle(context.Background(), msg); err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
	}

	b, _ := store.Book(1)
	if b.Stock != 5 || b.SoldCount != 0 {
		t.Errorf("double compensation: stock=%d sold=%d", b.Stock, b.SoldCount)
	}
}

func TestHandle_PendingNoTransition(t *testing.T) {
	store := checkouttest.NewStore(checkout.Book{ID: 1, Title: "Dune", PriceCents: 1500, Stock: 5})
	order := placeOrder(t, store, 7, 1, 1500, 1)

	rec := &payment.Reconciler{Store: store}
	err := rec.Handle(context.Background(), payment.CallbackMessage{
		CheckoutReferenceNumber: order.ReferenceNumber,
		Status:                  payment.GatewayPending,
		PaymentReferenceNumber:  "PAY-789",
	})
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	got, _ := store.Order(order.ReferenceNumber)
	if got.PaymentStatus != checkout.StatusPending {
		t.Errorf("pending must not transition, got %s", got.PaymentStatus)
	}
	if got.PaymentReference != "PAY-789" {
		t.Errorf("gateway reference not recorded: %q", got.PaymentReference)
	}

	// A later terminal message still lands.
	err = rec.Handle(context.Background(), payment.CallbackMessage{
		CheckoutReferenceNumber: order.ReferenceNumber,
		Status:                  payment.GatewaySuccess,
		PaymentReferenceNumber:  "PAY-789",
	})
	if err != nil {
		t.Fatalf("terminal after pending failed: %v", err)
	}
	got, _ = store.Order(order.ReferenceNumber)
	if got.PaymentStatus != checkout.StatusPaid {
		t.Errorf("expected PAID after pending, got %s", got.PaymentStatus)
	}
}

func TestHandle_UnknownOrderIsFatal(t *testing.T) {
	store := checkouttest.NewStore()
	rec := &payment.Reconciler{Store: store}

	err := rec.Handle(context.Background(), payment.CallbackMessage{
		CheckoutReferenceNumber: "CHK-20250101000000-ABCDEF",
		Status:                  payment.GatewaySuccess,
		PaymentReferenceNumber:  "PAY-000",
	})
	if !errors.Is(err, checkout.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if !payment.Fatal(err) {
		t.Error("unknown order must be fatal, not retryable")
	}
}

func TestHandle_BadStatusIsFatal(t *testing.T) {
	store := checkouttest.NewStore(checkout.Book{ID: 1, Title: "Dune", PriceCents: 1500, Stock: 5})
	order := placeOrder(t, store, 7, 1, 1500, 1)

	rec := &payment.Reconciler{Store: store}
	err := rec.Handle(context.Background(), payment.CallbackMessage{
		CheckoutReferenceNumber: order.ReferenceNumber,
		Status:                  "refunded",
		PaymentReferenceNumber:  "PAY-000",
	})
	if !errors.Is(err, payment.ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}
	if !payment.Fatal(err) {
		t.Error("bad status must be fatal")
	}
	got, _ := store.Order(order.ReferenceNumber)
	if got.PaymentStatus != checkout.StatusPending {
		t.Errorf("bad status must not change the order, got %s", got.PaymentStatus)
	}
}

func TestHandleMessage_EnvelopeRoundTrip(t *testing.T) {
	store := checkouttest.NewStore(checkout.Book{ID: 1, Title: "Dune", PriceCents: 1500, Stock: 5})
	order := placeOrder(t, store, 7, 1, 1500, 1)

	payload, _ := json.Marshal(payment.CallbackMessage{
		CheckoutReferenceNumber: order.ReferenceNumber,
		Status:                  payment.GatewaySuccess,
		PaymentReferenceNumber:  "PAY-999",
	})
	env, _ := json.Marshal(payment.Envelope{
		EventID:       "ev-1",
		EventType:     payment.EventPaymentCallback,
		EventVersion:  1,
		CorrelationID: order.ReferenceNumber,
		Payload:       payload,
	})

	rec := &payment.Reconciler{Store: store, ServiceName: "test"}
	if err := rec.HandleMessage(context.Background(), kafkago.Message{Value: env}); err != nil {
		t.Fatalf("handle message failed: %v", err)
	}
	got, _ := store.Order(order.ReferenceNumber)
	if got.PaymentStatus != checkout.StatusPaid {
		t.Errorf("expected PAID, got %s", got.PaymentStatus)
	}

	// Foreign event types are ignored, not failed.
	other, _ := json.Marshal(payment.Envelope{EventType: "SomethingElse"})
	if err := rec.HandleMessage(context.Background(), kafkago.Message{Value: other}); err != nil {
		t.Errorf("foreign event must be ignored, got %v", err)
	}
}

func TestHandleMessage_TransientFailureStaysRetryable(t *testing.T) {
	store := checkouttest.NewStore(checkout.Book{ID: 1, Title: "Dune", PriceCents: 1500, Stock: 5})
	order := placeOrder(t, store, 7, 1, 1500, 3)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	flaky := &flakyStore{Store: store, failures: 1}
	rec := &payment.Reconciler{Store: flaky, Redis: rdb, ServiceName: "test"}

	payload, _ := json.Marshal(payment.CallbackMessage{
		CheckoutReferenceNumber: order.ReferenceNumber,
		Status:                  payment.GatewaySuccess,
		PaymentReferenceNumber:  "PAY-555",
	})
	env, _ := json.Marshal(payment.Envelope{
		EventID:       "ev-transient",
		EventType:     payment.EventPaymentCallback,
		EventVersion:  1,
		CorrelationID: order.ReferenceNumber,
		Payload:       payload,
	})
	m := kafkago.Message{Value: env}

	// First delivery hits the storage outage and must report failure.
	if err := rec.HandleMessage(context.Background(), m); err == nil {
		t.Fatal("expected the first delivery to fail")
	}
	if got, _ := store.Order(order.ReferenceNumber); got.PaymentStatus != checkout.StatusPending {
		t.Fatalf("failed attempt must leave the order PENDING, got %s", got.PaymentStatus)
	}

	// Redelivery of the same event must re-attempt for real: the failed
	// attempt may not have left a dedup marker behind.
	if err := rec.HandleMessage(context.Background(), m); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	got, _ := store.Order(order.ReferenceNumber)
	if got.PaymentStatus != checkout.StatusPaid {
		t.Fatalf("expected PAID after redelivery, got %s", got.PaymentStatus)
	}

	// The marker lands only now, and further deliveries short-circuit.
	if err := rec.HandleMessage(context.Background(), m); err != nil {
		t.Errorf("deduped delivery failed: %v", err)
	}
	b, _ := store.Book(1)
	if b.Stock != 2 || b.SoldCount != 3 {
		t.Errorf("inventory drifted: stock=%d sold=%d", b.Stock, b.SoldCount)
	}
}

func TestCallbackWireShape(t *testing.T) {
	// The gateway contract is fixed; these exact keys must appear.
	b, _ := json.Marshal(payment.CallbackMessage{
		CheckoutReferenceNumber: "CHK-20251009143025-A7B3F9",
		Status:                  "success",
		PaymentReferenceNumber:  "PAY-1234567890",
	})
	s := string(b)
	for _, key := range []string{`"checkoutReferenceNumber"`, `"status"`, `"paymentReferenceNumber"`} {
		if !strings.Contains(s, key) {
			t.Errorf("missing wire key %s in %s", key, s)
		}
	}
}
