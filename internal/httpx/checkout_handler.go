package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/bookbarn/checkout/internal/cart"
	"github.com/bookbarn/checkout/internal/checkout"
	kafkax "github.com/bookbarn/checkout/internal/kafka"
	"github.com/bookbarn/checkout/internal/metrics"
	"github.com/bookbarn/checkout/internal/payment"
	"github.com/bookbarn/checkout/internal/redisx"
)

type CheckoutHandler struct {
	Service  *checkout.Service
	Producer *kafkax.Producer // payment.callback topic
	Redis    *redis.Client
	Name     string // producer name stamped on envelopes
	Metrics  *metrics.Checkout
}

type CreateCheckoutReq struct {
	UserID        int64  `json:"user_id"`
	PaymentMethod string `json:"payment_method"`
}

type CheckoutResp struct {
	Order *checkout.Order      `json:"order"`
	Lines []checkout.OrderLine `json:"lines"`
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.createCheckout)
	r.Get("/checkouts", h.listCheckouts)
	r.Get("/checkouts/{reference}", h.getCheckout)
	r.Get("/checkouts/{reference}/status", h.getStatus)
	r.Post("/payment/callback", h.paymentCallback)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (h *CheckoutHandler) createCheckout(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}
	if !checkout.PaymentMethods[req.PaymentMethod] {
		writeError(w, http.StatusBadRequest, "payment_method must be one of: CREDIT_CARD, BANK_TRANSFER, E_WALLET, CASH")
		return
	}

	start := time.Now()
	order, lines, err := h.Service.CreateCheckout(r.Context(), req.UserID, req.PaymentMethod)
	if h.Metrics != nil {
		h.Metrics.Duration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		h.observe("error")
		switch {
		case errors.Is(err, cart.ErrEmpty):
			writeError(w, http.StatusBadRequest, "cart is empty")
		case checkout.IsBusinessError(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, checkout.ErrConflict):
			// Nothing committed; the client may retry the whole checkout.
			writeError(w, http.StatusConflict, "checkout conflicted with another purchase, retry")
		default:
			writeError(w, http.StatusInternalServerError, "checkout failed")
		}
		return
	}
	h.observe("success")

	// Warm the status cache so the first poll skips the DB.
	key := fmt.Sprintf(redisx.KeyCheckoutStatus, order.ReferenceNumber)
	body, _ := json.Marshal(map[string]any{"payment_status": order.PaymentStatus})
	_ = h.Redis.Set(r.Context(), key, body, redisx.TTLStatusCache).Err()

	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Checkout created successfully. Please proceed with payment.",
		"data":    CheckoutResp{Order: order, Lines: lines},
	})
}

// paymentCallback only enqueues; settlement happens in the reconciler
// worker. The gateway gets its ack as soon as the message is accepted.
func (h *CheckoutHandler) paymentCallback(w http.ResponseWriter, r *http.Request) {
	var msg payment.CallbackMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if msg.CheckoutReferenceNumber == "" || msg.PaymentReferenceNumber == "" {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}
	if !msg.ValidStatus() {
		writeError(w, http.StatusBadRequest, "status must be one of: success, failed, pending")
		return
	}

	env := payment.Envelope{
		EventID:       uuid.NewString(),
		EventType:     payment.EventPaymentCallback,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Name,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: msg.CheckoutReferenceNumber,
		Payload:       kafkax.MustMarshal(msg),
	}
	h.Producer.Publish(payment.PartitionKey(msg.CheckoutReferenceNumber), kafkax.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(payment.EventPaymentCallback)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "Payment callback received and queued for processing",
		"data": map[string]string{
			"checkoutReferenceNumber": msg.CheckoutReferenceNumber,
			"status":                  "queued",
		},
	})
}

func (h *CheckoutHandler) listCheckouts(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orders, total, err := h.Service.ListUserCheckouts(ctx, userID, page, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkouts": orders,
		"total":     total,
	})
}

func (h *CheckoutHandler) getCheckout(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	order, lines, err := h.Service.GetByReference(ctx, ref)
	if errors.Is(err, checkout.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, CheckoutResp{Order: order, Lines: lines})
}

func (h *CheckoutHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first, DB on miss
	key := fmt.Sprintf(redisx.KeyCheckoutStatus, ref)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	order, _, err := h.Service.GetByReference(ctx, ref)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	body, _ := json.Marshal(map[string]any{"payment_status": order.PaymentStatus})
	_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *CheckoutHandler) observe(result string) {
	if h.Metrics != nil {
		h.Metrics.Results.WithLabelValues(result).Inc()
	}
}
