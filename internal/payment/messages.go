package payment

import (
	"encoding/json"
	"time"
)

const (
	// Topics for the callback queue and its dead-letter side channel.
	TopicCallback    = "payment.callback"
	TopicCallbackDLQ = "payment.callback.dlq"

	EventPaymentCallback = "PaymentCallbackReceived"
)

// Gateway statuses as the gateway sends them. Preserved bit-for-bit.
const (
	GatewaySuccess = "success"
	GatewayFailed  = "failed"
	GatewayPending = "pending"
)

// CallbackMessage is the inbound webhook body. Field names are part of the
// gateway contract and must not change.
type CallbackMessage struct {
	CheckoutReferenceNumber string `json:"checkoutReferenceNumber"`
	Status                  string `json:"status"`
	PaymentReferenceNumber  string `json:"paymentReferenceNumber"`
}

func (m CallbackMessage) ValidStatus() bool {
	switch m.Status {
	case GatewaySuccess, GatewayFailed, GatewayPending:
		return true
	}
	return false
}

// Envelope wraps queue payloads with delivery metadata. CorrelationID is
// the checkout reference, which is also the partition key.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func PartitionKey(ref string) []byte { return []byte(ref) }
