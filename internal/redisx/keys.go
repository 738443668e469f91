package redisx

import "time"

const (
	// Cart snapshot owned by the cart component: cart:{user_id} -> JSON snapshot
	KeyCart = "cart:%d"

	// Payment status cache: checkout_status:{reference} -> {"payment_status":"..."}
	KeyCheckoutStatus = "checkout_status:%s"

	// Dedup for callback processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
