package redisx

import "time"

const (
	// Checkout idempotency: idem:order:create:{store_id}:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Order summary cache: order_summary:{order_id} -> JSON body of GET /orders/{id}
	KeyOrderSummary = "order_summary:%s"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency  = 24 * time.Hour
	TTLSummaryCache = 5 * time.Minute
	TTLDedup        = 48 * time.Hour
)
