package redisx

import "time"

const (
	// Idempotent checkout: idem:checkout:{key} -> first committed order ids (JSON)
	KeyIdemCheckout = "idem:checkout:%s"

	// Order record cache: order:{order_id} -> serialized order; dropped by
	// the auditor whenever an order event lands.
	KeyOrder = "order:%s"

	// Unit status cache: unit_status:{serial} -> {"status": "..."}
	KeyUnitStatus = "unit_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
