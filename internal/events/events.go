// Package events defines the domain event wire format and the Kafka-backed
// publisher the engine services emit through.
package events

import (
	"encoding/json"
	"time"
)

const (
	EventUnitProduced   = "unit.produced"
	EventUnitDispatched = "unit.dispatched"
	EventUnitDefective  = "unit.defective"
	EventUnitDeleted    = "unit.deleted"

	EventStockGranted     = "stock.granted"
	EventStockTransferred = "stock.transferred"

	EventOrderCheckout        = "order.checkout"
	EventOrderConfirmed       = "order.confirmed"
	EventOrderDelivered       = "order.delivered"
	EventOrderCancelled       = "order.cancelled"
	EventOrderReturnRequested = "order.return_requested"
	EventOrderReturned        = "order.returned"
	EventOrderReturnDeclined  = "order.return_declined"
)

// Envelope wraps every event on the wire.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}
