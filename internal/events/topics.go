package events

import "strings"

const (
	TopicUnits  = "goods.unit"
	TopicStock  = "goods.stock"
	TopicOrders = "goods.order"
)

// Topics lists every topic the engine publishes to.
func Topics() []string { return []string{TopicUnits, TopicStock, TopicOrders} }

// TopicFor routes an event type to its aggregate topic.
func TopicFor(eventType string) string {
	switch {
	case strings.HasPrefix(eventType, "unit."):
		return TopicUnits
	case strings.HasPrefix(eventType, "stock."):
		return TopicStock
	default:
		return TopicOrders
	}
}

// PartitionKey keeps all events of one aggregate in order.
func PartitionKey(correlationID string) []byte { return []byte(correlationID) }
