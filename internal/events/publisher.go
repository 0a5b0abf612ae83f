package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/supplytrace/go-supplytrace/internal/kafka"
)

// KafkaPublisher fans engine events out to the per-aggregate topics. It
// satisfies inventory.Publisher; Publish never blocks the engine beyond the
// producer's buffered inbox.
type KafkaPublisher struct {
	service   string
	producers map[string]*kafkax.Producer // keyed by topic
}

func NewKafkaPublisher(service string, byTopic map[string]*kafkax.Producer) *KafkaPublisher {
	return &KafkaPublisher{service: service, producers: byTopic}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType, correlationID string, payload any) {
	prod, ok := p.producers[TopicFor(eventType)]
	if !ok {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      p.service,
		CorrelationID: correlationID,
		Payload:       kafkax.MustMarshal(payload),
	}
	prod.Publish(PartitionKey(correlationID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
