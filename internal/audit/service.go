// Package audit records every domain event into the durable audit trail and
// keeps the hot-status caches warm. It is the consumer side of the engine's
// event feed.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/supplytrace/go-supplytrace/internal/events"
	"github.com/supplytrace/go-supplytrace/internal/inventory"
	kafkax "github.com/supplytrace/go-supplytrace/internal/kafka"
	"github.com/supplytrace/go-supplytrace/internal/redisx"
)

type Service struct {
	Store       inventory.Store
	Redis       *redis.Client
	ServiceName string
}

// HandleEvent is wired as the consumer handler for every engine topic.
// Processing is idempotent: redis dedup first, then an insert that ignores
// replays.
func (s *Service) HandleEvent(ctx context.Context, m kafkago.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		// malformed message, committing is the only sane move
		log.Error().Err(err).Msg("drop malformed event")
		return nil
	}

	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
		if first, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup); err == nil && !first {
			return nil
		}
	}

	err := s.Store.Update(ctx, func(tx inventory.Tx) error {
		if seen, err := tx.AuditRecordExists(env.EventID); err != nil || seen {
			return err
		}
		return tx.InsertAuditRecord(&inventory.AuditRecord{
			EventID:       env.EventID,
			EventType:     env.EventType,
			CorrelationID: env.CorrelationID,
			Producer:      env.Producer,
			OccurredAt:    env.OccurredAt,
			Payload:       env.Payload,
		})
	})
	if err != nil {
		return err
	}

	if strings.HasPrefix(env.EventType, "order.") {
		s.invalidateOrderCache(ctx, env)
	}
	return nil
}

type orderRef struct {
	OrderID string `json:"order_id"`
}

// invalidateOrderCache drops the cached order record; every order event
// makes it stale, and the next read repopulates it.
func (s *Service) invalidateOrderCache(ctx context.Context, env events.Envelope) {
	if s.Redis == nil {
		return
	}
	p, err := kafkax.UnwrapPayload[orderRef](env.Payload)
	if err != nil || p.OrderID == "" {
		return
	}
	_ = s.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrder, p.OrderID)).Err()
}
