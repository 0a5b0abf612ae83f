package audit_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplytrace/go-supplytrace/internal/audit"
	"github.com/supplytrace/go-supplytrace/internal/events"
	"github.com/supplytrace/go-supplytrace/internal/inventory"
	"github.com/supplytrace/go-supplytrace/internal/store/memory"
)

func message(t *testing.T, env events.Envelope) kafkago.Message {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Value: b}
}

func recorded(t *testing.T, store *memory.Store, eventID string) bool {
	t.Helper()
	var seen bool
	err := store.View(context.Background(), func(tx inventory.Tx) error {
		var err error
		seen, err = tx.AuditRecordExists(eventID)
		return err
	})
	require.NoError(t, err)
	return seen
}

func TestHandleEventRecordsOnce(t *testing.T) {
	store := memory.New(100000, 99999999)
	svc := &audit.Service{Store: store, ServiceName: "goods-engine-auditor"}
	ctx := context.Background()

	env := events.Envelope{
		EventID:       uuid.NewString(),
		EventType:     events.EventUnitProduced,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      "goods-engine",
		CorrelationID: uuid.NewString(),
		Payload:       json.RawMessage(`{"unit_ids":["u1"]}`),
	}
	m := message(t, env)

	require.NoError(t, svc.HandleEvent(ctx, m))
	assert.True(t, recorded(t, store, env.EventID))

	// redelivery of the same event id is absorbed
	require.NoError(t, svc.HandleEvent(ctx, m))
	assert.True(t, recorded(t, store, env.EventID))
}

func TestHandleEventDropsMalformed(t *testing.T) {
	store := memory.New(100000, 99999999)
	svc := &audit.Service{Store: store, ServiceName: "goods-engine-auditor"}

	err := svc.HandleEvent(context.Background(), kafkago.Message{Value: []byte("not json")})

	require.NoError(t, err, "a poison message must be committed, not retried forever")
}

func TestHandleEventOrderPayload(t *testing.T) {
	store := memory.New(100000, 99999999)
	svc := &audit.Service{Store: store, ServiceName: "goods-engine-auditor"}

	env := events.Envelope{
		EventID:       uuid.NewString(),
		EventType:     events.EventOrderConfirmed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      "goods-engine",
		CorrelationID: "order-1",
		Payload:       json.RawMessage(`{"order_id":"order-1","status":"CONFIRMED"}`),
	}

	require.NoError(t, svc.HandleEvent(context.Background(), message(t, env)))
	assert.True(t, recorded(t, store, env.EventID))
}
