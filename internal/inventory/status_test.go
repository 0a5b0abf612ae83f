package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitTransitions(t *testing.T) {
	cases := []struct {
		name    string
		from    UnitStatus
		trigger UnitTrigger
		to      UnitStatus
		ok      bool
	}{
		{"dispatch from factory", UnitInFactory, TriggerDispatch, UnitAtSeller, true},
		{"dispatch twice", UnitAtSeller, TriggerDispatch, "", false},
		{"checkout at seller", UnitAtSeller, TriggerCheckout, UnitSoldToBuyer, true},
		{"checkout returned unit", UnitReturnedToSeller, TriggerCheckout, UnitSoldToBuyer, true},
		{"checkout from factory", UnitInFactory, TriggerCheckout, "", false},
		{"cancel sold", UnitSoldToBuyer, TriggerCancel, UnitAtSeller, true},
		{"cancel unsold", UnitAtSeller, TriggerCancel, "", false},
		{"return request", UnitSoldToBuyer, TriggerReturnRequest, UnitReturnRequested, true},
		{"return accept", UnitReturnRequested, TriggerReturnAccept, UnitReturnedToSeller, true},
		{"return decline", UnitReturnRequested, TriggerReturnDecline, UnitSoldToBuyer, true},
		{"defective at seller", UnitAtSeller, TriggerMarkDefective, UnitReturnedDefective, true},
		{"defective after return", UnitReturnedToSeller, TriggerMarkDefective, UnitReturnedDefective, true},
		{"defective while sold", UnitSoldToBuyer, TriggerMarkDefective, "", false},
		{"defective is terminal", UnitReturnedDefective, TriggerDispatch, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			u := ProductUnit{ID: "u1", Status: tc.from}
			err := Transition(&u, tc.trigger)

			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.to, u.Status)
				return
			}

			var sc *StateConflictError
			require.ErrorAs(t, err, &sc)
			assert.Equal(t, string(tc.from), sc.From)
			assert.Equal(t, tc.from, u.Status, "a rejected transition must not move the unit")
		})
	}
}

func TestDeletable(t *testing.T) {
	assert.True(t, Deletable(UnitInFactory))
	assert.True(t, Deletable(UnitReturnedDefective))
	assert.False(t, Deletable(UnitAtSeller))
	assert.False(t, Deletable(UnitSoldToBuyer))
	assert.False(t, Deletable(UnitReturnedToSeller))
}

func TestOrderTransitions(t *testing.T) {
	assert.True(t, CanOrderTransition(OrderAwaitingConfirmation, OrderConfirmed))
	assert.True(t, CanOrderTransition(OrderConfirmed, OrderDelivered))
	assert.True(t, CanOrderTransition(OrderDelivered, OrderReturnRequested))
	assert.True(t, CanOrderTransition(OrderReturnRequested, OrderReturned))
	assert.True(t, CanOrderTransition(OrderReturnRequested, OrderDelivered))

	assert.False(t, CanOrderTransition(OrderAwaitingConfirmation, OrderDelivered))
	assert.False(t, CanOrderTransition(OrderReturned, OrderDelivered))
	assert.False(t, CanOrderTransition(OrderDelivered, OrderConfirmed))
}

func TestOrderCancellable(t *testing.T) {
	assert.True(t, OrderCancellable(OrderAwaitingConfirmation))
	assert.True(t, OrderCancellable(OrderConfirmed))
	assert.False(t, OrderCancellable(OrderDelivered))
	assert.False(t, OrderCancellable(OrderReturnRequested))
	assert.False(t, OrderCancellable(OrderReturned))
}
