package inventory

type UnitStatus string

const (
	UnitInFactory         UnitStatus = "IN_FACTORY"
	UnitInTransitToSeller UnitStatus = "IN_TRANSIT_TO_SELLER"
	UnitAtSeller          UnitStatus = "AT_SELLER"
	UnitSoldToBuyer       UnitStatus = "SOLD_TO_BUYER"
	UnitReturnRequested   UnitStatus = "RETURN_REQUESTED"
	UnitReturnedToSeller  UnitStatus = "RETURNED_TO_SELLER"
	UnitReturnedDefective UnitStatus = "RETURNED_DEFECTIVE" // terminal, back at producer
)

// UnitTrigger names a lifecycle transition cause. Each trigger has a fixed
// set of allowed source states and a single destination.
type UnitTrigger string

const (
	TriggerDispatch      UnitTrigger = "dispatch"
	TriggerCheckout      UnitTrigger = "checkout"
	TriggerCancel        UnitTrigger = "cancel"
	TriggerReturnRequest UnitTrigger = "return_request"
	TriggerReturnAccept  UnitTrigger = "return_accept"
	TriggerReturnDecline UnitTrigger = "return_decline"
	TriggerMarkDefective UnitTrigger = "mark_defective"
)

type unitTransition struct {
	from map[UnitStatus]bool
	to   UnitStatus
}

var unitTransitions = map[UnitTrigger]unitTransition{
	TriggerDispatch:      {from: set(UnitInFactory), to: UnitAtSeller},
	TriggerCheckout:      {from: set(UnitAtSeller, UnitReturnedToSeller), to: UnitSoldToBuyer},
	TriggerCancel:        {from: set(UnitSoldToBuyer), to: UnitAtSeller},
	TriggerReturnRequest: {from: set(UnitSoldToBuyer), to: UnitReturnRequested},
	TriggerReturnAccept:  {from: set(UnitReturnRequested), to: UnitReturnedToSeller},
	TriggerReturnDecline: {from: set(UnitReturnRequested), to: UnitSoldToBuyer},
	TriggerMarkDefective: {from: set(UnitAtSeller, UnitReturnedToSeller), to: UnitReturnedDefective},
}

// deletableStates: a unit may only be removed before entering circulation or
// after coming back defective. Deletion reclaims the serial number.
var deletableStates = set(UnitInFactory, UnitReturnedDefective)

func set(ss ...UnitStatus) map[UnitStatus]bool {
	m := make(map[UnitStatus]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

// CanTransition reports whether trigger is legal from the given state.
func CanTransition(trigger UnitTrigger, from UnitStatus) bool {
	t, ok := unitTransitions[trigger]
	return ok && t.from[from]
}

// Transition applies trigger to the unit's status. An illegal transition is
// rejected with a StateConflictError and the unit is left untouched.
func Transition(u *ProductUnit, trigger UnitTrigger) error {
	t, ok := unitTransitions[trigger]
	if !ok || !t.from[u.Status] {
		return &StateConflictError{Entity: "unit", ID: u.ID, From: string(u.Status), Attempted: string(trigger)}
	}
	u.Status = t.to
	return nil
}

// Deletable reports whether the unit may be removed (and its serial reclaimed).
func Deletable(s UnitStatus) bool { return deletableStates[s] }

type OrderStatus string

const (
	OrderAwaitingConfirmation OrderStatus = "AWAITING_CONFIRMATION"
	OrderConfirmed            OrderStatus = "CONFIRMED"
	OrderDelivered            OrderStatus = "DELIVERED"
	OrderReturnRequested      OrderStatus = "RETURN_REQUESTED"
	OrderReturned             OrderStatus = "RETURNED"
)

var orderNext = map[OrderStatus]map[OrderStatus]bool{
	OrderAwaitingConfirmation: {OrderConfirmed: true},
	OrderConfirmed:            {OrderDelivered: true},
	OrderDelivered:            {OrderReturnRequested: true},
	OrderReturnRequested:      {OrderReturned: true, OrderDelivered: true},
	OrderReturned:             {},
}

// Cancellation deletes the order row instead of moving it to a state.
var orderCancellable = map[OrderStatus]bool{
	OrderAwaitingConfirmation: true,
	OrderConfirmed:            true,
}

func CanOrderTransition(from, to OrderStatus) bool { return orderNext[from][to] }

func OrderCancellable(s OrderStatus) bool { return orderCancellable[s] }
