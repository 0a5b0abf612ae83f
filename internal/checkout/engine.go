// Package checkout settles purchases against the inventory ledgers: the
// two-phase checkout, order fulfillment, cancellation, and returns.
package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/supplytrace/go-supplytrace/internal/inventory"
)

// Line is one requested item at checkout. SellerID may be empty; the
// product's producer is then the effective seller.
type Line struct {
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id,omitempty"`
	Qty       int    `json:"qty"`
}

// Engine orchestrates every operation that spans orders and ledgers. Each
// method runs inside a single Store.Update, so a failure anywhere leaves no
// partial writes.
type Engine struct {
	Store  inventory.Store
	Events inventory.Publisher
}

func (e *Engine) publish(ctx context.Context, eventType, correlationID string, payload any) {
	if e.Events != nil {
		e.Events.Publish(ctx, eventType, correlationID, payload)
	}
}

type OrderEventPayload struct {
	OrderID   string   `json:"order_id"`
	ProductID string   `json:"product_id"`
	SellerID  string   `json:"seller_id"`
	BuyerID   string   `json:"buyer_id"`
	Qty       int      `json:"qty"`
	Status    string   `json:"status"`
	UnitIDs   []string `json:"unit_ids,omitempty"`
}

func orderPayload(o *inventory.Order) OrderEventPayload {
	return OrderEventPayload{
		OrderID: o.ID, ProductID: o.ProductID, SellerID: o.SellerID,
		BuyerID: o.BuyerID, Qty: o.Qty, Status: string(o.Status), UnitIDs: o.UnitIDs,
	}
}

// plan is the execution recipe for one validated line.
type plan struct {
	product  *inventory.Product
	sellerID string
	units    []inventory.ProductUnit // first Qty eligible units, FIFO
	qty      int
}

// Checkout converts the buyer's requested lines into orders and reserved or
// decremented inventory, all-or-nothing. Validation runs to completion over
// every line before anything mutates; any shortfall aborts the whole
// checkout naming the short line. On commit the buyer's pending cart
// selections are cleared.
func (e *Engine) Checkout(ctx context.Context, buyerID string, lines []Line) ([]inventory.Order, error) {
	if buyerID == "" {
		return nil, &inventory.ValidationError{Reason: "buyer is required"}
	}
	if len(lines) == 0 {
		return nil, &inventory.ValidationError{Reason: "no line items"}
	}

	var created []inventory.Order
	err := e.Store.Update(ctx, func(tx inventory.Tx) error {
		// validation phase: resolve sellers and verify availability for
		// every line before touching anything. Lines repeating a
		// (product, seller) pair share one pool, so quantities already
		// promised to earlier lines are off the table.
		plans := make([]plan, 0, len(lines))
		claimed := make(map[string]int) // (product, seller) -> qty taken by earlier lines
		for i, ln := range lines {
			if ln.Qty <= 0 {
				return &inventory.ValidationError{Reason: "invalid quantity", LineIndex: i, ProductID: ln.ProductID, Requested: ln.Qty}
			}
			p, err := tx.Product(ln.ProductID)
			if err != nil {
				return err
			}
			seller := ln.SellerID
			if seller == "" {
				seller = p.ProducerID // legacy items without an explicit seller
			}
			key := p.ID + "/" + seller

			pl := plan{product: p, sellerID: seller, qty: ln.Qty}
			if p.Serialized {
				avail, err := tx.AvailableUnits(p.ID, seller)
				if err != nil {
					return err
				}
				free := avail[claimed[key]:]
				if len(free) < ln.Qty {
					return &inventory.ValidationError{
						Reason: "insufficient stock", LineIndex: i,
						ProductID: p.ID, Requested: ln.Qty, Available: len(free),
					}
				}
				pl.units = free[:ln.Qty]
			} else {
				avail := 0
				if bs, err := tx.BulkStock(p.ID, seller); err == nil {
					avail = bs.Quantity
				} else if !errors.Is(err, inventory.ErrNotFound) {
					return err
				}
				avail -= claimed[key]
				if avail < ln.Qty {
					return &inventory.ValidationError{
						Reason: "insufficient stock", LineIndex: i,
						ProductID: p.ID, Requested: ln.Qty, Available: avail,
					}
				}
			}
			claimed[key] += ln.Qty
			plans = append(plans, pl)
		}

		// execution phase: reserve units / decrement counters and create one
		// order per line.
		now := time.Now().UTC()
		created = make([]inventory.Order, 0, len(plans))
		for _, pl := range plans {
			o := inventory.Order{
				ID:        uuid.NewString(),
				ProductID: pl.product.ID,
				SellerID:  pl.sellerID,
				BuyerID:   buyerID,
				Qty:       pl.qty,
				Status:    inventory.OrderAwaitingConfirmation,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if pl.product.Serialized {
				for i := range pl.units {
					u := &pl.units[i]
					if err := inventory.Transition(u, inventory.TriggerCheckout); err != nil {
						return err
					}
					u.BuyerID = buyerID
					u.SoldAt = &now
					if err := tx.UpdateUnit(u); err != nil {
						return err
					}
					o.UnitIDs = append(o.UnitIDs, u.ID)
				}
			} else {
				if err := inventory.DebitBulk(tx, pl.product.ID, pl.sellerID, pl.qty); err != nil {
					return err
				}
			}
			if err := tx.InsertOrder(&o); err != nil {
				return err
			}
			created = append(created, o)
		}

		return tx.ClearCart(buyerID)
	})
	if err != nil {
		return nil, err
	}

	for i := range created {
		e.publish(ctx, "order.checkout", created[i].ID, orderPayload(&created[i]))
	}
	return created, nil
}

// CheckoutCart settles every pending selection in the buyer's cart.
func (e *Engine) CheckoutCart(ctx context.Context, buyerID string) ([]inventory.Order, error) {
	var lines []Line
	err := e.Store.View(ctx, func(tx inventory.Tx) error {
		items, err := tx.CartItems(buyerID)
		if err != nil {
			return err
		}
		for _, it := range items {
			lines = append(lines, Line{ProductID: it.ProductID, SellerID: it.SellerID, Qty: it.Qty})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.Checkout(ctx, buyerID, lines)
}

// Confirm moves an awaiting order to Confirmed. When checkout did not
// pre-reserve units, the seller supplies explicit unit ids here; they must
// not exceed the order quantity and must currently sit AT_SELLER with this
// seller.
func (e *Engine) Confirm(ctx context.Context, sellerID, orderID string, unitIDs []string) error {
	var confirmed *inventory.Order
	err := e.Store.Update(ctx, func(tx inventory.Tx) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		if o.SellerID != sellerID {
			return &inventory.ValidationError{Reason: "order belongs to another seller"}
		}
		if !inventory.CanOrderTransition(o.Status, inventory.OrderConfirmed) {
			return &inventory.StateConflictError{Entity: "order", ID: o.ID, From: string(o.Status), Attempted: "confirm"}
		}

		if len(unitIDs) > 0 {
			if len(o.UnitIDs) > 0 {
				return &inventory.ValidationError{Reason: "order already has reserved units"}
			}
			if len(unitIDs) > o.Qty {
				return &inventory.ValidationError{Reason: "more units than ordered", Requested: len(unitIDs), Available: o.Qty}
			}
			seen := make(map[string]bool, len(unitIDs))
			for _, id := range unitIDs {
				if seen[id] {
					return &inventory.ValidationError{Reason: "duplicate unit id: " + id}
				}
				seen[id] = true
			}
			units, err := tx.UnitsByIDs(unitIDs)
			if err != nil {
				return err
			}
			if len(units) != len(unitIDs) {
				return inventory.ErrNotFound
			}
			now := time.Now().UTC()
			for i := range units {
				u := &units[i]
				if u.Status != inventory.UnitAtSeller || u.ResellerID != sellerID {
					return &inventory.StateConflictError{Entity: "unit", ID: u.ID, From: string(u.Status), Attempted: "confirm"}
				}
				if err := inventory.Transition(u, inventory.TriggerCheckout); err != nil {
					return err
				}
				u.BuyerID = o.BuyerID
				u.SoldAt = &now
				if err := tx.UpdateUnit(u); err != nil {
					return err
				}
				o.UnitIDs = append(o.UnitIDs, u.ID)
			}
		}

		o.Status = inventory.OrderConfirmed
		o.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		confirmed = o
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(ctx, "order.confirmed", orderID, orderPayload(confirmed))
	return nil
}

// Deliver marks a confirmed order as handed to the buyer.
func (e *Engine) Deliver(ctx context.Context, orderID string) error {
	var delivered *inventory.Order
	err := e.Store.Update(ctx, func(tx inventory.Tx) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		if !inventory.CanOrderTransition(o.Status, inventory.OrderDelivered) {
			return &inventory.StateConflictError{Entity: "order", ID: o.ID, From: string(o.Status), Attempted: "deliver"}
		}
		o.Status = inventory.OrderDelivered
		o.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateOrder(o); err != nil {
			return err
		}
		delivered = o
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(ctx, "order.delivered", orderID, orderPayload(delivered))
	return nil
}

// Cancel reverses checkout exactly: reserved units go back AT_SELLER with
// buyer and sale date cleared, bulk quantity is credited back to the seller,
// and the order row is deleted, not archived.
func (e *Engine) Cancel(ctx context.Context, orderID string) error {
	var cancelled *inventory.Order
	err := e.Store.Update(ctx, func(tx inventory.Tx) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		if !inventory.OrderCancellable(o.Status) {
			return &inventory.StateConflictError{Entity: "order", ID: o.ID, From: string(o.Status), Attempted: "cancel"}
		}

		if len(o.UnitIDs) > 0 {
			units, err := tx.UnitsByIDs(o.UnitIDs)
			if err != nil {
				return err
			}
			for i := range units {
				u := &units[i]
				if err := inventory.Transition(u, inventory.TriggerCancel); err != nil {
					return err
				}
				u.BuyerID = ""
				u.SoldAt = nil
				if err := tx.UpdateUnit(u); err != nil {
					return err
				}
			}
		} else {
			p, err := tx.Product(o.ProductID)
			if err != nil {
				return err
			}
			if !p.Serialized {
				// the seller's counter may have been removed meanwhile;
				// CreditBulk recreates it
				if err := inventory.CreditBulk(tx, o.ProductID, o.SellerID, o.Qty); err != nil {
					return err
				}
			}
		}

		if err := tx.DeleteOrder(o.ID); err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		return err
	}
	e.publish(ctx, "order.cancelled", orderID, orderPayload(cancelled))
	return nil
}

// RequestReturn opens a return case on a delivered order.
func (e *Engine) RequestReturn(ctx context.Context, buyerID, orderID string) error {
	err := e.Store.Update(ctx, func(tx inventory.Tx) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		if o.BuyerID != buyerID {
			return &inventory.ValidationError{Reason: "order belongs to another buyer"}
		}
		if !inventory.CanOrderTransition(o.Status, inventory.OrderReturnRequested) {
			return &inventory.StateConflictError{Entity: "order", ID: o.ID, From: string(o.Status), Attempted: "return_request"}
		}
		if err := e.transitionOrderUnits(tx, o, inventory.TriggerReturnRequest); err != nil {
			return err
		}
		o.Status = inventory.OrderReturnRequested
		o.UpdatedAt = time.Now().UTC()
		return tx.UpdateOrder(o)
	})
	if err != nil {
		return err
	}
	e.publish(ctx, "order.return_requested", orderID, OrderEventPayload{OrderID: orderID, BuyerID: buyerID, Status: string(inventory.OrderReturnRequested)})
	return nil
}

// AcceptReturn completes a return: serialized units land back at the seller,
// bulk quantity is credited back to the seller's counter.
func (e *Engine) AcceptReturn(ctx context.Context, orderID string) error {
	err := e.Store.Update(ctx, func(tx inventory.Tx) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		if !inventory.CanOrderTransition(o.Status, inventory.OrderReturned) {
			return &inventory.StateConflictError{Entity: "order", ID: o.ID, From: string(o.Status), Attempted: "return_accept"}
		}
		if len(o.UnitIDs) > 0 {
			if err := e.transitionOrderUnits(tx, o, inventory.TriggerReturnAccept); err != nil {
				return err
			}
		} else {
			p, err := tx.Product(o.ProductID)
			if err != nil {
				return err
			}
			if !p.Serialized {
				if err := inventory.CreditBulk(tx, o.ProductID, o.SellerID, o.Qty); err != nil {
					return err
				}
			}
		}
		o.Status = inventory.OrderReturned
		o.UpdatedAt = time.Now().UTC()
		return tx.UpdateOrder(o)
	})
	if err != nil {
		return err
	}
	e.publish(ctx, "order.returned", orderID, OrderEventPayload{OrderID: orderID, Status: string(inventory.OrderReturned)})
	return nil
}

// DeclineReturn sends the order back to Delivered and its units back to the
// buyer.
func (e *Engine) DeclineReturn(ctx context.Context, orderID string) error {
	err := e.Store.Update(ctx, func(tx inventory.Tx) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		if o.Status != inventory.OrderReturnRequested {
			return &inventory.StateConflictError{Entity: "order", ID: o.ID, From: string(o.Status), Attempted: "return_decline"}
		}
		if err := e.transitionOrderUnits(tx, o, inventory.TriggerReturnDecline); err != nil {
			return err
		}
		o.Status = inventory.OrderDelivered
		o.UpdatedAt = time.Now().UTC()
		return tx.UpdateOrder(o)
	})
	if err != nil {
		return err
	}
	e.publish(ctx, "order.return_declined", orderID, OrderEventPayload{OrderID: orderID, Status: string(inventory.OrderDelivered)})
	return nil
}

// Get returns one order.
func (e *Engine) Get(ctx context.Context, orderID string) (*inventory.Order, error) {
	var out *inventory.Order
	err := e.Store.View(ctx, func(tx inventory.Tx) error {
		o, err := tx.Order(orderID)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

// ListByParty returns orders where the party is buyer or seller.
func (e *Engine) ListByParty(ctx context.Context, partyID string) ([]inventory.Order, error) {
	var out []inventory.Order
	err := e.Store.View(ctx, func(tx inventory.Tx) error {
		os, err := tx.OrdersByParty(partyID)
		if err != nil {
			return err
		}
		out = os
		return nil
	})
	return out, err
}

func (e *Engine) transitionOrderUnits(tx inventory.Tx, o *inventory.Order, trigger inventory.UnitTrigger) error {
	if len(o.UnitIDs) == 0 {
		return nil
	}
	units, err := tx.UnitsByIDs(o.UnitIDs)
	if err != nil {
		return err
	}
	for i := range units {
		u := &units[i]
		if err := inventory.Transition(u, trigger); err != nil {
			return err
		}
		if err := tx.UpdateUnit(u); err != nil {
			return err
		}
	}
	return nil
}
