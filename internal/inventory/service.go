package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/supplytrace/go-supplytrace/internal/authsig"
)

// Publisher receives domain events after a mutation commits. Implementations
// must not block the caller; a nil Publisher disables the feed.
type Publisher interface {
	Publish(ctx context.Context, eventType, correlationID string, payload any)
}

// Service is the unit and bulk ledger: production, dispatch, defect handling,
// deletion, and bulk counter arithmetic. Order settlement lives in the
// checkout package.
type Service struct {
	Store  Store
	Signer *authsig.Signer
	Events Publisher
}

func (s *Service) publish(ctx context.Context, eventType, correlationID string, payload any) {
	if s.Events != nil {
		s.Events.Publish(ctx, eventType, correlationID, payload)
	}
}

type UnitProducedPayload struct {
	ProductID  string   `json:"product_id"`
	ProducerID string   `json:"producer_id"`
	UnitIDs    []string `json:"unit_ids"`
	Serials    []string `json:"serials"`
}

type UnitDispatchedPayload struct {
	UnitIDs    []string `json:"unit_ids"`
	ResellerID string   `json:"reseller_id"`
}

type UnitStatusPayload struct {
	UnitID string `json:"unit_id"`
	Status string `json:"status"`
}

type StockMovedPayload struct {
	ProductID string `json:"product_id"`
	FromID    string `json:"from_id,omitempty"`
	ToID      string `json:"to_id,omitempty"`
	Qty       int    `json:"qty"`
}

// ProduceUnits mints n serialized units for the producer's product:
// allocates serials, computes authenticity codes, and inserts the units in
// IN_FACTORY, all in one transaction.
func (s *Service) ProduceUnits(ctx context.Context, producerID, productID string, n int) ([]ProductUnit, error) {
	if n <= 0 {
		return nil, &ValidationError{Reason: "unit count must be positive"}
	}
	var out []ProductUnit
	err := s.Store.Update(ctx, func(tx Tx) error {
		p, err := tx.Product(productID)
		if err != nil {
			return err
		}
		if !p.Serialized {
			return &ValidationError{Reason: "product is bulk-tracked, cannot mint units", ProductID: productID}
		}
		if p.ProducerID != producerID {
			return &ValidationError{Reason: "product belongs to another producer", ProductID: productID}
		}

		serials, err := allocateSerials(tx, n)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		out = make([]ProductUnit, 0, n)
		for _, serial := range serials {
			u := ProductUnit{
				ID:             uuid.NewString(),
				ProductID:      productID,
				Serial:         serial,
				Status:         UnitInFactory,
				ProducerID:     producerID,
				AuthCode:       s.Signer.AuthCode(serial, producerID),
				ManufacturedAt: now,
				CreatedAt:      now,
			}
			if err := tx.InsertUnit(&u); err != nil {
				return err
			}
			out = append(out, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(out))
	serials := make([]string, len(out))
	for i, u := range out {
		ids[i], serials[i] = u.ID, u.Serial
	}
	s.publish(ctx, "unit.produced", productID, UnitProducedPayload{
		ProductID: productID, ProducerID: producerID, UnitIDs: ids, Serials: serials,
	})
	return out, nil
}

// Dispatch hands factory units over to a reseller. Every unit must belong to
// the acting producer and still be IN_FACTORY; one bad unit rejects the whole
// dispatch.
func (s *Service) Dispatch(ctx context.Context, producerID string, unitIDs []string, resellerID string) error {
	if resellerID == "" {
		return &ValidationError{Reason: "reseller is required"}
	}
	if len(unitIDs) == 0 {
		return &ValidationError{Reason: "no units to dispatch"}
	}
	err := s.Store.Update(ctx, func(tx Tx) error {
		units, err := tx.UnitsByIDs(unitIDs)
		if err != nil {
			return err
		}
		if len(units) != len(unitIDs) {
			return ErrNotFound
		}
		now := time.Now().UTC()
		for i := range units {
			u := &units[i]
			if u.ProducerID != producerID {
				return &ValidationError{Reason: "unit belongs to another producer", ProductID: u.ProductID}
			}
			if err := Transition(u, TriggerDispatch); err != nil {
				return err
			}
			u.ResellerID = resellerID
			u.DispatchedAt = &now
			if err := tx.UpdateUnit(u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, "unit.dispatched", resellerID, UnitDispatchedPayload{UnitIDs: unitIDs, ResellerID: resellerID})
	return nil
}

// MarkDefective pulls a unit out of circulation, back to the producer.
// Terminal: the unit can only be deleted afterwards.
func (s *Service) MarkDefective(ctx context.Context, unitID string) error {
	err := s.Store.Update(ctx, func(tx Tx) error {
		u, err := tx.Unit(unitID)
		if err != nil {
			return err
		}
		if err := Transition(u, TriggerMarkDefective); err != nil {
			return err
		}
		now := time.Now().UTC()
		u.ReturnedAt = &now
		return tx.UpdateUnit(u)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, "unit.defective", unitID, UnitStatusPayload{UnitID: unitID, Status: string(UnitReturnedDefective)})
	return nil
}

// DeleteUnit removes a unit that never circulated or came back defective and
// returns its serial number to the reclaim pool.
func (s *Service) DeleteUnit(ctx context.Context, unitID string) error {
	err := s.Store.Update(ctx, func(tx Tx) error {
		u, err := tx.Unit(unitID)
		if err != nil {
			return err
		}
		if !Deletable(u.Status) {
			return &StateConflictError{Entity: "unit", ID: u.ID, From: string(u.Status), Attempted: "delete"}
		}
		if err := tx.DeleteUnit(unitID); err != nil {
			return err
		}
		return reclaimSerial(tx, u.Serial)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, "unit.deleted", unitID, UnitStatusPayload{UnitID: unitID, Status: "deleted"})
	return nil
}

// GrantStock credits bulk quantity to an owner, merging into the existing
// counter when one exists.
func (s *Service) GrantStock(ctx context.Context, productID, ownerID string, qty int) error {
	if qty <= 0 {
		return &ValidationError{Reason: "quantity must be positive", ProductID: productID, Requested: qty}
	}
	err := s.Store.Update(ctx, func(tx Tx) error {
		p, err := tx.Product(productID)
		if err != nil {
			return err
		}
		if p.Serialized {
			return &ValidationError{Reason: "product is unit-tracked, cannot grant bulk stock", ProductID: productID}
		}
		return CreditBulk(tx, productID, ownerID, qty)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, "stock.granted", productID, StockMovedPayload{ProductID: productID, ToID: ownerID, Qty: qty})
	return nil
}

// TransferStock moves bulk quantity between owners. The source must cover
// the full amount; balances never go negative. An empty destination voids
// the quantity (debit only).
func (s *Service) TransferStock(ctx context.Context, productID, fromID, toID string, qty int) error {
	if qty <= 0 {
		return &ValidationError{Reason: "quantity must be positive", ProductID: productID, Requested: qty}
	}
	err := s.Store.Update(ctx, func(tx Tx) error {
		if err := DebitBulk(tx, productID, fromID, qty); err != nil {
			return err
		}
		if toID == "" {
			return nil // discard
		}
		return CreditBulk(tx, productID, toID, qty)
	})
	if err != nil {
		return err
	}
	s.publish(ctx, "stock.transferred", productID, StockMovedPayload{ProductID: productID, FromID: fromID, ToID: toID, Qty: qty})
	return nil
}

// StockSummary lists what an owner currently holds.
type StockSummary struct {
	Units []ProductUnit `json:"units"`
	Bulk  []BulkStock   `json:"bulk"`
}

// AvailableStock returns the owner's units and bulk counters.
func (s *Service) AvailableStock(ctx context.Context, ownerID string) (*StockSummary, error) {
	var sum StockSummary
	err := s.Store.View(ctx, func(tx Tx) error {
		units, err := tx.UnitsByOwner(ownerID)
		if err != nil {
			return err
		}
		bulk, err := tx.BulkByOwner(ownerID)
		if err != nil {
			return err
		}
		sum.Units, sum.Bulk = units, bulk
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sum, nil
}

// UpdateSerialRange narrows or widens the managed serial domain. Serials
// issued before a narrowing stay valid on their units.
func (s *Service) UpdateSerialRange(ctx context.Context, start, end int64) error {
	if start < 0 || end < start {
		return &ValidationError{Reason: "invalid serial range"}
	}
	return s.Store.Update(ctx, func(tx Tx) error {
		settings, err := tx.SerialSettings()
		if err != nil {
			return err
		}
		settings.RangeStart, settings.RangeEnd = start, end
		return tx.SaveSerialSettings(settings)
	})
}

// VerifyUnit checks a buyer-supplied authenticity code against the unit
// matching the scanned serial. Equality implies authenticity, not proof of
// possession.
func (s *Service) VerifyUnit(ctx context.Context, serial, claimedCode string) (bool, error) {
	var ok bool
	err := s.Store.View(ctx, func(tx Tx) error {
		u, err := tx.UnitBySerial(serial)
		if err != nil {
			return err
		}
		ok = s.Signer.VerifyAuthCode(claimedCode, u.AuthCode)
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// CreditBulk adds quantity to an owner's counter, creating it when absent.
func CreditBulk(tx Tx, productID, ownerID string, qty int) error {
	bs, err := tx.BulkStock(productID, ownerID)
	if errors.Is(err, ErrNotFound) {
		bs = &BulkStock{ProductID: productID, OwnerID: ownerID}
	} else if err != nil {
		return err
	}
	bs.Quantity += qty
	return tx.UpsertBulkStock(bs)
}

// DebitBulk subtracts quantity from an owner's counter; balances never go
// negative, a shortfall rejects the whole operation.
func DebitBulk(tx Tx, productID, ownerID string, qty int) error {
	bs, err := tx.BulkStock(productID, ownerID)
	if errors.Is(err, ErrNotFound) {
		return &ValidationError{Reason: "insufficient stock", ProductID: productID, Requested: qty, Available: 0}
	}
	if err != nil {
		return err
	}
	if bs.Quantity < qty {
		return &ValidationError{Reason: "insufficient stock", ProductID: productID, Requested: qty, Available: bs.Quantity}
	}
	bs.Quantity -= qty
	return tx.UpsertBulkStock(bs)
}
