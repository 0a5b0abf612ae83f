// Package catalog manages product definitions. Every other component reads
// the catalog; nothing here touches the ledgers beyond the delete guard.
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/supplytrace/go-supplytrace/internal/inventory"
)

type Service struct {
	Store inventory.Store
}

// Create registers a product. The serialized flag fixes which ledger governs
// its stock and can never change afterwards.
func (s *Service) Create(ctx context.Context, producerID, name, description string, serialized bool) (*inventory.Product, error) {
	if producerID == "" || name == "" {
		return nil, &inventory.ValidationError{Reason: "producer and name are required"}
	}
	now := time.Now().UTC()
	p := inventory.Product{
		ID:          uuid.NewString(),
		ProducerID:  producerID,
		Name:        name,
		Description: description,
		Serialized:  serialized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.Store.Update(ctx, func(tx inventory.Tx) error {
		return tx.InsertProduct(&p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateMeta changes display metadata only.
func (s *Service) UpdateMeta(ctx context.Context, productID, name, description string) (*inventory.Product, error) {
	var out *inventory.Product
	err := s.Store.Update(ctx, func(tx inventory.Tx) error {
		p, err := tx.Product(productID)
		if err != nil {
			return err
		}
		if name != "" {
			p.Name = name
		}
		p.Description = description
		p.UpdatedAt = time.Now().UTC()
		if err := tx.UpdateProduct(p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// Delete removes a product once nothing references it: no live units and no
// orders may exist. The product's bulk-stock counters are cascaded away.
func (s *Service) Delete(ctx context.Context, productID string) error {
	return s.Store.Update(ctx, func(tx inventory.Tx) error {
		if _, err := tx.Product(productID); err != nil {
			return err
		}
		units, err := tx.UnitsByProduct(productID)
		if err != nil {
			return err
		}
		if len(units) > 0 {
			return &inventory.ValidationError{Reason: "product still has live units", ProductID: productID, Available: len(units)}
		}
		orders, err := tx.OrdersByProduct(productID)
		if err != nil {
			return err
		}
		if len(orders) > 0 {
			return &inventory.ValidationError{Reason: "product still has orders", ProductID: productID, Available: len(orders)}
		}
		if err := tx.DeleteBulkByProduct(productID); err != nil {
			return err
		}
		return tx.DeleteProduct(productID)
	})
}

func (s *Service) Get(ctx context.Context, productID string) (*inventory.Product, error) {
	var out *inventory.Product
	err := s.Store.View(ctx, func(tx inventory.Tx) error {
		p, err := tx.Product(productID)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func (s *Service) List(ctx context.Context) ([]inventory.Product, error) {
	var out []inventory.Product
	err := s.Store.View(ctx, func(tx inventory.Tx) error {
		ps, err := tx.Products()
		if err != nil {
			return err
		}
		out = ps
		return nil
	})
	return out, err
}
