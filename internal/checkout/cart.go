package checkout

import (
	"context"

	"github.com/supplytrace/go-supplytrace/internal/inventory"
)

// PutCartItem records or replaces a buyer's pending selection for a product.
// A zero quantity removes nothing here; selections only disappear when the
// checkout commits or the cart is cleared.
func (e *Engine) PutCartItem(ctx context.Context, item inventory.CartItem) error {
	if item.BuyerID == "" || item.ProductID == "" {
		return &inventory.ValidationError{Reason: "buyer and product are required"}
	}
	if item.Qty <= 0 {
		return &inventory.ValidationError{Reason: "invalid quantity", ProductID: item.ProductID, Requested: item.Qty}
	}
	return e.Store.Update(ctx, func(tx inventory.Tx) error {
		if _, err := tx.Product(item.ProductID); err != nil {
			return err
		}
		return tx.PutCartItem(&item)
	})
}

// Cart lists the buyer's pending selections.
func (e *Engine) Cart(ctx context.Context, buyerID string) ([]inventory.CartItem, error) {
	var items []inventory.CartItem
	err := e.Store.View(ctx, func(tx inventory.Tx) error {
		var err error
		items, err = tx.CartItems(buyerID)
		return err
	})
	return items, err
}

// ClearCart drops every pending selection for the buyer.
func (e *Engine) ClearCart(ctx context.Context, buyerID string) error {
	return e.Store.Update(ctx, func(tx inventory.Tx) error {
		return tx.ClearCart(buyerID)
	})
}
