package checkout_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supplytrace/go-supplytrace/internal/authsig"
	"github.com/supplytrace/go-supplytrace/internal/checkout"
	"github.com/supplytrace/go-supplytrace/internal/inventory"
	"github.com/supplytrace/go-supplytrace/internal/store/memory"
)

const (
	producerID = "producer-1"
	sellerID   = "seller-1"
	buyerID    = "buyer-1"
)

// recordingPublisher captures emitted event types in order.
type recordingPublisher struct {
	types []string
}

func (r *recordingPublisher) Publish(_ context.Context, eventType, _ string, _ any) {
	r.types = append(r.types, eventType)
}

type fixture struct {
	store  *memory.Store
	ledger *inventory.Service
	engine *checkout.Engine
	events *recordingPublisher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := memory.New(100000, 99999999)
	events := &recordingPublisher{}
	return &fixture{
		store:  store,
		ledger: &inventory.Service{Store: store, Signer: authsig.New("test-secret"), Events: events},
		engine: &checkout.Engine{Store: store, Events: events},
		events: events,
	}
}

func (f *fixture) createProduct(t *testing.T, serialized bool) string {
	t.Helper()
	now := time.Now().UTC()
	p := inventory.Product{
		ID: uuid.NewString(), ProducerID: producerID, Name: "widget",
		Serialized: serialized, CreatedAt: now, UpdatedAt: now,
	}
	err := f.store.Update(context.Background(), func(tx inventory.Tx) error {
		return tx.InsertProduct(&p)
	})
	require.NoError(t, err)
	return p.ID
}

// stockSerialized mints n units and puts them at the seller.
func (f *fixture) stockSerialized(t *testing.T, productID string, n int) []inventory.ProductUnit {
	t.Helper()
	ctx := context.Background()
	units, err := f.ledger.ProduceUnits(ctx, producerID, productID, n)
	require.NoError(t, err)
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	require.NoError(t, f.ledger.Dispatch(ctx, producerID, ids, sellerID))
	return units
}

func (f *fixture) unit(t *testing.T, id string) *inventory.ProductUnit {
	t.Helper()
	var out *inventory.ProductUnit
	err := f.store.View(context.Background(), func(tx inventory.Tx) error {
		u, err := tx.Unit(id)
		out = u
		return err
	})
	require.NoError(t, err)
	return out
}

func (f *fixture) bulkQty(t *testing.T, productID, ownerID string) int {
	t.Helper()
	qty := 0
	err := f.store.View(context.Background(), func(tx inventory.Tx) error {
		bs, err := tx.BulkStock(productID, ownerID)
		if err == nil {
			qty = bs.Quantity
		}
		return nil
	})
	require.NoError(t, err)
	return qty
}

func TestCheckoutSerialized(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, true)
	units := f.stockSerialized(t, productID, 3)

	orders, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
		{ProductID: productID, SellerID: sellerID, Qty: 2},
	})

	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, inventory.OrderAwaitingConfirmation, o.Status)
	assert.Equal(t, buyerID, o.BuyerID)
	assert.Equal(t, sellerID, o.SellerID)
	// oldest units go first
	assert.Equal(t, []string{units[0].ID, units[1].ID}, o.UnitIDs)

	for _, id := range o.UnitIDs {
		u := f.unit(t, id)
		assert.Equal(t, inventory.UnitSoldToBuyer, u.Status)
		assert.Equal(t, buyerID, u.BuyerID)
		require.NotNil(t, u.SoldAt)
	}
	assert.Equal(t, inventory.UnitAtSeller, f.unit(t, units[2].ID).Status)
	assert.Contains(t, f.events.types, "order.checkout")
}

func TestCheckoutBulk(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, false)
	require.NoError(t, f.ledger.GrantStock(ctx, productID, sellerID, 5))

	orders, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
		{ProductID: productID, SellerID: sellerID, Qty: 3},
	})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Empty(t, orders[0].UnitIDs)
	assert.Equal(t, 2, f.bulkQty(t, productID, sellerID))

	t.Run("second checkout exceeds the remainder", func(t *testing.T) {
		_, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
			{ProductID: productID, SellerID: sellerID, Qty: 3},
		})

		var ve *inventory.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, 3, ve.Requested)
		assert.Equal(t, 2, ve.Available)
		assert.Equal(t, 2, f.bulkQty(t, productID, sellerID), "a rejected checkout must not move stock")
	})
}

func TestCheckoutRepeatedProductSharesOnePool(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("serialized", func(t *testing.T) {
		productID := f.createProduct(t, true)
		units := f.stockSerialized(t, productID, 4)

		// two lines for the same product and seller draw on the same 4 units
		_, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
			{ProductID: productID, SellerID: sellerID, Qty: 3},
			{ProductID: productID, SellerID: sellerID, Qty: 3},
		})

		var ve *inventory.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, 1, ve.LineIndex)
		assert.Equal(t, 3, ve.Requested)
		assert.Equal(t, 1, ve.Available, "the first line already claimed 3 of the 4")
		for _, u := range units {
			assert.Equal(t, inventory.UnitAtSeller, f.unit(t, u.ID).Status)
		}
	})

	t.Run("serialized lines that fit get disjoint units", func(t *testing.T) {
		productID := f.createProduct(t, true)
		f.stockSerialized(t, productID, 4)

		orders, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
			{ProductID: productID, SellerID: sellerID, Qty: 2},
			{ProductID: productID, SellerID: sellerID, Qty: 2},
		})

		require.NoError(t, err)
		require.Len(t, orders, 2)
		reserved := map[string]bool{}
		for _, o := range orders {
			for _, id := range o.UnitIDs {
				assert.False(t, reserved[id], "unit %s reserved by two orders", id)
				reserved[id] = true
			}
		}
		assert.Len(t, reserved, 4)
	})

	t.Run("bulk", func(t *testing.T) {
		productID := f.createProduct(t, false)
		require.NoError(t, f.ledger.GrantStock(ctx, productID, sellerID, 5))

		_, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
			{ProductID: productID, SellerID: sellerID, Qty: 3},
			{ProductID: productID, SellerID: sellerID, Qty: 3},
		})

		var ve *inventory.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, 1, ve.LineIndex)
		assert.Equal(t, 2, ve.Available)
		assert.Equal(t, 5, f.bulkQty(t, productID, sellerID))
	})
}

func TestCheckoutAllOrNothing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	serialized := f.createProduct(t, true)
	bulk := f.createProduct(t, false)
	units := f.stockSerialized(t, serialized, 2)
	require.NoError(t, f.ledger.GrantStock(ctx, bulk, sellerID, 1))

	// line 0 is satisfiable, line 1 is short; nothing may change
	_, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
		{ProductID: serialized, SellerID: sellerID, Qty: 2},
		{ProductID: bulk, SellerID: sellerID, Qty: 4},
	})

	var ve *inventory.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, 1, ve.LineIndex)
	assert.Equal(t, bulk, ve.ProductID)

	for _, u := range units {
		assert.Equal(t, inventory.UnitAtSeller, f.unit(t, u.ID).Status)
	}
	assert.Equal(t, 1, f.bulkQty(t, bulk, sellerID))

	err = f.store.View(ctx, func(tx inventory.Tx) error {
		orders, err := tx.OrdersByParty(buyerID)
		require.NoError(t, err)
		assert.Empty(t, orders)
		return nil
	})
	require.NoError(t, err)
}

func TestCheckoutSellerDefaultsToProducer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, false)
	require.NoError(t, f.ledger.GrantStock(ctx, productID, producerID, 4))

	orders, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
		{ProductID: productID, Qty: 4},
	})

	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, producerID, orders[0].SellerID)
	assert.Equal(t, 0, f.bulkQty(t, productID, producerID))
}

func TestCheckoutCartClearsCart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, false)
	require.NoError(t, f.ledger.GrantStock(ctx, productID, sellerID, 5))
	require.NoError(t, f.engine.PutCartItem(ctx, inventory.CartItem{
		BuyerID: buyerID, ProductID: productID, SellerID: sellerID, Qty: 2,
	}))

	orders, err := f.engine.CheckoutCart(ctx, buyerID)

	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, 3, f.bulkQty(t, productID, sellerID))

	items, err := f.engine.Cart(ctx, buyerID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCancelRestoresSerializedInventory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, true)
	f.stockSerialized(t, productID, 2)

	orders, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
		{ProductID: productID, SellerID: sellerID, Qty: 2},
	})
	require.NoError(t, err)
	orderID := orders[0].ID

	require.NoError(t, f.engine.Cancel(ctx, orderID))

	for _, id := range orders[0].UnitIDs {
		u := f.unit(t, id)
		assert.Equal(t, inventory.UnitAtSeller, u.Status)
		assert.Empty(t, u.BuyerID)
		assert.Nil(t, u.SoldAt)
	}

	_, err = f.engine.Get(ctx, orderID)
	require.ErrorIs(t, err, inventory.ErrNotFound, "cancellation deletes the order")
	assert.Contains(t, f.events.types, "order.cancelled")

	// the units are immediately sellable again
	again, err := f.engine.Checkout(ctx, "buyer-2", []checkout.Line{
		{ProductID: productID, SellerID: sellerID, Qty: 2},
	})
	require.NoError(t, err)
	require.Len(t, again, 1)
}

func TestCancelRestoresBulkInventory(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, false)
	require.NoError(t, f.ledger.GrantStock(ctx, productID, sellerID, 5))

	orders, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
		{ProductID: productID, SellerID: sellerID, Qty: 3},
	})
	require.NoError(t, err)
	require.Equal(t, 2, f.bulkQty(t, productID, sellerID))

	require.NoError(t, f.engine.Cancel(ctx, orders[0].ID))
	assert.Equal(t, 5, f.bulkQty(t, productID, sellerID))
}

func TestCancelGuards(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, true)
	f.stockSerialized(t, productID, 1)

	orders, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
		{ProductID: productID, SellerID: sellerID, Qty: 1},
	})
	require.NoError(t, err)
	orderID := orders[0].ID
	require.NoError(t, f.engine.Confirm(ctx, sellerID, orderID, nil))
	require.NoError(t, f.engine.Deliver(ctx, orderID))

	err = f.engine.Cancel(ctx, orderID)

	var sc *inventory.StateConflictError
	require.ErrorAs(t, err, &sc, "a delivered order is past cancellation")
}

func TestOrderLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, true)
	f.stockSerialized(t, productID, 1)

	orders, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
		{ProductID: productID, SellerID: sellerID, Qty: 1},
	})
	require.NoError(t, err)
	orderID := orders[0].ID
	unitID := orders[0].UnitIDs[0]

	t.Run("confirm by the wrong seller", func(t *testing.T) {
		err := f.engine.Confirm(ctx, "impostor", orderID, nil)
		var ve *inventory.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	require.NoError(t, f.engine.Confirm(ctx, sellerID, orderID, nil))
	require.NoError(t, f.engine.Deliver(ctx, orderID))

	t.Run("return must come from the buyer", func(t *testing.T) {
		err := f.engine.RequestReturn(ctx, "impostor", orderID)
		var ve *inventory.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	require.NoError(t, f.engine.RequestReturn(ctx, buyerID, orderID))
	assert.Equal(t, inventory.UnitReturnRequested, f.unit(t, unitID).Status)

	require.NoError(t, f.engine.AcceptReturn(ctx, orderID))
	assert.Equal(t, inventory.UnitReturnedToSeller, f.unit(t, unitID).Status)

	o, err := f.engine.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, inventory.OrderReturned, o.Status)

	// a returned unit is sellable again
	again, err := f.engine.Checkout(ctx, "buyer-2", []checkout.Line{
		{ProductID: productID, SellerID: sellerID, Qty: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{unitID}, again[0].UnitIDs)

	assert.Equal(t, []string{
		"unit.produced", "unit.dispatched",
		"order.checkout", "order.confirmed", "order.delivered",
		"order.return_requested", "order.returned", "order.checkout",
	}, f.events.types)
}

func TestDeclineReturn(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, true)
	f.stockSerialized(t, productID, 1)

	orders, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
		{ProductID: productID, SellerID: sellerID, Qty: 1},
	})
	require.NoError(t, err)
	orderID := orders[0].ID
	require.NoError(t, f.engine.Confirm(ctx, sellerID, orderID, nil))
	require.NoError(t, f.engine.Deliver(ctx, orderID))
	require.NoError(t, f.engine.RequestReturn(ctx, buyerID, orderID))

	require.NoError(t, f.engine.DeclineReturn(ctx, orderID))

	o, err := f.engine.Get(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, inventory.OrderDelivered, o.Status)
	assert.Equal(t, inventory.UnitSoldToBuyer, f.unit(t, orders[0].UnitIDs[0]).Status)
}

func TestAcceptReturnCreditsBulk(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, false)
	require.NoError(t, f.ledger.GrantStock(ctx, productID, sellerID, 5))

	orders, err := f.engine.Checkout(ctx, buyerID, []checkout.Line{
		{ProductID: productID, SellerID: sellerID, Qty: 2},
	})
	require.NoError(t, err)
	orderID := orders[0].ID
	require.NoError(t, f.engine.Confirm(ctx, sellerID, orderID, nil))
	require.NoError(t, f.engine.Deliver(ctx, orderID))
	require.NoError(t, f.engine.RequestReturn(ctx, buyerID, orderID))

	require.NoError(t, f.engine.AcceptReturn(ctx, orderID))

	assert.Equal(t, 5, f.bulkQty(t, productID, sellerID))
}

func TestConfirmWithExplicitUnits(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, true)
	units := f.stockSerialized(t, productID, 3)

	// an order recorded without reserved units, as older flows created them
	now := time.Now().UTC()
	order := inventory.Order{
		ID: uuid.NewString(), ProductID: productID, SellerID: sellerID,
		BuyerID: buyerID, Qty: 2, Status: inventory.OrderAwaitingConfirmation,
		CreatedAt: now, UpdatedAt: now,
	}
	err := f.store.Update(ctx, func(tx inventory.Tx) error {
		return tx.InsertOrder(&order)
	})
	require.NoError(t, err)

	t.Run("more units than ordered", func(t *testing.T) {
		err := f.engine.Confirm(ctx, sellerID, order.ID, []string{units[0].ID, units[1].ID, units[2].ID})
		var ve *inventory.ValidationError
		require.ErrorAs(t, err, &ve)
	})

	t.Run("same unit listed twice", func(t *testing.T) {
		err := f.engine.Confirm(ctx, sellerID, order.ID, []string{units[0].ID, units[0].ID})

		var ve *inventory.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, inventory.UnitAtSeller, f.unit(t, units[0].ID).Status)
	})

	require.NoError(t, f.engine.Confirm(ctx, sellerID, order.ID, []string{units[0].ID, units[1].ID}))

	o, err := f.engine.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.OrderConfirmed, o.Status)
	assert.Equal(t, []string{units[0].ID, units[1].ID}, o.UnitIDs)
	for _, id := range o.UnitIDs {
		u := f.unit(t, id)
		assert.Equal(t, inventory.UnitSoldToBuyer, u.Status)
		assert.Equal(t, buyerID, u.BuyerID)
	}
}

func TestPutCartItemValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	productID := f.createProduct(t, false)

	var ve *inventory.ValidationError
	require.ErrorAs(t, f.engine.PutCartItem(ctx, inventory.CartItem{ProductID: productID, Qty: 1}), &ve)
	require.ErrorAs(t, f.engine.PutCartItem(ctx, inventory.CartItem{BuyerID: buyerID, ProductID: productID, Qty: 0}), &ve)
	require.ErrorIs(t, f.engine.PutCartItem(ctx, inventory.CartItem{
		BuyerID: buyerID, ProductID: uuid.NewString(), Qty: 1,
	}), inventory.ErrNotFound)

	// replacing an existing selection keeps one row per product
	require.NoError(t, f.engine.PutCartItem(ctx, inventory.CartItem{BuyerID: buyerID, ProductID: productID, Qty: 1}))
	require.NoError(t, f.engine.PutCartItem(ctx, inventory.CartItem{BuyerID: buyerID, ProductID: productID, Qty: 4}))

	items, err := f.engine.Cart(ctx, buyerID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].Qty)
}
