package inventory

import "context"

// Store is the atomic boundary for everything the engine persists. Update is
// the only way to mutate: the whole callback either commits or leaves no
// trace. Implementations serialize writers (pgx transaction with row locks,
// or a single-writer mutex for the in-memory store).
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx exposes the persisted collections inside one transaction. Accessors
// return ErrNotFound for missing records. Inside Update, implementations may
// lock the rows they hand out.
type Tx interface {
	// products
	Product(id string) (*Product, error)
	Products() ([]Product, error)
	InsertProduct(p *Product) error
	UpdateProduct(p *Product) error
	DeleteProduct(id string) error

	// units
	Unit(id string) (*ProductUnit, error)
	UnitBySerial(serial string) (*ProductUnit, error)
	UnitsByIDs(ids []string) ([]ProductUnit, error)
	UnitsByProduct(productID string) ([]ProductUnit, error)
	UnitsByOwner(ownerID string) ([]ProductUnit, error)
	// AvailableUnits lists units of a product held by a seller in a sellable
	// state (AT_SELLER or RETURNED_TO_SELLER), first-created first.
	AvailableUnits(productID, sellerID string) ([]ProductUnit, error)
	LiveSerials() ([]string, error)
	InsertUnit(u *ProductUnit) error
	UpdateUnit(u *ProductUnit) error
	DeleteUnit(id string) error

	// bulk stock
	BulkStock(productID, ownerID string) (*BulkStock, error)
	BulkByOwner(ownerID string) ([]BulkStock, error)
	UpsertBulkStock(bs *BulkStock) error
	DeleteBulkByProduct(productID string) error

	// orders
	Order(id string) (*Order, error)
	OrdersByParty(partyID string) ([]Order, error)
	OrdersByProduct(productID string) ([]Order, error)
	InsertOrder(o *Order) error
	UpdateOrder(o *Order) error
	DeleteOrder(id string) error

	// cart
	CartItems(buyerID string) ([]CartItem, error)
	PutCartItem(item *CartItem) error
	ClearCart(buyerID string) error

	// serial domain
	SerialSettings() (*SerialSettings, error)
	SaveSerialSettings(s *SerialSettings) error
	ReclaimedSerials() ([]int64, error) // ascending
	AddReclaimedSerial(n int64) error   // deduplicated
	RemoveReclaimedSerial(n int64) error

	// audit trail
	InsertAuditRecord(rec *AuditRecord) error
	AuditRecordExists(eventID string) (bool, error)
}
