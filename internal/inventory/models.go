package inventory

import "time"

type Product struct {
	ID          string
	ProducerID  string
	Name        string
	Description string
	// Serialized fixes which ledger governs this product's stock, forever.
	Serialized bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProductUnit is one physical serialized item and its lifecycle state.
type ProductUnit struct {
	ID         string
	ProductID  string
	Serial     string // numeric-valued, unique among live units
	Status     UnitStatus
	ProducerID string
	ResellerID string // set when dispatched
	BuyerID    string // set when sold
	AuthCode   string // digest binding serial+producer, computed at production

	ManufacturedAt time.Time
	DispatchedAt   *time.Time
	SoldAt         *time.Time
	ReturnedAt     *time.Time
	CreatedAt      time.Time
}

// BulkStock is the quantity counter for one (product, owner) pair.
type BulkStock struct {
	ProductID string
	OwnerID   string
	Quantity  int
}

// Order is one checkout line item and its settlement state.
type Order struct {
	ID        string
	ProductID string
	SellerID  string
	BuyerID   string
	Qty       int
	Status    OrderStatus
	// UnitIDs is the exact set of units reserved for a serialized order.
	// Empty for bulk orders and for legacy orders fulfilled with explicit units.
	UnitIDs   []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartItem is a buyer's pending selection; cleared when checkout commits.
type CartItem struct {
	BuyerID   string
	ProductID string
	SellerID  string // empty = resolve to the product's producer at checkout
	Qty       int
}

// SerialSettings holds the managed serial-number range. Reclaimed numbers
// live in their own pool, see Tx.ReclaimedSerials.
type SerialSettings struct {
	RangeStart int64
	RangeEnd   int64
}

// AuditRecord is one consumed domain event, kept by the auditor.
type AuditRecord struct {
	EventID       string
	EventType     string
	CorrelationID string
	Producer      string
	OccurredAt    time.Time
	Payload       []byte
	RecordedAt    time.Time
}
