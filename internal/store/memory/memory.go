// Package memory is an in-memory inventory.Store: a single-writer mutex and
// copy-on-write snapshots, so an Update that returns an error leaves no
// trace. Backs the engine tests and single-process development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/supplytrace/go-supplytrace/internal/inventory"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type state struct {
	products  map[string]inventory.Product
	units     map[string]inventory.ProductUnit
	bulk      map[string]inventory.BulkStock // key productID + "/" + ownerID
	orders    map[string]inventory.Order
	cart      map[string][]inventory.CartItem // by buyer
	settings  inventory.SerialSettings
	reclaimed map[int64]bool
	audit     map[string]inventory.AuditRecord // by event id
	unitSeq   map[string]int                   // insertion order, FIFO tie-break
	nextSeq   int
}

type Store struct {
	mu sync.RWMutex
	st *state
}

// New returns an empty store with the given serial range.
func New(rangeStart, rangeEnd int64) *Store {
	return &Store{st: &state{
		products:  map[string]inventory.Product{},
		units:     map[string]inventory.ProductUnit{},
		bulk:      map[string]inventory.BulkStock{},
		orders:    map[string]inventory.Order{},
		cart:      map[string][]inventory.CartItem{},
		settings:  inventory.SerialSettings{RangeStart: rangeStart, RangeEnd: rangeEnd},
		reclaimed: map[int64]bool{},
		audit:     map[string]inventory.AuditRecord{},
		unitSeq:   map[string]int{},
	}}
}

func (s *Store) View(ctx context.Context, fn func(tx inventory.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{st: s.st})
}

func (s *Store) Update(ctx context.Context, fn func(tx inventory.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err // discard the working copy
	}
	s.st = work
	return nil
}

func (st *state) clone() *state {
	c := &state{
		products:  make(map[string]inventory.Product, len(st.products)),
		units:     make(map[string]inventory.ProductUnit, len(st.units)),
		bulk:      make(map[string]inventory.BulkStock, len(st.bulk)),
		orders:    make(map[string]inventory.Order, len(st.orders)),
		cart:      make(map[string][]inventory.CartItem, len(st.cart)),
		settings:  st.settings,
		reclaimed: make(map[int64]bool, len(st.reclaimed)),
		audit:     make(map[string]inventory.AuditRecord, len(st.audit)),
		unitSeq:   make(map[string]int, len(st.unitSeq)),
		nextSeq:   st.nextSeq,
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.units {
		v.DispatchedAt = cloneTime(v.DispatchedAt)
		v.SoldAt = cloneTime(v.SoldAt)
		v.ReturnedAt = cloneTime(v.ReturnedAt)
		c.units[k] = v
	}
	for k, v := range st.bulk {
		c.bulk[k] = v
	}
	for k, v := range st.orders {
		v.UnitIDs = append([]string(nil), v.UnitIDs...)
		c.orders[k] = v
	}
	for k, v := range st.cart {
		c.cart[k] = append([]inventory.CartItem(nil), v...)
	}
	for k, v := range st.reclaimed {
		c.reclaimed[k] = v
	}
	for k, v := range st.audit {
		c.audit[k] = v
	}
	for k, v := range st.unitSeq {
		c.unitSeq[k] = v
	}
	return c
}

// tx operates directly on a state: the live one for View, a working copy for
// Update.
type tx struct {
	st *state
}

var _ inventory.Tx = (*tx)(nil)

func bulkKey(productID, ownerID string) string { return productID + "/" + ownerID }

// ---- products ----

func (t *tx) Product(id string) (*inventory.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	return &p, nil
}

func (t *tx) Products() ([]inventory.Product, error) {
	out := make([]inventory.Product, 0, len(t.st.products))
	for _, p := range t.st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *tx) InsertProduct(p *inventory.Product) error {
	t.st.products[p.ID] = *p
	return nil
}

func (t *tx) UpdateProduct(p *inventory.Product) error {
	if _, ok := t.st.products[p.ID]; !ok {
		return inventory.ErrNotFound
	}
	t.st.products[p.ID] = *p
	return nil
}

func (t *tx) DeleteProduct(id string) error {
	if _, ok := t.st.products[id]; !ok {
		return inventory.ErrNotFound
	}
	delete(t.st.products, id)
	return nil
}

// ---- units ----

func (t *tx) Unit(id string) (*inventory.ProductUnit, error) {
	u, ok := t.st.units[id]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	return &u, nil
}

func (t *tx) UnitBySerial(serial string) (*inventory.ProductUnit, error) {
	for _, u := range t.st.units {
		if u.Serial == serial {
			out := u
			return &out, nil
		}
	}
	return nil, inventory.ErrNotFound
}

func (t *tx) UnitsByIDs(ids []string) ([]inventory.ProductUnit, error) {
	out := make([]inventory.ProductUnit, 0, len(ids))
	for _, id := range ids {
		if u, ok := t.st.units[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (t *tx) UnitsByProduct(productID string) ([]inventory.ProductUnit, error) {
	return t.unitsWhere(func(u inventory.ProductUnit) bool { return u.ProductID == productID }), nil
}

func (t *tx) UnitsByOwner(ownerID string) ([]inventory.ProductUnit, error) {
	return t.unitsWhere(func(u inventory.ProductUnit) bool {
		return u.ProducerID == ownerID || u.ResellerID == ownerID || u.BuyerID == ownerID
	}), nil
}

func (t *tx) AvailableUnits(productID, sellerID string) ([]inventory.ProductUnit, error) {
	return t.unitsWhere(func(u inventory.ProductUnit) bool {
		return u.ProductID == productID && u.ResellerID == sellerID &&
			(u.Status == inventory.UnitAtSeller || u.Status == inventory.UnitReturnedToSeller)
	}), nil
}

func (t *tx) unitsWhere(pred func(inventory.ProductUnit) bool) []inventory.ProductUnit {
	var out []inventory.ProductUnit
	for _, u := range t.st.units {
		if pred(u) {
			out = append(out, u)
		}
	}
	// first-created first; insertion sequence breaks CreatedAt ties
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return t.st.unitSeq[out[i].ID] < t.st.unitSeq[out[j].ID]
	})
	return out
}

func (t *tx) LiveSerials() ([]string, error) {
	out := make([]string, 0, len(t.st.units))
	for _, u := range t.st.units {
		out = append(out, u.Serial)
	}
	return out, nil
}

func (t *tx) InsertUnit(u *inventory.ProductUnit) error {
	t.st.units[u.ID] = *u
	t.st.unitSeq[u.ID] = t.st.nextSeq
	t.st.nextSeq++
	return nil
}

func (t *tx) UpdateUnit(u *inventory.ProductUnit) error {
	if _, ok := t.st.units[u.ID]; !ok {
		return inventory.ErrNotFound
	}
	t.st.units[u.ID] = *u
	return nil
}

func (t *tx) DeleteUnit(id string) error {
	if _, ok := t.st.units[id]; !ok {
		return inventory.ErrNotFound
	}
	delete(t.st.units, id)
	delete(t.st.unitSeq, id)
	return nil
}

// ---- bulk stock ----

func (t *tx) BulkStock(productID, ownerID string) (*inventory.BulkStock, error) {
	bs, ok := t.st.bulk[bulkKey(productID, ownerID)]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	return &bs, nil
}

func (t *tx) BulkByOwner(ownerID string) ([]inventory.BulkStock, error) {
	var out []inventory.BulkStock
	for _, bs := range t.st.bulk {
		if bs.OwnerID == ownerID {
			out = append(out, bs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (t *tx) UpsertBulkStock(bs *inventory.BulkStock) error {
	t.st.bulk[bulkKey(bs.ProductID, bs.OwnerID)] = *bs
	return nil
}

func (t *tx) DeleteBulkByProduct(productID string) error {
	for k, bs := range t.st.bulk {
		if bs.ProductID == productID {
			delete(t.st.bulk, k)
		}
	}
	return nil
}

// ---- orders ----

func (t *tx) Order(id string) (*inventory.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	o.UnitIDs = append([]string(nil), o.UnitIDs...)
	return &o, nil
}

func (t *tx) OrdersByParty(partyID string) ([]inventory.Order, error) {
	return t.ordersWhere(func(o inventory.Order) bool {
		return o.SellerID == partyID || o.BuyerID == partyID
	}), nil
}

func (t *tx) OrdersByProduct(productID string) ([]inventory.Order, error) {
	return t.ordersWhere(func(o inventory.Order) bool { return o.ProductID == productID }), nil
}

func (t *tx) ordersWhere(pred func(inventory.Order) bool) []inventory.Order {
	var out []inventory.Order
	for _, o := range t.st.orders {
		if pred(o) {
			o.UnitIDs = append([]string(nil), o.UnitIDs...)
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (t *tx) InsertOrder(o *inventory.Order) error {
	t.st.orders[o.ID] = *o
	return nil
}

func (t *tx) UpdateOrder(o *inventory.Order) error {
	if _, ok := t.st.orders[o.ID]; !ok {
		return inventory.ErrNotFound
	}
	t.st.orders[o.ID] = *o
	return nil
}

func (t *tx) DeleteOrder(id string) error {
	if _, ok := t.st.orders[id]; !ok {
		return inventory.ErrNotFound
	}
	delete(t.st.orders, id)
	return nil
}

// ---- cart ----

func (t *tx) CartItems(buyerID string) ([]inventory.CartItem, error) {
	return append([]inventory.CartItem(nil), t.st.cart[buyerID]...), nil
}

func (t *tx) PutCartItem(item *inventory.CartItem) error {
	items := t.st.cart[item.BuyerID]
	for i := range items {
		if items[i].ProductID == item.ProductID {
			items[i] = *item
			t.st.cart[item.BuyerID] = items
			return nil
		}
	}
	t.st.cart[item.BuyerID] = append(items, *item)
	return nil
}

func (t *tx) ClearCart(buyerID string) error {
	delete(t.st.cart, buyerID)
	return nil
}

// ---- serial domain ----

func (t *tx) SerialSettings() (*inventory.SerialSettings, error) {
	s := t.st.settings
	return &s, nil
}

func (t *tx) SaveSerialSettings(s *inventory.SerialSettings) error {
	t.st.settings = *s
	return nil
}

func (t *tx) ReclaimedSerials() ([]int64, error) {
	out := make([]int64, 0, len(t.st.reclaimed))
	for n := range t.st.reclaimed {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (t *tx) AddReclaimedSerial(n int64) error {
	t.st.reclaimed[n] = true
	return nil
}

func (t *tx) RemoveReclaimedSerial(n int64) error {
	delete(t.st.reclaimed, n)
	return nil
}

// ---- audit trail ----

func (t *tx) InsertAuditRecord(rec *inventory.AuditRecord) error {
	t.st.audit[rec.EventID] = *rec
	return nil
}

func (t *tx) AuditRecordExists(eventID string) (bool, error) {
	_, ok := t.st.audit[eventID]
	return ok, nil
}
