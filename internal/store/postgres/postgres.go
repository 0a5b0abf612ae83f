// Package postgres is the durable inventory.Store. Update wraps one pgx
// transaction; rows handed out inside Update are locked FOR UPDATE so
// concurrent writers serialize at the row level.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/supplytrace/go-supplytrace/internal/inventory"
)

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{Pool: pool} }

func (s *Store) View(ctx context.Context, fn func(tx inventory.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

func (s *Store) Update(ctx context.Context, fn func(tx inventory.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, true, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, locking bool, fn func(tx inventory.Tx) error) error {
	t, err := s.Pool.BeginTx(ctx, opts)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = t.Rollback(ctx) }()

	if err := fn(&tx{ctx: ctx, t: t, locking: locking}); err != nil {
		return err
	}
	if err := t.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

type tx struct {
	ctx     context.Context
	t       pgx.Tx
	locking bool
}

var _ inventory.Tx = (*tx)(nil)

// lock appends FOR UPDATE to single-entity fetches inside Update.
func (t *tx) lock() string {
	if t.locking {
		return " FOR UPDATE"
	}
	return ""
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.ErrNotFound
	}
	return err
}

// ---- products ----

const productCols = `id, producer_id, name, description, serialized, created_at, updated_at`

func scanProduct(row pgx.Row, p *inventory.Product) error {
	return row.Scan(&p.ID, &p.ProducerID, &p.Name, &p.Description, &p.Serialized, &p.CreatedAt, &p.UpdatedAt)
}

func (t *tx) Product(id string) (*inventory.Product, error) {
	var p inventory.Product
	row := t.t.QueryRow(t.ctx, `SELECT `+productCols+` FROM products WHERE id=$1`+t.lock(), id)
	if err := scanProduct(row, &p); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (t *tx) Products() ([]inventory.Product, error) {
	rows, err := t.t.Query(t.ctx, `SELECT `+productCols+` FROM products ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Product
	for rows.Next() {
		var p inventory.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *tx) InsertProduct(p *inventory.Product) error {
	_, err := t.t.Exec(t.ctx, `
		INSERT INTO products(id, producer_id, name, description, serialized, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.ProducerID, p.Name, p.Description, p.Serialized, p.CreatedAt, p.UpdatedAt)
	return errors.Wrap(err, "insert product")
}

func (t *tx) UpdateProduct(p *inventory.Product) error {
	ct, err := t.t.Exec(t.ctx, `
		UPDATE products SET name=$2, description=$3, updated_at=$4 WHERE id=$1`,
		p.ID, p.Name, p.Description, p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "update product")
	}
	if ct.RowsAffected() == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

func (t *tx) DeleteProduct(id string) error {
	ct, err := t.t.Exec(t.ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return errors.Wrap(err, "delete product")
	}
	if ct.RowsAffected() == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

// ---- units ----

const unitCols = `id, product_id, serial, status, producer_id, reseller_id, buyer_id, auth_code,
	manufactured_at, dispatched_at, sold_at, returned_at, created_at`

func scanUnit(row pgx.Row, u *inventory.ProductUnit) error {
	return row.Scan(&u.ID, &u.ProductID, &u.Serial, &u.Status, &u.ProducerID, &u.ResellerID,
		&u.BuyerID, &u.AuthCode, &u.ManufacturedAt, &u.DispatchedAt, &u.SoldAt, &u.ReturnedAt, &u.CreatedAt)
}

func (t *tx) unitQuery(q string, args ...any) ([]inventory.ProductUnit, error) {
	rows, err := t.t.Query(t.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.ProductUnit
	for rows.Next() {
		var u inventory.ProductUnit
		if err := scanUnit(rows, &u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (t *tx) Unit(id string) (*inventory.ProductUnit, error) {
	var u inventory.ProductUnit
	row := t.t.QueryRow(t.ctx, `SELECT `+unitCols+` FROM units WHERE id=$1`+t.lock(), id)
	if err := scanUnit(row, &u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (t *tx) UnitBySerial(serial string) (*inventory.ProductUnit, error) {
	var u inventory.ProductUnit
	row := t.t.QueryRow(t.ctx, `SELECT `+unitCols+` FROM units WHERE serial=$1`+t.lock(), serial)
	if err := scanUnit(row, &u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (t *tx) UnitsByIDs(ids []string) ([]inventory.ProductUnit, error) {
	return t.unitQuery(`SELECT `+unitCols+` FROM units WHERE id = ANY($1) ORDER BY created_at, id`+t.lock(), ids)
}

func (t *tx) UnitsByProduct(productID string) ([]inventory.ProductUnit, error) {
	return t.unitQuery(`SELECT `+unitCols+` FROM units WHERE product_id=$1 ORDER BY created_at, id`, productID)
}

func (t *tx) UnitsByOwner(ownerID string) ([]inventory.ProductUnit, error) {
	return t.unitQuery(`SELECT `+unitCols+` FROM units
		WHERE producer_id=$1 OR reseller_id=$1 OR buyer_id=$1 ORDER BY created_at, id`, ownerID)
}

func (t *tx) AvailableUnits(productID, sellerID string) ([]inventory.ProductUnit, error) {
	return t.unitQuery(`SELECT `+unitCols+` FROM units
		WHERE product_id=$1 AND reseller_id=$2 AND status = ANY($3)
		ORDER BY created_at, id`+t.lock(),
		productID, sellerID, []string{string(inventory.UnitAtSeller), string(inventory.UnitReturnedToSeller)})
}

func (t *tx) LiveSerials() ([]string, error) {
	rows, err := t.t.Query(t.ctx, `SELECT serial FROM units`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *tx) InsertUnit(u *inventory.ProductUnit) error {
	_, err := t.t.Exec(t.ctx, `
		INSERT INTO units(id, product_id, serial, status, producer_id, reseller_id, buyer_id,
		                  auth_code, manufactured_at, dispatched_at, sold_at, returned_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		u.ID, u.ProductID, u.Serial, u.Status, u.ProducerID, u.ResellerID, u.BuyerID,
		u.AuthCode, u.ManufacturedAt, u.DispatchedAt, u.SoldAt, u.ReturnedAt, u.CreatedAt)
	return errors.Wrap(err, "insert unit")
}

func (t *tx) UpdateUnit(u *inventory.ProductUnit) error {
	ct, err := t.t.Exec(t.ctx, `
		UPDATE units SET status=$2, reseller_id=$3, buyer_id=$4,
		       dispatched_at=$5, sold_at=$6, returned_at=$7
		WHERE id=$1`,
		u.ID, u.Status, u.ResellerID, u.BuyerID, u.DispatchedAt, u.SoldAt, u.ReturnedAt)
	if err != nil {
		return errors.Wrap(err, "update unit")
	}
	if ct.RowsAffected() == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

func (t *tx) DeleteUnit(id string) error {
	ct, err := t.t.Exec(t.ctx, `DELETE FROM units WHERE id=$1`, id)
	if err != nil {
		return errors.Wrap(err, "delete unit")
	}
	if ct.RowsAffected() == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

// ---- bulk stock ----

func (t *tx) BulkStock(productID, ownerID string) (*inventory.BulkStock, error) {
	var bs inventory.BulkStock
	row := t.t.QueryRow(t.ctx, `
		SELECT product_id, owner_id, quantity FROM bulk_stock
		WHERE product_id=$1 AND owner_id=$2`+t.lock(), productID, ownerID)
	if err := row.Scan(&bs.ProductID, &bs.OwnerID, &bs.Quantity); err != nil {
		return nil, notFound(err)
	}
	return &bs, nil
}

func (t *tx) BulkByOwner(ownerID string) ([]inventory.BulkStock, error) {
	rows, err := t.t.Query(t.ctx, `
		SELECT product_id, owner_id, quantity FROM bulk_stock
		WHERE owner_id=$1 ORDER BY product_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.BulkStock
	for rows.Next() {
		var bs inventory.BulkStock
		if err := rows.Scan(&bs.ProductID, &bs.OwnerID, &bs.Quantity); err != nil {
			return nil, err
		}
		out = append(out, bs)
	}
	return out, rows.Err()
}

func (t *tx) UpsertBulkStock(bs *inventory.BulkStock) error {
	_, err := t.t.Exec(t.ctx, `
		INSERT INTO bulk_stock(product_id, owner_id, quantity)
		VALUES ($1,$2,$3)
		ON CONFLICT (product_id, owner_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		bs.ProductID, bs.OwnerID, bs.Quantity)
	return errors.Wrap(err, "upsert bulk stock")
}

func (t *tx) DeleteBulkByProduct(productID string) error {
	_, err := t.t.Exec(t.ctx, `DELETE FROM bulk_stock WHERE product_id=$1`, productID)
	return errors.Wrap(err, "delete bulk stock")
}

// ---- orders ----

const orderCols = `id, product_id, seller_id, buyer_id, qty, status, unit_ids, created_at, updated_at`

func scanOrder(row pgx.Row, o *inventory.Order) error {
	return row.Scan(&o.ID, &o.ProductID, &o.SellerID, &o.BuyerID, &o.Qty, &o.Status, &o.UnitIDs, &o.CreatedAt, &o.UpdatedAt)
}

func (t *tx) Order(id string) (*inventory.Order, error) {
	var o inventory.Order
	row := t.t.QueryRow(t.ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`+t.lock(), id)
	if err := scanOrder(row, &o); err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (t *tx) orderQuery(q string, args ...any) ([]inventory.Order, error) {
	rows, err := t.t.Query(t.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.Order
	for rows.Next() {
		var o inventory.Order
		if err := scanOrder(rows, &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *tx) OrdersByParty(partyID string) ([]inventory.Order, error) {
	return t.orderQuery(`SELECT `+orderCols+` FROM orders
		WHERE seller_id=$1 OR buyer_id=$1 ORDER BY created_at, id`, partyID)
}

func (t *tx) OrdersByProduct(productID string) ([]inventory.Order, error) {
	return t.orderQuery(`SELECT `+orderCols+` FROM orders WHERE product_id=$1 ORDER BY created_at, id`, productID)
}

func (t *tx) InsertOrder(o *inventory.Order) error {
	_, err := t.t.Exec(t.ctx, `
		INSERT INTO orders(id, product_id, seller_id, buyer_id, qty, status, unit_ids, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		o.ID, o.ProductID, o.SellerID, o.BuyerID, o.Qty, o.Status, o.UnitIDs, o.CreatedAt, o.UpdatedAt)
	return errors.Wrap(err, "insert order")
}

func (t *tx) UpdateOrder(o *inventory.Order) error {
	ct, err := t.t.Exec(t.ctx, `
		UPDATE orders SET status=$2, unit_ids=$3, updated_at=$4 WHERE id=$1`,
		o.ID, o.Status, o.UnitIDs, o.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "update order")
	}
	if ct.RowsAffected() == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

func (t *tx) DeleteOrder(id string) error {
	ct, err := t.t.Exec(t.ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return errors.Wrap(err, "delete order")
	}
	if ct.RowsAffected() == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

// ---- cart ----

func (t *tx) CartItems(buyerID string) ([]inventory.CartItem, error) {
	rows, err := t.t.Query(t.ctx, `
		SELECT buyer_id, product_id, seller_id, qty FROM cart_items
		WHERE buyer_id=$1 ORDER BY product_id`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inventory.CartItem
	for rows.Next() {
		var it inventory.CartItem
		if err := rows.Scan(&it.BuyerID, &it.ProductID, &it.SellerID, &it.Qty); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (t *tx) PutCartItem(item *inventory.CartItem) error {
	_, err := t.t.Exec(t.ctx, `
		INSERT INTO cart_items(buyer_id, product_id, seller_id, qty)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (buyer_id, product_id) DO UPDATE SET seller_id = EXCLUDED.seller_id, qty = EXCLUDED.qty`,
		item.BuyerID, item.ProductID, item.SellerID, item.Qty)
	return errors.Wrap(err, "put cart item")
}

func (t *tx) ClearCart(buyerID string) error {
	_, err := t.t.Exec(t.ctx, `DELETE FROM cart_items WHERE buyer_id=$1`, buyerID)
	return errors.Wrap(err, "clear cart")
}

// ---- serial domain ----

func (t *tx) SerialSettings() (*inventory.SerialSettings, error) {
	var s inventory.SerialSettings
	row := t.t.QueryRow(t.ctx, `SELECT range_start, range_end FROM serial_settings WHERE id=1`+t.lock())
	if err := row.Scan(&s.RangeStart, &s.RangeEnd); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (t *tx) SaveSerialSettings(s *inventory.SerialSettings) error {
	_, err := t.t.Exec(t.ctx, `UPDATE serial_settings SET range_start=$1, range_end=$2 WHERE id=1`,
		s.RangeStart, s.RangeEnd)
	return errors.Wrap(err, "save serial settings")
}

func (t *tx) ReclaimedSerials() ([]int64, error) {
	rows, err := t.t.Query(t.ctx, `SELECT serial FROM reclaimed_serials ORDER BY serial`+t.lock())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (t *tx) AddReclaimedSerial(n int64) error {
	_, err := t.t.Exec(t.ctx, `
		INSERT INTO reclaimed_serials(serial) VALUES ($1) ON CONFLICT DO NOTHING`, n)
	return errors.Wrap(err, "add reclaimed serial")
}

func (t *tx) RemoveReclaimedSerial(n int64) error {
	_, err := t.t.Exec(t.ctx, `DELETE FROM reclaimed_serials WHERE serial=$1`, n)
	return errors.Wrap(err, "remove reclaimed serial")
}

// ---- audit trail ----

func (t *tx) InsertAuditRecord(rec *inventory.AuditRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := t.t.Exec(t.ctx, `
		INSERT INTO audit_log(event_id, event_type, correlation_id, producer, occurred_at, payload, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.EventType, rec.CorrelationID, rec.Producer, rec.OccurredAt, rec.Payload, rec.RecordedAt)
	return errors.Wrap(err, "insert audit record")
}

func (t *tx) AuditRecordExists(eventID string) (bool, error) {
	var n int
	if err := t.t.QueryRow(t.ctx, `SELECT COUNT(*) FROM audit_log WHERE event_id=$1`, eventID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}
