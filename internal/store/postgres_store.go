package store

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PostgresStore struct {
	pool *pgxpool.Pool
	pgOrderStore
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, pgOrderStore: pgOrderStore{q: pool}}
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(OrderStore) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(pgOrderStore{q: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

const inventoryColumns = `id, product_id, variant_id, quantity_available, quantity_reserved, updated_at`

func (s *PostgresStore) SelectInventory(ctx context.Context, productID string, variantID *string) ([]orders.InventoryRecord, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if variantID != nil {
		rows, err = s.pool.Query(ctx, `SELECT `+inventoryColumns+` FROM inventory WHERE variant_id = $1 ORDER BY id`, *variantID)
	} else {
		rows, err = s.pool.Query(ctx, `SELECT `+inventoryColumns+` FROM inventory
		                               WHERE product_id = $1 AND variant_id IS NULL ORDER BY id`, productID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select inventory")
	}
	defer rows.Close()

	var out []orders.InventoryRecord
	for rows.Next() {
		rec, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "select inventory")
}

func (s *PostgresStore) AdjustInventory(ctx context.Context, recordID string, action orders.Action, qty int, at time.Time) (orders.InventoryRecord, error) {
	if qty <= 0 {
		return orders.InventoryRecord{}, orders.Invalid("quantity", "must be positive")
	}

	var sql string
	switch action {
	case orders.ActionReserve:
		sql = `UPDATE inventory
		       SET quantity_available = quantity_available - $2,
		           quantity_reserved  = quantity_reserved + $2,
		           updated_at = $3
		       WHERE id = $1 AND quantity_available >= $2
		       RETURNING ` + inventoryColumns
	case orders.ActionRelease:
		sql = `UPDATE inventory
		       SET quantity_available = quantity_available + $2,
		           quantity_reserved  = GREATEST(quantity_reserved - $2, 0),
		           updated_at = $3
		       WHERE id = $1
		       RETURNING ` + inventoryColumns
	default:
		return orders.InventoryRecord{}, orders.Invalid("action", "unknown action "+string(action))
	}

	rec, err := scanInventory(s.pool.QueryRow(ctx, sql, recordID, qty, at))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return orders.InventoryRecord{}, err
	}

	// Nothing updated: either the row is gone or the reserve guard refused it.
	var productID string
	var available int
	err = s.pool.QueryRow(ctx, `SELECT product_id, quantity_available FROM inventory WHERE id = $1`, recordID).
		Scan(&productID, &available)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.InventoryRecord{}, errors.Wrapf(orders.ErrInventoryNotFound, "record %s", recordID)
	}
	if err != nil {
		return orders.InventoryRecord{}, errors.Wrap(err, "recheck inventory")
	}
	return orders.InventoryRecord{}, &orders.InsufficientStockError{
		ProductID: productID, Product: productID, Available: available, Requested: qty,
	}
}

func scanInventory(row pgx.Row) (orders.InventoryRecord, error) {
	var rec orders.InventoryRecord
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.VariantID, &rec.QuantityAvailable, &rec.QuantityReserved, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, err
	}
	return rec, errors.Wrap(err, "scan inventory")
}

type pgOrderStore struct{ q querier }

func (s pgOrderStore) InsertOrder(ctx context.Context, o *orders.Order) (string, error) {
	var id string
	err := s.q.QueryRow(ctx, `
		INSERT INTO orders(order_number, store_id, customer_id, customer_name, customer_phone, customer_email,
		                   subtotal, tax, discount, additional_charges, delivery_cost, total, currency,
		                   status, payment_status, payment_method, delivery_option,
		                   shipping_address, billing_address, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		RETURNING id`,
		o.OrderNumber, o.StoreID, o.CustomerID, o.Customer.Name, o.Customer.Phone, o.Customer.Email,
		o.Breakdown.Subtotal, o.Breakdown.Tax, o.Breakdown.Discount, o.Breakdown.AdditionalCharges,
		o.Breakdown.DeliveryCost, o.Breakdown.Total, o.Currency,
		string(o.Status), string(o.PaymentStatus), o.PaymentMethod, o.DeliveryOption,
		o.ShippingAddress, o.BillingAddress, o.Notes, o.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", insertOrderErr(err, o.OrderNumber)
	}
	return id, nil
}

const uniqueViolation = "23505"

func insertOrderErr(err error, orderNumber string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Wrapf(orders.ErrDuplicateOrderNumber, "order number %s", orderNumber)
	}
	return errors.Wrap(err, "insert order")
}

// validID rejects ids that are not UUIDs before they reach the driver,
// which would otherwise fail to encode them.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s pgOrderStore) InsertOrderItems(ctx context.Context, items []orders.LineItem) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO order_items(order_id, product_id, variant_id, name, variant, quantity, unit_price, line_total, stock_state)
		             VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			it.OrderID, it.ProductID, it.VariantID, it.Name, it.Variant, it.Quantity, it.UnitPrice, it.LineTotal,
			string(orders.StockPending))
	}
	br := s.q.SendBatch(ctx, batch)
	for i := range items {
		if err := br.QueryRow().Scan(&items[i].ID); err != nil {
			_ = br.Close()
			return errors.Wrap(err, "insert order items")
		}
		items[i].StockState = orders.StockPending
	}
	return errors.Wrap(br.Close(), "insert order items")
}

func (s pgOrderStore) SetItemStockState(ctx context.Context, itemID string, from, to orders.StockState) (bool, error) {
	if !validID(itemID) {
		return false, nil
	}
	ct, err := s.q.Exec(ctx, `UPDATE order_items SET stock_state = $3 WHERE id = $1 AND stock_state = $2`,
		itemID, string(from), string(to))
	if err != nil {
		return false, errors.Wrap(err, "set item stock state")
	}
	return ct.RowsAffected() == 1, nil
}

func (s pgOrderStore) DeleteOrder(ctx context.Context, id string) error {
	if !validID(id) {
		return errors.Wrapf(orders.ErrOrderNotFound, "order %s", id)
	}
	ct, err := s.q.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, "delete order")
	}
	if ct.RowsAffected() == 0 {
		return errors.Wrapf(orders.ErrOrderNotFound, "order %s", id)
	}
	return nil
}

func (s pgOrderStore) GetOrder(ctx context.Context, id string) (orders.Order, []orders.LineItem, error) {
	if !validID(id) {
		return orders.Order{}, nil, errors.Wrapf(orders.ErrOrderNotFound, "order %s", id)
	}
	var (
		o                     orders.Order
		status, paymentStatus string
	)
	err := s.q.QueryRow(ctx, `
		SELECT id, order_number, store_id, customer_id, customer_name, customer_phone, customer_email,
		       subtotal, tax, discount, additional_charges, delivery_cost, total, currency,
		       status, payment_status, payment_method, delivery_option,
		       shipping_address, billing_address, notes, created_at
		FROM orders WHERE id = $1`, id).Scan(
		&o.ID, &o.OrderNumber, &o.StoreID, &o.CustomerID, &o.Customer.Name, &o.Customer.Phone, &o.Customer.Email,
		&o.Breakdown.Subtotal, &o.Breakdown.Tax, &o.Breakdown.Discount, &o.Breakdown.AdditionalCharges,
		&o.Breakdown.DeliveryCost, &o.Breakdown.Total, &o.Currency,
		&status, &paymentStatus, &o.PaymentMethod, &o.DeliveryOption,
		&o.ShippingAddress, &o.BillingAddress, &o.Notes, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, nil, errors.Wrapf(orders.ErrOrderNotFound, "order %s", id)
	}
	if err != nil {
		return orders.Order{}, nil, errors.Wrap(err, "select order")
	}
	o.Status = orders.Status(status)
	o.PaymentStatus = orders.PaymentStatus(paymentStatus)

	rows, err := s.q.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, name, variant, quantity, unit_price, line_total, stock_state
		FROM order_items WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return orders.Order{}, nil, errors.Wrap(err, "select order items")
	}
	defer rows.Close()

	var items []orders.LineItem
	for rows.Next() {
		var (
			it    orders.LineItem
			state string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.Name, &it.Variant,
			&it.Quantity, &it.UnitPrice, &it.LineTotal, &state); err != nil {
			return orders.Order{}, nil, errors.Wrap(err, "scan order item")
		}
		it.StockState = orders.StockState(state)
		items = append(items, it)
	}
	return o, items, errors.Wrap(rows.Err(), "select order items")
}
