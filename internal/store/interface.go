package store

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// InventoryStore reads and adjusts stock ledger rows.
type InventoryStore interface {
	// SelectInventory returns the record keyed by variantID when it is set,
	// otherwise every base-product record (variant_id IS NULL) of productID.
	SelectInventory(ctx context.Context, productID string, variantID *string) ([]orders.InventoryRecord, error)

	// AdjustInventory applies qty to one record in a single statement.
	// Reserve only succeeds while quantity_available >= qty and returns an
	// *orders.InsufficientStockError otherwise.
	AdjustInventory(ctx context.Context, recordID string, action orders.Action, qty int, at time.Time) (orders.InventoryRecord, error)
}

// OrderStore persists order headers and their line items.
type OrderStore interface {
	// InsertOrder fails with orders.ErrDuplicateOrderNumber when the store
	// already has an order with the same number.
	InsertOrder(ctx context.Context, o *orders.Order) (string, error)

	// InsertOrderItems writes every line and sets items[i].ID and
	// items[i].StockState (pending) in place.
	InsertOrderItems(ctx context.Context, items []orders.LineItem) error

	DeleteOrder(ctx context.Context, id string) error
	GetOrder(ctx context.Context, id string) (orders.Order, []orders.LineItem, error)

	// SetItemStockState moves a line from one stock state to another and
	// reports false when the line was not in state from.
	SetItemStockState(ctx context.Context, itemID string, from, to orders.StockState) (bool, error)
}

type Store interface {
	InventoryStore
	OrderStore

	// InTx runs fn against a transaction-scoped OrderStore. Writes made by fn
	// are committed when it returns nil and discarded otherwise.
	InTx(ctx context.Context, fn func(OrderStore) error) error
}
