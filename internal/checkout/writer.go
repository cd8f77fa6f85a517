package checkout

import (
	"context"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/store"
	"github.com/pkg/errors"
)

// Writer persists an order header and its line items as one unit.
type Writer struct {
	store store.Store
}

func NewWriter(s store.Store) *Writer { return &Writer{store: s} }

// Write inserts the header, then all items in one batch, inside a single
// transaction. If the items fail the header is rolled back with them.
// On success o.ID and every items[i].OrderID carry the new ID.
func (w *Writer) Write(ctx context.Context, o *orders.Order, items []orders.LineItem) (string, error) {
	if len(items) == 0 {
		return "", orders.Invalid("items", "at least one line item is required")
	}

	rows := make([]orders.LineItem, len(items))
	var id string
	err := w.store.InTx(ctx, func(tx store.OrderStore) error {
		newID, err := tx.InsertOrder(ctx, o)
		if err != nil {
			return &orders.PersistenceError{Op: "insert order", Err: err}
		}
		for i, it := range items {
			it.OrderID = newID
			rows[i] = it
		}
		if err := tx.InsertOrderItems(ctx, rows); err != nil {
			return &orders.PersistenceError{Op: "insert order items", Err: err}
		}
		id = newID
		return nil
	})
	if err != nil {
		if !errors.Is(err, orders.ErrPersistence) {
			err = &orders.PersistenceError{Op: "commit order", Err: err}
		}
		return "", err
	}

	o.ID = id
	copy(items, rows)
	return id, nil
}
