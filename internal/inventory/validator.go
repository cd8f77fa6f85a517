package inventory

import (
	"context"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Validator checks requested quantities against available stock without
// writing anything. It does not hold stock: the reserve step re-checks
// atomically in the store.
type Validator struct {
	lookup *Lookup
}

func NewValidator(l *Lookup) *Validator { return &Validator{lookup: l} }

// Validate stops at the first line that cannot be served. Lines resolving to
// the same record draw on one pool, so their quantities add up.
func (v *Validator) Validate(ctx context.Context, items []orders.LineItem) error {
	claimed := make(map[string]int, len(items))
	for _, it := range items {
		rec, err := v.lookup.Resolve(ctx, it.ProductID, it.VariantID)
		if err != nil {
			return err
		}
		available := rec.QuantityAvailable - claimed[rec.ID]
		if available < it.Quantity {
			return &orders.InsufficientStockError{
				ProductID: it.ProductID,
				Product:   it.Label(),
				Available: max(0, available),
				Requested: it.Quantity,
			}
		}
		claimed[rec.ID] += it.Quantity
	}
	return nil
}
