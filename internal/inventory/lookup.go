package inventory

import (
	"context"
	"sort"

	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Lookup resolves the stock record a line item draws on.
type Lookup struct {
	store   store.InventoryStore
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewLookup(s store.InventoryStore, log zerolog.Logger, m *metrics.Metrics) *Lookup {
	return &Lookup{store: s, log: log, metrics: m}
}

// Resolve returns the variant record when variantID is set, otherwise the
// base-product record. Duplicate base-product rows are tolerated: the
// lowest ID wins and a warning is logged. Rows are never merged here.
func (l *Lookup) Resolve(ctx context.Context, productID string, variantID *string) (orders.InventoryRecord, error) {
	if variantID != nil && *variantID == "" {
		variantID = nil
	}

	recs, err := l.store.SelectInventory(ctx, productID, variantID)
	if err != nil {
		return orders.InventoryRecord{}, errors.Wrapf(err, "lookup inventory for product %s", productID)
	}
	if len(recs) == 0 {
		if variantID != nil {
			return orders.InventoryRecord{}, errors.Wrapf(orders.ErrInventoryNotFound, "no inventory record for variant %s", *variantID)
		}
		return orders.InventoryRecord{}, errors.Wrapf(orders.ErrInventoryNotFound, "no inventory record for product %s", productID)
	}
	if len(recs) == 1 {
		return recs[0], nil
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	ev := l.log.Warn().
		Str("product_id", productID).
		Int("rows", len(recs)).
		Str("chosen_record_id", recs[0].ID)
	if variantID != nil {
		ev = ev.Str("variant_id", *variantID)
	}
	ev.Msg("duplicate inventory rows, using lowest id")
	l.metrics.DuplicateRows()
	return recs[0], nil
}
