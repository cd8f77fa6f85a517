package inventory

import (
	"context"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type LineSuccess struct {
	ItemID    string
	ProductID string
	VariantID *string
	Quantity  int
	Record    orders.InventoryRecord // state after the update
}

type MutationResult struct {
	Action    orders.Action
	Successes []LineSuccess
	Failures  []orders.LineFailure
}

// Err is nil when every line applied, otherwise an *orders.ReservationError.
func (r MutationResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &orders.ReservationError{Action: r.Action, Failures: r.Failures}
}

// Mutator moves units between available and reserved, line by line.
type Mutator struct {
	lookup  *Lookup
	store   store.InventoryStore
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewMutator(l *Lookup, s store.InventoryStore, log zerolog.Logger, m *metrics.Metrics) *Mutator {
	return &Mutator{lookup: l, store: s, log: log, metrics: m, now: time.Now}
}

// Mutate applies action to every line independently. A failing line is
// recorded and the batch continues.
func (m *Mutator) Mutate(ctx context.Context, items []orders.LineItem, action orders.Action) MutationResult {
	res := MutationResult{Action: action}
	for _, it := range items {
		rec, err := m.apply(ctx, it, action)
		if err != nil {
			res.Failures = append(res.Failures, orders.LineFailure{
				ItemID: it.ID, ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity, Err: err,
			})
			continue
		}
		res.Successes = append(res.Successes, LineSuccess{
			ItemID: it.ID, ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity, Record: rec,
		})
	}

	if len(res.Failures) > 0 {
		m.metrics.LineFailures(string(action), len(res.Failures))
		m.log.Error().
			Str("action", string(action)).
			Int("failed", len(res.Failures)).
			Int("applied", len(res.Successes)).
			Err(res.Err()).
			Msg("inventory mutation incomplete")
	}
	return res
}

func (m *Mutator) apply(ctx context.Context, it orders.LineItem, action orders.Action) (orders.InventoryRecord, error) {
	if it.Quantity <= 0 {
		return orders.InventoryRecord{}, orders.Invalid("quantity", "must be positive")
	}
	rec, err := m.lookup.Resolve(ctx, it.ProductID, it.VariantID)
	if err != nil {
		return orders.InventoryRecord{}, err
	}
	updated, err := m.store.AdjustInventory(ctx, rec.ID, action, it.Quantity, m.now().UTC())
	if err != nil {
		var short *orders.InsufficientStockError
		if errors.As(err, &short) {
			short.ProductID, short.Product = it.ProductID, it.Label()
			return orders.InventoryRecord{}, short
		}
		return orders.InventoryRecord{}, errors.Wrapf(err, "%s record %s", action, rec.ID)
	}
	return updated, nil
}
