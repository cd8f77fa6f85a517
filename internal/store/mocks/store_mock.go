package mocks

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MockStore is an in-memory store.Store for tests. It records calls and
// lets tests inject failures per operation.
type MockStore struct {
	mu        sync.Mutex
	inventory []orders.InventoryRecord // insertion order is the "return order"
	orders    map[string]orders.Order
	items     map[string][]orders.LineItem

	// Failure injection
	SelectErr      error
	InsertOrderErr error
	InsertItemsErr error
	AdjustErrs     map[string]error // by record ID
	StockStateErr  error

	// InsertItemsFailProduct fails the whole batch when any row has this product.
	InsertItemsFailProduct string

	// For tracking calls in tests
	SelectCalls      []SelectCall
	AdjustCalls      []AdjustCall
	InsertOrderCalls []orders.Order
	InsertItemsCalls [][]orders.LineItem
	DeleteCalls      []string
	StockStateCalls  []StockStateCall
	TxCalls          int
}

type StockStateCall struct {
	ItemID   string
	From, To orders.StockState
}

type SelectCall struct {
	ProductID string
	VariantID *string
}

type AdjustCall struct {
	RecordID string
	Action   orders.Action
	Qty      int
}

func NewMockStore() *MockStore {
	return &MockStore{
		orders:     make(map[string]orders.Order),
		items:      make(map[string][]orders.LineItem),
		AdjustErrs: make(map[string]error),
	}
}

var _ store.Store = (*MockStore)(nil)

// AddInventory seeds a stock record. An empty ID gets a generated one.
func (m *MockStore) AddInventory(rec orders.InventoryRecord) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.inventory = append(m.inventory, rec)
	return rec.ID
}

// Inventory returns the current state of a record.
func (m *MockStore) Inventory(id string) (orders.InventoryRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.inventory {
		if rec.ID == id {
			return rec, true
		}
	}
	return orders.InventoryRecord{}, false
}

func (m *MockStore) HasOrder(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.orders[id]
	return ok
}

func (m *MockStore) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

// PutOrder stores an order directly, bypassing call tracking.
func (m *MockStore) PutOrder(o orders.Order, items []orders.LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	if len(items) > 0 {
		m.items[o.ID] = items
	}
}

func (m *MockStore) SelectInventory(ctx context.Context, productID string, variantID *string) ([]orders.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SelectCalls = append(m.SelectCalls, SelectCall{ProductID: productID, VariantID: variantID})
	if m.SelectErr != nil {
		return nil, m.SelectErr
	}

	var out []orders.InventoryRecord
	for _, rec := range m.inventory {
		switch {
		case variantID != nil:
			if rec.VariantID != nil && *rec.VariantID == *variantID {
				out = append(out, rec)
			}
		case rec.VariantID == nil && rec.ProductID == productID:
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MockStore) AdjustInventory(ctx context.Context, recordID string, action orders.Action, qty int, at time.Time) (orders.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.AdjustCalls = append(m.AdjustCalls, AdjustCall{RecordID: recordID, Action: action, Qty: qty})
	if err := m.AdjustErrs[recordID]; err != nil {
		return orders.InventoryRecord{}, err
	}
	if qty <= 0 {
		return orders.InventoryRecord{}, orders.Invalid("quantity", "must be positive")
	}

	for i, rec := range m.inventory {
		if rec.ID != recordID {
			continue
		}
		// Same guard as the conditional UPDATE in PostgresStore.
		if action == orders.ActionReserve && rec.QuantityAvailable < qty {
			return orders.InventoryRecord{}, &orders.InsufficientStockError{
				ProductID: rec.ProductID, Product: rec.ProductID, Available: rec.QuantityAvailable, Requested: qty,
			}
		}
		c := rec.Counters().Apply(action, qty)
		rec.QuantityAvailable, rec.QuantityReserved, rec.UpdatedAt = c.Available, c.Reserved, at
		m.inventory[i] = rec
		return rec, nil
	}
	return orders.InventoryRecord{}, errors.Wrapf(orders.ErrInventoryNotFound, "record %s", recordID)
}

func (m *MockStore) InsertOrder(ctx context.Context, o *orders.Order) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InsertOrderCalls = append(m.InsertOrderCalls, *o)
	if m.InsertOrderErr != nil {
		return "", m.InsertOrderErr
	}
	for _, existing := range m.orders {
		if existing.StoreID == o.StoreID && existing.OrderNumber == o.OrderNumber {
			return "", errors.Wrapf(orders.ErrDuplicateOrderNumber, "order number %s", o.OrderNumber)
		}
	}
	saved := *o
	saved.ID = uuid.NewString()
	m.orders[saved.ID] = saved
	return saved.ID, nil
}

func (m *MockStore) InsertOrderItems(ctx context.Context, items []orders.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.InsertItemsCalls = append(m.InsertItemsCalls, items)
	if m.InsertItemsErr != nil {
		return m.InsertItemsErr
	}
	for i, it := range items {
		if _, ok := m.orders[it.OrderID]; !ok {
			return fmt.Errorf("order %s does not exist", it.OrderID)
		}
		if m.InsertItemsFailProduct != "" && it.ProductID == m.InsertItemsFailProduct {
			return fmt.Errorf("row %d: violates check constraint on product %s", i+1, it.ProductID)
		}
	}
	for i := range items {
		items[i].ID = uuid.NewString()
		items[i].StockState = orders.StockPending
		m.items[items[i].OrderID] = append(m.items[items[i].OrderID], items[i])
	}
	return nil
}

func (m *MockStore) SetItemStockState(ctx context.Context, itemID string, from, to orders.StockState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StockStateCalls = append(m.StockStateCalls, StockStateCall{ItemID: itemID, From: from, To: to})
	if m.StockStateErr != nil {
		return false, m.StockStateErr
	}
	for orderID, items := range m.items {
		for i, it := range items {
			if it.ID != itemID {
				continue
			}
			state := it.StockState
			if state == "" {
				state = orders.StockPending
			}
			if state != from {
				return false, nil
			}
			// Copy so slices handed out by GetOrder keep their state.
			updated := slices.Clone(items)
			updated[i].StockState = to
			m.items[orderID] = updated
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) DeleteOrder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, id)
	if _, ok := m.orders[id]; !ok {
		return errors.Wrapf(orders.ErrOrderNotFound, "order %s", id)
	}
	delete(m.orders, id)
	delete(m.items, id)
	return nil
}

func (m *MockStore) GetOrder(ctx context.Context, id string) (orders.Order, []orders.LineItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return orders.Order{}, nil, errors.Wrapf(orders.ErrOrderNotFound, "order %s", id)
	}
	return o, append([]orders.LineItem(nil), m.items[id]...), nil
}

// InTx discards the orders fn inserted, with their items, when fn fails.
// Writes of other transactions are left alone.
func (m *MockStore) InTx(ctx context.Context, fn func(store.OrderStore) error) error {
	m.mu.Lock()
	m.TxCalls++
	m.mu.Unlock()

	tx := &mockTx{MockStore: m}
	if err := fn(tx); err != nil {
		m.mu.Lock()
		for _, id := range tx.inserted {
			delete(m.orders, id)
			delete(m.items, id)
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// mockTx remembers which orders a transaction created.
type mockTx struct {
	*MockStore
	inserted []string
}

func (tx *mockTx) InsertOrder(ctx context.Context, o *orders.Order) (string, error) {
	id, err := tx.MockStore.InsertOrder(ctx, o)
	if err == nil {
		tx.inserted = append(tx.inserted, id)
	}
	return id, err
}
