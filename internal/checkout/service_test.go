package checkout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/store/mocks"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedEvent struct {
	Topic     string
	EventType string
	OrderID   string
	Payload   any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, topic, eventType, orderID string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{Topic: topic, EventType: eventType, OrderID: orderID, Payload: payload})
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

func newTestService() (*Service, *mocks.MockStore, *recordingPublisher) {
	st := mocks.NewMockStore()
	pub := &recordingPublisher{}
	svc := NewService(Deps{Store: st, Events: pub, Log: zerolog.Nop()})
	svc.now = func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }
	return svc, st, pub
}

func strPtr(s string) *string { return &s }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// validRequest returns a request whose totals satisfy the breakdown invariant.
func validRequest(lines ...orders.LineItem) OrderRequest {
	subtotal := decimal.Zero
	for i := range lines {
		lines[i].LineTotal = lines[i].ExpectedLineTotal()
		subtotal = subtotal.Add(lines[i].LineTotal)
	}
	b := orders.Breakdown{
		Subtotal:     subtotal,
		Tax:          dec("1.50"),
		Discount:     dec("2.00"),
		DeliveryCost: dec("4.00"),
	}
	b.Total = b.ExpectedTotal()
	return OrderRequest{
		StoreID:    "store-1",
		CustomerID: strPtr("cust-1"),
		Customer:   orders.CustomerSnapshot{Name: "Dana Reyes", Phone: "+15550100", Email: "dana@example.com"},
		Items:      lines,
		Breakdown:  b,
		Currency:   "usd",
	}
}

func mug(qty int) orders.LineItem {
	return orders.LineItem{ProductID: "mug", Name: "Enamel Mug", Quantity: qty, UnitPrice: dec("12.00")}
}

// ============================================
// Create Order Tests
// ============================================

func TestService_CreateOrder_ScenarioA(t *testing.T) {
	svc, st, pub := newTestService()
	recID := st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	req := validRequest(mug(3))
	require.True(t, req.Breakdown.Consistent())

	res := svc.CreateOrder(context.Background(), req)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, StageDone, res.Stage)
	assert.Empty(t, res.Warnings)
	assert.NoError(t, res.Err)
	assert.Regexp(t, `^ORD-20261015-[0-9A-F]{6}$`, res.OrderNumber)

	rec, _ := st.Inventory(recID)
	assert.Equal(t, orders.Counters{Available: 2, Reserved: 3}, rec.Counters())

	o, items, err := st.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusConfirmed, o.Status)
	assert.Equal(t, orders.PaymentPending, o.PaymentStatus)
	assert.Equal(t, "USD", o.Currency)
	assert.True(t, o.Breakdown.Consistent())
	require.Len(t, items, 1)
	assert.Equal(t, res.OrderID, items[0].OrderID)
	assert.True(t, items[0].LineTotal.Equal(dec("36")))
	assert.Equal(t, orders.StockReserved, items[0].StockState)

	assert.Equal(t, []string{orders.EventOrderCreated}, pub.types())
}

func TestService_CreateOrder_DuplicateOrderNumber(t *testing.T) {
	svc, st, _ := newTestService()
	st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	req := validRequest(mug(1))
	req.OrderNumber = "ORD-MANUAL-1"

	first := svc.CreateOrder(context.Background(), req)
	second := svc.CreateOrder(context.Background(), func() OrderRequest {
		r := validRequest(mug(1))
		r.OrderNumber = "ORD-MANUAL-1"
		return r
	}())

	require.True(t, first.Success, first.Error)
	assert.False(t, second.Success)
	assert.Equal(t, StageWriting, second.FailedAt)
	assert.ErrorIs(t, second.Err, orders.ErrDuplicateOrderNumber)
	assert.Equal(t, "duplicate_order_number", rejectReason(second.Err))
}

func TestService_CreateOrder_IgnoresClientStockState(t *testing.T) {
	svc, st, _ := newTestService()
	st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	teeRec := st.AddInventory(orders.InventoryRecord{ProductID: "tee", QuantityAvailable: 5})
	st.AdjustErrs[teeRec] = errors.New("lock timeout")
	tee := orders.LineItem{ProductID: "tee", Name: "Tee", Quantity: 2, UnitPrice: dec("20"), StockState: orders.StockReserved}

	res := svc.CreateOrder(context.Background(), validRequest(mug(1), tee))

	require.True(t, res.Success, res.Error)
	_, items, err := st.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, orders.StockReserved, items[0].StockState)
	assert.Equal(t, orders.StockPending, items[1].StockState)
}

func TestService_CreateOrder_CustomerLinkOptional(t *testing.T) {
	svc, st, _ := newTestService()
	st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	req := validRequest(mug(1))
	req.CustomerID = nil

	res := svc.CreateOrder(context.Background(), req)

	require.True(t, res.Success, res.Error)
	o, _, _ := st.GetOrder(context.Background(), res.OrderID)
	assert.Nil(t, o.CustomerID)
}

func TestService_CreateCustomerOrder_Defaults(t *testing.T) {
	svc, st, _ := newTestService()
	st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})

	res := svc.CreateCustomerOrder(context.Background(), validRequest(mug(1)))

	require.True(t, res.Success, res.Error)
	o, _, _ := st.GetOrder(context.Background(), res.OrderID)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, "cust-1", *o.CustomerID)
}

func TestService_CreateCustomerOrder_RequiresCustomerLink(t *testing.T) {
	svc, st, _ := newTestService()
	st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	req := validRequest(mug(1))
	req.CustomerID = strPtr("")

	res := svc.CreateCustomerOrder(context.Background(), req)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, orders.ErrValidation)
	assert.Equal(t, "customer_id: is required for storefront checkout", res.Error)
	assert.Empty(t, st.SelectCalls)
}

func TestService_CreateOrder_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *OrderRequest)
		wantErr string
	}{
		{"missing name", func(r *OrderRequest) { r.Customer.Name = "  " }, "customer.name: is required"},
		{"missing phone", func(r *OrderRequest) { r.Customer.Phone = "" }, "customer.phone: is required"},
		{"no items", func(r *OrderRequest) { r.Items = nil }, "items: at least one line item is required"},
		{"missing store", func(r *OrderRequest) { r.StoreID = "" }, "store_id: is required"},
		{"zero quantity", func(r *OrderRequest) { r.Items[0].Quantity = 0 }, "items[0].quantity: must be greater than 0"},
		{"missing product", func(r *OrderRequest) { r.Items[0].ProductID = "" }, "items[0].product_id: is required"},
		{"bad currency", func(r *OrderRequest) { r.Currency = "dollars" }, "currency: must be 3 characters"},
		{"bad email", func(r *OrderRequest) { r.Customer.Email = "nope" }, "customer.email: must be a valid email"},
		{"negative discount", func(r *OrderRequest) { r.Breakdown.Discount = dec("-1") }, "breakdown.discount: must not be negative"},
		{"negative price", func(r *OrderRequest) { r.Items[0].UnitPrice = dec("-3") }, "items: price of Enamel Mug must not be negative"},
		{"unknown status", func(r *OrderRequest) { r.Status = "lost" }, "status: unknown status lost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st, pub := newTestService()
			st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
			req := validRequest(mug(1))
			tt.mutate(&req)

			res := svc.CreateOrder(context.Background(), req)

			assert.False(t, res.Success)
			assert.Equal(t, StageFailed, res.Stage)
			assert.Equal(t, StageValidating, res.FailedAt)
			assert.ErrorIs(t, res.Err, orders.ErrValidation)
			assert.Equal(t, tt.wantErr, res.Error)
			assert.Empty(t, st.InsertOrderCalls)
			assert.Empty(t, pub.types())
		})
	}
}

func TestService_CreateOrder_ScenarioB(t *testing.T) {
	svc, st, pub := newTestService()
	recID := st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 2})

	res := svc.CreateOrder(context.Background(), validRequest(mug(3)))

	assert.False(t, res.Success)
	assert.Equal(t, StageValidating, res.FailedAt)
	assert.ErrorIs(t, res.Err, orders.ErrInsufficientStock)
	assert.Contains(t, res.Error, "Enamel Mug")
	assert.Contains(t, res.Error, "available=2")
	assert.Contains(t, res.Error, "requested=3")
	assert.Equal(t, 0, st.OrderCount())
	assert.Empty(t, st.InsertOrderCalls)
	assert.Empty(t, st.AdjustCalls)
	assert.Empty(t, pub.types())

	rec, _ := st.Inventory(recID)
	assert.Equal(t, orders.Counters{Available: 2}, rec.Counters())
}

func TestService_CreateOrder_MissingInventory(t *testing.T) {
	svc, st, _ := newTestService()

	res := svc.CreateOrder(context.Background(), validRequest(mug(1)))

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, orders.ErrInventoryNotFound)
	assert.Equal(t, 0, st.OrderCount())
}

func TestService_CreateOrder_ScenarioC(t *testing.T) {
	svc, st, pub := newTestService()
	st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	st.AddInventory(orders.InventoryRecord{ProductID: "tee", QuantityAvailable: 5})
	st.InsertItemsFailProduct = "tee"
	tee := orders.LineItem{ProductID: "tee", Name: "Tee", Quantity: 1, UnitPrice: dec("20")}

	res := svc.CreateOrder(context.Background(), validRequest(mug(1), tee))

	assert.False(t, res.Success)
	assert.Equal(t, StageWriting, res.FailedAt)
	assert.ErrorIs(t, res.Err, orders.ErrPersistence)
	require.Len(t, st.InsertOrderCalls, 1)
	assert.Equal(t, 0, st.OrderCount(), "header must not survive an item failure")
	assert.Empty(t, st.AdjustCalls, "nothing is reserved for a failed write")
	assert.Empty(t, pub.types())
}

func TestService_CreateOrder_ScenarioD(t *testing.T) {
	svc, st, _ := newTestService()
	st.AddInventory(orders.InventoryRecord{ID: "inv-b", ProductID: "mug", QuantityAvailable: 1})
	st.AddInventory(orders.InventoryRecord{ID: "inv-a", ProductID: "mug", QuantityAvailable: 6})

	res := svc.CreateOrder(context.Background(), validRequest(mug(4)))

	require.True(t, res.Success, res.Error)
	first, _ := st.Inventory("inv-a")
	other, _ := st.Inventory("inv-b")
	assert.Equal(t, orders.Counters{Available: 2, Reserved: 4}, first.Counters())
	assert.Equal(t, orders.Counters{Available: 1}, other.Counters())
}

func TestService_CreateOrder_ReservationFailureIsAWarning(t *testing.T) {
	svc, st, pub := newTestService()
	st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	teeRec := st.AddInventory(orders.InventoryRecord{ProductID: "tee", QuantityAvailable: 5})
	st.AdjustErrs[teeRec] = errors.New("lock timeout")
	tee := orders.LineItem{ProductID: "tee", Name: "Tee", Quantity: 2, UnitPrice: dec("20")}

	res := svc.CreateOrder(context.Background(), validRequest(mug(1), tee))

	require.True(t, res.Success)
	assert.True(t, st.HasOrder(res.OrderID), "order is kept")
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "lock timeout")
	assert.ErrorIs(t, res.Err, orders.ErrReservation)
	assert.Equal(t, []string{orders.EventStockReservationFailed, orders.EventOrderCreated}, pub.types())

	payload, ok := pub.events[0].Payload.(orders.StockReservationFailedPayload)
	require.True(t, ok)
	require.Len(t, payload.Details, 1)
	assert.Equal(t, "tee", payload.Details[0].ProductID)
}

func TestService_CreateOrder_PublishFailureDoesNotFailOrder(t *testing.T) {
	svc, st, pub := newTestService()
	st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	pub.err = errors.New("broker down")

	res := svc.CreateOrder(context.Background(), validRequest(mug(1)))

	assert.True(t, res.Success, res.Error)
}

func TestService_CreateOrder_WithoutPublisher(t *testing.T) {
	st := mocks.NewMockStore()
	st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	svc := NewService(Deps{Store: st, Log: zerolog.Nop()})

	res := svc.CreateOrder(context.Background(), validRequest(mug(1)))

	assert.True(t, res.Success, res.Error)
}

func TestService_CreateOrder_ConcurrentLastUnit(t *testing.T) {
	svc, st, _ := newTestService()
	recID := st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 1})

	var wg sync.WaitGroup
	results := make([]Result, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.CreateCustomerOrder(context.Background(), validRequest(mug(1)))
		}(i)
	}
	wg.Wait()

	rec, _ := st.Inventory(recID)
	assert.Equal(t, orders.Counters{Available: 0, Reserved: 1}, rec.Counters())

	clean := 0
	for _, r := range results {
		if r.Success && len(r.Warnings) == 0 {
			clean++
		}
	}
	assert.Equal(t, 1, clean, "exactly one order holds the unit")
}

// ============================================
// Release Tests
// ============================================

func TestService_ReleaseOrder_RoundTrip(t *testing.T) {
	svc, st, pub := newTestService()
	mugRec := st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5, QuantityReserved: 1})
	redRec := st.AddInventory(orders.InventoryRecord{ProductID: "tee", VariantID: strPtr("tee-red"), QuantityAvailable: 3})
	tee := orders.LineItem{ProductID: "tee", VariantID: strPtr("tee-red"), Name: "Tee", Quantity: 3, UnitPrice: dec("20"),
		Variant: &orders.VariantSnapshot{Name: "Red", Color: "#ff0000", BasePrice: dec("20")}}

	created := svc.CreateOrder(context.Background(), validRequest(mug(4), tee))
	require.True(t, created.Success, created.Error)

	released := svc.ReleaseOrder(context.Background(), created.OrderID)

	require.True(t, released.Success, released.Error)
	m, _ := st.Inventory(mugRec)
	r, _ := st.Inventory(redRec)
	assert.Equal(t, orders.Counters{Available: 5, Reserved: 1}, m.Counters())
	assert.Equal(t, orders.Counters{Available: 3, Reserved: 0}, r.Counters())
	assert.Contains(t, pub.types(), orders.EventStockReleased)
	assert.True(t, st.HasOrder(created.OrderID), "release does not touch the order")
}

func TestService_ReleaseOrder_NotFound(t *testing.T) {
	svc, _, _ := newTestService()

	res := svc.ReleaseOrder(context.Background(), "nope")

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, orders.ErrOrderNotFound)
}

func TestService_ReleaseOrder_PartialFailure(t *testing.T) {
	svc, st, pub := newTestService()
	st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityReserved: 2})
	st.PutOrder(orders.Order{ID: "o-1", OrderNumber: "ORD-1"}, []orders.LineItem{
		{ID: "item-mug", OrderID: "o-1", ProductID: "mug", Quantity: 2, StockState: orders.StockReserved},
		{ID: "item-gone", OrderID: "o-1", ProductID: "gone", Quantity: 1, StockState: orders.StockReserved},
	})

	res := svc.ReleaseOrder(context.Background(), "o-1")

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, orders.ErrReservation)
	assert.Equal(t, "o-1", res.OrderID)
	assert.Equal(t, []string{orders.EventStockReleased, orders.EventStockReservationFailed}, pub.types())

	_, items, err := st.GetOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StockReleased, items[0].StockState)
	assert.Equal(t, orders.StockReserved, items[1].StockState, "failed line can be released again")
}

func TestService_ReleaseOrder_Twice(t *testing.T) {
	svc, st, pub := newTestService()
	recID := st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})

	created := svc.CreateOrder(context.Background(), validRequest(mug(3)))
	require.True(t, created.Success, created.Error)

	first := svc.ReleaseOrder(context.Background(), created.OrderID)
	require.True(t, first.Success, first.Error)
	rec, _ := st.Inventory(recID)
	assert.Equal(t, orders.Counters{Available: 5, Reserved: 0}, rec.Counters())

	second := svc.ReleaseOrder(context.Background(), created.OrderID)

	require.True(t, second.Success, second.Error)
	assert.Equal(t, []string{"order holds no reserved stock"}, second.Warnings)
	rec, _ = st.Inventory(recID)
	assert.Equal(t, orders.Counters{Available: 5, Reserved: 0}, rec.Counters())
	assert.Equal(t, []string{orders.EventOrderCreated, orders.EventStockReleased}, pub.types())
}

func TestService_ReleaseOrder_ConcurrentCallsReleaseOnce(t *testing.T) {
	svc, st, _ := newTestService()
	recID := st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	created := svc.CreateOrder(context.Background(), validRequest(mug(3)))
	require.True(t, created.Success, created.Error)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.ReleaseOrder(context.Background(), created.OrderID)
		}()
	}
	wg.Wait()

	rec, _ := st.Inventory(recID)
	assert.Equal(t, orders.Counters{Available: 5, Reserved: 0}, rec.Counters())
}

func TestService_ReleaseOrder_SkipsLinesNeverReserved(t *testing.T) {
	svc, st, _ := newTestService()
	mugRec := st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 5})
	teeRec := st.AddInventory(orders.InventoryRecord{ProductID: "tee", QuantityAvailable: 5})
	st.AdjustErrs[teeRec] = errors.New("lock timeout")
	tee := orders.LineItem{ProductID: "tee", Name: "Tee", Quantity: 2, UnitPrice: dec("20")}

	created := svc.CreateOrder(context.Background(), validRequest(mug(1), tee))
	require.True(t, created.Success, created.Error)
	delete(st.AdjustErrs, teeRec)

	res := svc.ReleaseOrder(context.Background(), created.OrderID)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"1 line(s) held no reserved stock"}, res.Warnings)
	m, _ := st.Inventory(mugRec)
	tr, _ := st.Inventory(teeRec)
	assert.Equal(t, orders.Counters{Available: 5, Reserved: 0}, m.Counters())
	assert.Equal(t, orders.Counters{Available: 5, Reserved: 0}, tr.Counters(), "no units credited")
}

func TestService_ReleaseOrder_ClaimError(t *testing.T) {
	svc, st, _ := newTestService()
	recID := st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityReserved: 2})
	st.PutOrder(orders.Order{ID: "o-1"}, []orders.LineItem{
		{ID: "item-mug", OrderID: "o-1", ProductID: "mug", Quantity: 2, StockState: orders.StockReserved},
	})
	st.StockStateErr = errors.New("connection reset")

	res := svc.ReleaseOrder(context.Background(), "o-1")

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, orders.ErrReservation)
	rec, _ := st.Inventory(recID)
	assert.Equal(t, orders.Counters{Available: 0, Reserved: 2}, rec.Counters())
}

func TestService_ReleaseItems(t *testing.T) {
	svc, st, _ := newTestService()
	recID := st.AddInventory(orders.InventoryRecord{ProductID: "mug", QuantityAvailable: 1, QuantityReserved: 4})

	mr := svc.ReleaseItems(context.Background(), []orders.LineItem{mug(4)})

	require.NoError(t, mr.Err())
	rec, _ := st.Inventory(recID)
	assert.Equal(t, orders.Counters{Available: 5, Reserved: 0}, rec.Counters())
}

// ============================================
// Orphan Cleanup Tests
// ============================================

func TestService_DeleteOrphanOrder(t *testing.T) {
	svc, st, _ := newTestService()
	st.PutOrder(orders.Order{ID: "orphan"}, nil)
	st.PutOrder(orders.Order{ID: "full"}, []orders.LineItem{{OrderID: "full", ProductID: "mug", Quantity: 1}})

	assert.NoError(t, svc.DeleteOrphanOrder(context.Background(), "orphan"))
	assert.False(t, st.HasOrder("orphan"))

	assert.ErrorIs(t, svc.DeleteOrphanOrder(context.Background(), "full"), orders.ErrOrderHasItems)
	assert.True(t, st.HasOrder("full"))

	assert.ErrorIs(t, svc.DeleteOrphanOrder(context.Background(), "missing"), orders.ErrOrderNotFound)
}
