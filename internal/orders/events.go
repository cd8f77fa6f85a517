package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated           = "OrderCreated"
	EventOrderCancelled         = "OrderCancelled"
	EventStockReservationFailed = "StockReservationFailed"
	EventStockReleased          = "StockReleased"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string  `json:"product_id"`
	VariantID *string `json:"variant_id,omitempty"`
	Qty       int     `json:"qty"`
}

func ItemQtys(items []LineItem) []ItemQty {
	out := make([]ItemQty, 0, len(items))
	for _, it := range items {
		out = append(out, ItemQty{ProductID: it.ProductID, VariantID: it.VariantID, Qty: it.Quantity})
	}
	return out
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	StoreID     string          `json:"store_id"`
	CustomerID  *string         `json:"customer_id,omitempty"`
	Items       []ItemQty       `json:"items"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
}

// OrderCancelledPayload is produced by the order-editing side.
type OrderCancelledPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

type StockFailureDetail struct {
	ProductID string  `json:"product_id"`
	VariantID *string `json:"variant_id,omitempty"`
	Qty       int     `json:"qty"`
	Error     string  `json:"error"`
}

type StockReservationFailedPayload struct {
	OrderID string               `json:"order_id"`
	Action  Action               `json:"action"`
	Details []StockFailureDetail `json:"details"`
}

func FailureDetails(fs []LineFailure) []StockFailureDetail {
	out := make([]StockFailureDetail, 0, len(fs))
	for _, f := range fs {
		out = append(out, StockFailureDetail{ProductID: f.ProductID, VariantID: f.VariantID, Qty: f.Quantity, Error: f.Err.Error()})
	}
	return out
}

type StockReleasedPayload struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
}
