package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const headerIdempotencyKey = "Idempotency-Key"

type OrderService interface {
	CreateOrder(ctx context.Context, req checkout.OrderRequest) checkout.Result
	CreateCustomerOrder(ctx context.Context, req checkout.OrderRequest) checkout.Result
	ReleaseOrder(ctx context.Context, orderID string) checkout.Result
	GetOrder(ctx context.Context, orderID string) (orders.Order, []orders.LineItem, error)
	DeleteOrphanOrder(ctx context.Context, orderID string) error
}

// OrderCache is the Redis side of the handler: checkout idempotency keys and
// the order summary cache.
type OrderCache interface {
	IdempotentOrder(ctx context.Context, storeID, key string) (string, bool, error)
	RememberOrder(ctx context.Context, storeID, key, orderID string) error
	OrderSummary(ctx context.Context, orderID string) ([]byte, bool, error)
	PutOrderSummary(ctx context.Context, orderID string, body []byte) error
	DropOrderSummary(ctx context.Context, orderID string) error
}

type OrdersHandler struct {
	Orders  OrderService
	Cache   OrderCache // optional
	Log     zerolog.Logger
	Timeout time.Duration
}

type orderSummary struct {
	Order orders.Order      `json:"order"`
	Items []orders.LineItem `json:"items"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/admin/orders", h.createAdminOrder)
	r.Post("/orders", h.createCustomerOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/release", h.releaseOrder)
	r.Delete("/orders/{id}", h.deleteOrder)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(r.Context(), d)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (checkout.OrderRequest, bool) {
	var req checkout.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return req, false
	}
	return req, true
}

func (h *OrdersHandler) createAdminOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	h.writeResult(w, h.Orders.CreateOrder(ctx, req), http.StatusCreated)
}

func (h *OrdersHandler) createCustomerOrder(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	// Fast-path idempotency; the database stays the source of truth.
	key := r.Header.Get(headerIdempotencyKey)
	if key != "" && h.Cache != nil {
		orderID, found, err := h.Cache.IdempotentOrder(ctx, req.StoreID, key)
		if err != nil {
			h.Log.Warn().Err(err).Msg("idempotency lookup failed")
		}
		if found {
			res := checkout.Result{Success: true, OrderID: orderID, Stage: checkout.StageDone}
			if o, _, err := h.Orders.GetOrder(ctx, orderID); err == nil {
				res.OrderNumber = o.OrderNumber
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusOK, res)
			return
		}
	}

	res := h.Orders.CreateCustomerOrder(ctx, req)
	if res.Success && key != "" && h.Cache != nil {
		if err := h.Cache.RememberOrder(ctx, req.StoreID, key, res.OrderID); err != nil {
			h.Log.Warn().Err(err).Str("order_id", res.OrderID).Msg("idempotency store failed")
		}
	}
	h.writeResult(w, res, http.StatusCreated)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := h.ctx(r)
	defer cancel()

	if h.Cache != nil {
		if body, found, err := h.Cache.OrderSummary(ctx, orderID); err == nil && found {
			writeJSON(w, http.StatusOK, json.RawMessage(body))
			return
		}
	}

	o, items, err := h.Orders.GetOrder(ctx, orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []orders.LineItem{}
	}
	body, err := json.Marshal(orderSummary{Order: o, Items: items})
	if err != nil {
		h.writeError(w, errors.Wrap(err, "encode order summary"))
		return
	}
	if h.Cache != nil {
		if err := h.Cache.PutOrderSummary(ctx, orderID, body); err != nil {
			h.Log.Warn().Err(err).Str("order_id", orderID).Msg("cache order summary")
		}
	}
	writeJSON(w, http.StatusOK, json.RawMessage(body))
}

func (h *OrdersHandler) releaseOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := h.ctx(r)
	defer cancel()

	res := h.Orders.ReleaseOrder(ctx, orderID)
	h.dropSummary(ctx, orderID)
	h.writeResult(w, res, http.StatusOK)
}

func (h *OrdersHandler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := h.ctx(r)
	defer cancel()

	if err := h.Orders.DeleteOrphanOrder(ctx, orderID); err != nil {
		h.writeError(w, err)
		return
	}
	h.dropSummary(ctx, orderID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) dropSummary(ctx context.Context, orderID string) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.DropOrderSummary(ctx, orderID); err != nil {
		h.Log.Warn().Err(err).Str("order_id", orderID).Msg("drop cached summary")
	}
}

func (h *OrdersHandler) writeResult(w http.ResponseWriter, res checkout.Result, okCode int) {
	if res.Success {
		writeJSON(w, okCode, res)
		return
	}
	code := statusFor(res.Err)
	if code >= http.StatusInternalServerError {
		h.Log.Error().Err(res.Err).Str("failed_at", string(res.FailedAt)).Msg("order request failed")
		res.Error = "internal error"
	}
	writeJSON(w, code, res)
}

func (h *OrdersHandler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.Log.Error().Err(err).Msg("order request failed")
		writeJSON(w, code, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrDuplicateOrderNumber),
		errors.Is(err, orders.ErrOrderHasItems),
		errors.Is(err, orders.ErrReservation):
		return http.StatusConflict
	case errors.Is(err, orders.ErrInventoryNotFound):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
