package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/metrics"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stage is where an order placement is, or where it stopped.
type Stage string

const (
	StageValidating Stage = "validating"
	StageWriting    Stage = "writing"
	StageReserving  Stage = "reserving"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

const (
	ChannelAdmin      = "admin"
	ChannelStorefront = "storefront"
)

// EventPublisher hands domain events to the outside world. Publishing is
// best-effort: a failed publish never fails an order.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, eventType, orderID string, payload any) error
}

// Result is the only thing the order entry points return. Err keeps the
// underlying error for errors.Is; it is not serialized.
type Result struct {
	Success     bool     `json:"success"`
	OrderID     string   `json:"order_id,omitempty"`
	OrderNumber string   `json:"order_number,omitempty"`
	Stage       Stage    `json:"stage"`
	FailedAt    Stage    `json:"failed_at,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Error       string   `json:"error,omitempty"`
	Err         error    `json:"-"`
}

func failed(at Stage, err error) Result {
	return Result{Stage: StageFailed, FailedAt: at, Error: err.Error(), Err: err}
}

type Deps struct {
	Store   store.Store
	Events  EventPublisher // optional
	Log     zerolog.Logger
	Metrics *metrics.Metrics // optional
}

// Service sequences validation, the order write and the stock reservation.
type Service struct {
	store     store.Store
	validator *inventory.Validator
	writer    *Writer
	mutator   *inventory.Mutator
	events    EventPublisher
	log       zerolog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	validate  *validator.Validate
	now       func() time.Time
}

func NewService(d Deps) *Service {
	lookup := inventory.NewLookup(d.Store, d.Log, d.Metrics)
	return &Service{
		store:     d.Store,
		validator: inventory.NewValidator(lookup),
		writer:    NewWriter(d.Store),
		mutator:   inventory.NewMutator(lookup, d.Store, d.Log, d.Metrics),
		events:    d.Events,
		log:       d.Log,
		metrics:   d.Metrics,
		tracer:    otel.Tracer("checkout"),
		validate:  newValidate(),
		now:       time.Now,
	}
}

type placement struct {
	channel         string
	requireCustomer bool
	status          orders.Status
	paymentStatus   orders.PaymentStatus
}

// CreateOrder places an order authored in the admin order builder. A linked
// customer record is optional.
func (s *Service) CreateOrder(ctx context.Context, req OrderRequest) Result {
	return s.place(ctx, req, placement{
		channel:       ChannelAdmin,
		status:        orders.StatusConfirmed,
		paymentStatus: orders.PaymentPending,
	})
}

// CreateCustomerOrder places a self-service storefront order. The buyer's
// store_customer link is mandatory.
func (s *Service) CreateCustomerOrder(ctx context.Context, req OrderRequest) Result {
	return s.place(ctx, req, placement{
		channel:         ChannelStorefront,
		requireCustomer: true,
		status:          orders.StatusPending,
		paymentStatus:   orders.PaymentPending,
	})
}

func (s *Service) place(ctx context.Context, req OrderRequest, p placement) (res Result) {
	ctx, span := s.tracer.Start(ctx, "checkout.PlaceOrder", trace.WithAttributes(
		attribute.String("order.channel", p.channel),
		attribute.String("order.store_id", req.StoreID),
		attribute.Int("order.lines", len(req.Items)),
	))
	defer span.End()

	stage := StageValidating
	log := s.log.With().Str("channel", p.channel).Str("store_id", req.StoreID).Logger()

	defer func() {
		if r := recover(); r != nil {
			res = failed(stage, fmt.Errorf("order placement panicked: %v", r))
		}
		if !res.Success {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Error)
			s.metrics.OrderRejected(rejectReason(res.Err))
			log.Warn().Str("failed_at", string(res.FailedAt)).Err(res.Err).Msg("order rejected")
		}
	}()

	// Validating
	span.AddEvent(string(stage))
	if err := checkRequest(s.validate, req, p.requireCustomer); err != nil {
		return failed(stage, err)
	}
	if err := s.validator.Validate(ctx, req.Items); err != nil {
		return failed(stage, err)
	}

	// Writing
	stage = StageWriting
	span.AddEvent(string(stage))
	o, items := s.buildOrder(req, p)
	orderID, err := s.writer.Write(ctx, &o, items)
	if err != nil {
		return failed(stage, err)
	}
	span.SetAttributes(attribute.String("order.id", orderID))
	log = log.With().Str("order_id", orderID).Str("order_number", o.OrderNumber).Logger()

	// Reserving
	stage = StageReserving
	span.AddEvent(string(stage))
	res = Result{Success: true, OrderID: orderID, OrderNumber: o.OrderNumber, Stage: StageDone}
	mr := s.mutator.Mutate(ctx, items, orders.ActionReserve)
	s.markReserved(ctx, log, mr.Successes)
	if rerr := mr.Err(); rerr != nil {
		// The order stands; stock counters need manual reconciliation.
		res.Warnings = append(res.Warnings, rerr.Error())
		res.Err = rerr
		span.AddEvent("reservation incomplete", trace.WithAttributes(attribute.Int("failed_lines", len(mr.Failures))))
		log.Error().Err(rerr).Msg("order created but stock reservation incomplete")
		s.publish(ctx, orders.TopicStockReservationFailed, orders.EventStockReservationFailed, orderID,
			orders.StockReservationFailedPayload{OrderID: orderID, Action: orders.ActionReserve, Details: orders.FailureDetails(mr.Failures)})
	}

	s.publish(ctx, orders.TopicOrderCreated, orders.EventOrderCreated, orderID, orders.OrderCreatedPayload{
		OrderID:     orderID,
		OrderNumber: o.OrderNumber,
		StoreID:     o.StoreID,
		CustomerID:  o.CustomerID,
		Items:       orders.ItemQtys(items),
		Total:       o.Breakdown.Total,
		Currency:    o.Currency,
	})
	s.metrics.OrderCreated(p.channel)
	log.Info().Int("lines", len(items)).Str("total", o.Breakdown.Total.String()).Msg("order created")
	return res
}

func (s *Service) buildOrder(req OrderRequest, p placement) (orders.Order, []orders.LineItem) {
	now := s.now().UTC()
	o := orders.Order{
		OrderNumber:     req.OrderNumber,
		StoreID:         req.StoreID,
		CustomerID:      req.CustomerID,
		Customer:        req.Customer,
		Breakdown:       req.Breakdown,
		Currency:        strings.ToUpper(req.Currency),
		Status:          req.Status,
		PaymentStatus:   req.PaymentStatus,
		PaymentMethod:   req.PaymentMethod,
		DeliveryOption:  req.DeliveryOption,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           req.Notes,
		CreatedAt:       now,
	}
	if o.OrderNumber == "" {
		o.OrderNumber = NewOrderNumber(now)
	}
	if o.Status == "" {
		o.Status = p.status
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = p.paymentStatus
	}
	if o.CustomerID != nil && *o.CustomerID == "" {
		o.CustomerID = nil
	}

	items := make([]orders.LineItem, len(req.Items))
	for i, it := range req.Items {
		if it.VariantID != nil && *it.VariantID == "" {
			it.VariantID = nil
		}
		if it.LineTotal.IsZero() {
			it.LineTotal = it.ExpectedLineTotal()
		}
		it.ID, it.OrderID, it.StockState = "", "", ""
		items[i] = it
	}
	return o, items
}

// NewOrderNumber returns a human-readable number such as ORD-20261015-7F3A9C.
func NewOrderNumber(at time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "ORD-" + at.Format("20060102") + "-" + suffix
}

// ReleaseItems returns reserved units to available for the given lines.
// It is not tied to any order status change.
func (s *Service) ReleaseItems(ctx context.Context, items []orders.LineItem) inventory.MutationResult {
	ctx, span := s.tracer.Start(ctx, "checkout.ReleaseItems", trace.WithAttributes(attribute.Int("order.lines", len(items))))
	defer span.End()
	return s.mutator.Mutate(ctx, items, orders.ActionRelease)
}

// markReserved records which lines took stock so a later release returns
// exactly those units.
func (s *Service) markReserved(ctx context.Context, log zerolog.Logger, lines []inventory.LineSuccess) {
	for _, l := range lines {
		ok, err := s.store.SetItemStockState(ctx, l.ItemID, orders.StockPending, orders.StockReserved)
		if err != nil || !ok {
			// The units stay reserved but a release will not return them.
			log.Error().Err(err).Str("item_id", l.ItemID).Str("product_id", l.ProductID).Msg("mark line reserved")
		}
	}
}

// ReleaseOrder releases the stock held by the lines of an order, for the
// cancel and edit flows. Only lines marked reserved are released, and each
// is claimed before its units move, so repeating the call releases nothing.
func (s *Service) ReleaseOrder(ctx context.Context, orderID string) Result {
	o, items, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return failed(StageValidating, err)
	}
	if len(items) == 0 {
		return Result{Success: true, OrderID: o.ID, OrderNumber: o.OrderNumber, Stage: StageDone,
			Warnings: []string{"order has no line items"}}
	}

	claimed := make([]orders.LineItem, 0, len(items))
	var (
		claimFailures []orders.LineFailure
		skipped       int
	)
	for _, it := range items {
		if it.StockState != orders.StockReserved {
			skipped++
			continue
		}
		ok, err := s.store.SetItemStockState(ctx, it.ID, orders.StockReserved, orders.StockReleased)
		if err != nil {
			claimFailures = append(claimFailures, orders.LineFailure{
				ItemID: it.ID, ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity, Err: err,
			})
			continue
		}
		if ok {
			claimed = append(claimed, it)
		} else {
			skipped++
		}
	}
	if len(claimed) == 0 && len(claimFailures) == 0 {
		return Result{Success: true, OrderID: o.ID, OrderNumber: o.OrderNumber, Stage: StageDone,
			Warnings: []string{"order holds no reserved stock"}}
	}

	mr := s.ReleaseItems(ctx, claimed)
	for _, f := range mr.Failures {
		// Give the claim back so a retry can release the line.
		if _, err := s.store.SetItemStockState(ctx, f.ItemID, orders.StockReleased, orders.StockReserved); err != nil {
			s.log.Error().Err(err).Str("item_id", f.ItemID).Msg("restore reserved state")
		}
	}
	mr.Failures = append(mr.Failures, claimFailures...)

	released := make([]orders.LineItem, 0, len(mr.Successes))
	for _, ok := range mr.Successes {
		released = append(released, orders.LineItem{ProductID: ok.ProductID, VariantID: ok.VariantID, Quantity: ok.Quantity})
	}
	if len(released) > 0 {
		s.publish(ctx, orders.TopicStockReleased, orders.EventStockReleased, orderID,
			orders.StockReleasedPayload{OrderID: orderID, Items: orders.ItemQtys(released)})
	}

	if rerr := mr.Err(); rerr != nil {
		s.publish(ctx, orders.TopicStockReservationFailed, orders.EventStockReservationFailed, orderID,
			orders.StockReservationFailedPayload{OrderID: orderID, Action: orders.ActionRelease, Details: orders.FailureDetails(mr.Failures)})
		res := failed(StageReserving, rerr)
		res.OrderID, res.OrderNumber = o.ID, o.OrderNumber
		return res
	}
	s.log.Info().Str("order_id", orderID).Int("lines", len(claimed)).Int("skipped", skipped).Msg("stock released")
	res := Result{Success: true, OrderID: o.ID, OrderNumber: o.OrderNumber, Stage: StageDone}
	if skipped > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d line(s) held no reserved stock", skipped))
	}
	return res
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (orders.Order, []orders.LineItem, error) {
	return s.store.GetOrder(ctx, orderID)
}

// DeleteOrphanOrder removes a header that has no line items, e.g. one left
// behind by an interrupted legacy write. Orders with items are refused.
func (s *Service) DeleteOrphanOrder(ctx context.Context, orderID string) error {
	_, items, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if len(items) > 0 {
		return errors.Wrapf(orders.ErrOrderHasItems, "order %s has %d line item(s)", orderID, len(items))
	}
	if err := s.store.DeleteOrder(ctx, orderID); err != nil {
		return err
	}
	s.log.Warn().Str("order_id", orderID).Msg("orphan order header deleted")
	return nil
}

func (s *Service) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, topic, eventType, orderID, payload); err != nil {
		s.log.Error().Err(err).Str("topic", topic).Str("order_id", orderID).Msg("publish event")
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, orders.ErrValidation):
		return "validation"
	case errors.Is(err, orders.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, orders.ErrInventoryNotFound):
		return "inventory_not_found"
	case errors.Is(err, orders.ErrDuplicateOrderNumber):
		return "duplicate_order_number"
	case errors.Is(err, orders.ErrPersistence):
		return "persistence"
	case errors.Is(err, orders.ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, orders.ErrReservation):
		return "reservation"
	}
	return "internal"
}
