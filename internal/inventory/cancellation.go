package inventory

import (
	"context"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// Deduper remembers which events a service already handled.
type Deduper interface {
	Seen(ctx context.Context, service, eventID string) (bool, error)
	MarkSeen(ctx context.Context, service, eventID string) error
}

// ReleaseFunc returns the stock of every line of an order to available.
type ReleaseFunc func(ctx context.Context, orderID string) error

// CancellationHandler consumes OrderCancelled events and releases the
// order's stock exactly once per event.
type CancellationHandler struct {
	Release     ReleaseFunc
	Dedup       Deduper
	Log         zerolog.Logger
	ServiceName string
}

func (h *CancellationHandler) HandleOrderCancelled(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// Redelivery will not fix a malformed message.
		h.Log.Error().Err(err).Int64("offset", m.Offset).Msg("drop undecodable message")
		return nil
	}
	if env.EventType != orders.EventOrderCancelled {
		return nil
	}
	log := h.Log.With().Str("event_id", env.EventID).Str("trace_id", env.TraceID).Logger()

	// An unknown dedup state means retry later; release claims each line once.
	seen, err := h.Dedup.Seen(ctx, h.ServiceName, env.EventID)
	if err != nil {
		return err
	}
	if seen {
		log.Debug().Msg("duplicate event skipped")
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
	if err != nil || p.OrderID == "" {
		log.Error().Err(err).Msg("drop OrderCancelled without order id")
		return nil
	}
	log = log.With().Str("order_id", p.OrderID).Logger()

	switch err := h.Release(ctx, p.OrderID); {
	case err == nil:
		log.Info().Str("reason", p.Reason).Msg("stock released for cancelled order")
	case errors.Is(err, orders.ErrOrderNotFound):
		log.Warn().Err(err).Msg("cancelled order not found")
	case errors.Is(err, orders.ErrReservation):
		// Failed lines stay reserved for reconciliation; retrying would block the partition.
		log.Error().Err(err).Msg("stock release partially failed")
	default:
		return errors.WithMessage(err, "release order "+p.OrderID)
	}

	if err := h.Dedup.MarkSeen(ctx, h.ServiceName, env.EventID); err != nil {
		log.Warn().Err(err).Msg("dedup mark failed")
	}
	return nil
}
