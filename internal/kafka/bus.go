package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const eventVersion = 1

type publisher interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// Bus wraps domain payloads in an Envelope and routes them to the producer
// of their topic.
type Bus struct {
	service   string
	producers map[string]publisher
	now       func() time.Time
}

func NewBus(service string, producers map[string]*Producer) *Bus {
	b := &Bus{service: service, producers: make(map[string]publisher, len(producers)), now: time.Now}
	for topic, p := range producers {
		b.producers[topic] = p
	}
	return b
}

func (b *Bus) PublishEvent(ctx context.Context, topic, eventType, orderID string, payload any) error {
	p, ok := b.producers[topic]
	if !ok {
		return errors.Errorf("no producer for topic %s", topic)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal %s payload", eventType)
	}

	env := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  eventVersion,
		OccurredAt:    b.now().UTC(),
		Producer:      b.service,
		CorrelationID: orderID,
		Payload:       raw,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	value, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}

	headers := []kafka.Header{
		{Key: "x-event-type", Value: []byte(eventType)},
		{Key: "x-event-version", Value: []byte(strconv.Itoa(eventVersion))},
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return errors.Wrapf(p.Publish(ctx, orders.PartitionKey(orderID), value, headers...), "publish %s", eventType)
}
