package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/ariefcatur/go-storefront-orders/internal/store"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-inventory"
	log := logging.New(service, cfg.LogLevel)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	producers := map[string]*kafkax.Producer{}
	for _, topic := range []string{orders.TopicStockReleased, orders.TopicStockReservationFailed} {
		p := kafkax.NewProducer(cfg.KafkaBrokers, topic, 1024, log)
		p.Start()
		producers[topic] = p
	}

	svc := checkout.NewService(checkout.Deps{
		Store:  store.NewPostgresStore(db),
		Events: kafkax.NewBus(service, producers),
		Log:    log,
	})

	h := &inventory.CancellationHandler{
		Release: func(ctx context.Context, orderID string) error {
			if res := svc.ReleaseOrder(ctx, orderID); !res.Success {
				return res.Err
			}
			return nil
		},
		Dedup:       redisx.NewCache(rdb),
		Log:         log,
		ServiceName: service,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReleaseGroup, orders.TopicOrderCancelled, cfg.ReleaseWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info().Str("group", cfg.ReleaseGroup).Str("topic", orders.TopicOrderCancelled).
			Int("workers", cfg.ReleaseWorkers).Msg("release consumer started")
		if err := cons.Start(ctx, h.HandleOrderCancelled); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down consumer")
	cancel()
	<-done
	for _, p := range producers {
		p.Close()
	}
	for _, p := range producers {
		p.WaitClosed()
	}
}
