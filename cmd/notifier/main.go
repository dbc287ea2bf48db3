package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/pickup-reservations/internal/config"
	"github.com/ariefcatur/pickup-reservations/internal/httpx"
	kafkax "github.com/ariefcatur/pickup-reservations/internal/kafka"
	"github.com/ariefcatur/pickup-reservations/internal/logging"
	"github.com/ariefcatur/pickup-reservations/internal/metrics"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
	"github.com/ariefcatur/pickup-reservations/internal/postgres"
	"github.com/ariefcatur/pickup-reservations/internal/redisx"
	"github.com/ariefcatur/pickup-reservations/internal/reservations"
)

// notifier drains the outbox to Kafka, consumes the delivery topic into the
// in-app inbox and, when enabled, expires stale reservations.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName+"-notifier")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 8)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	store := postgres.NewStore(db)

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer behind the breaker; closed only after the relay has stopped sending
	prod := kafkax.NewProducer(cfg.KafkaBrokers, notify.TopicNotificationRequested, log)
	dispatcher := notify.NewBreakerDispatcher(notify.NewKafkaDispatcher(prod), cfg.BreakerFailureRatio, cfg.BreakerTimeout, log)
	relay := notify.NewRelay(store, dispatcher, relayConfig(cfg), time.Now, log, m)

	inbox := notify.NewInbox(store, redisx.NewDeduper(rdb, cfg.ServiceName), log, m)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InboxGroup, notify.TopicNotificationRequested, cfg.InboxWorkers, log)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("worker", name).Msg("worker exit")
				cancel()
			}
		}()
	}

	run("relay", relay.Run)
	run("inbox", func(ctx context.Context) error { return cons.Start(ctx, inbox.Handle) })
	if cfg.ExpirySweepEnabled {
		coord := notify.NewCoordinator(cfg.ServiceName, time.Now)
		numbers := reservations.NewNumberer(redisx.NewSequence(rdb), cfg.Location(), time.Now)
		svc := reservations.NewService(store, numbers, coord, time.Now, log, m)
		svc.UseCache(redisx.NewReservationCache(rdb))
		run("expiry", func(ctx context.Context) error { return sweep(ctx, svc, cfg, log) })
	}

	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: httpx.NewRouter(log, reg, dispatcher.Healthy), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics listener")
		}
	}()

	log.Info().
		Str("group", cfg.InboxGroup).
		Str("topic", prod.Topic()).
		Int("workers", cfg.InboxWorkers).
		Bool("expiry_sweep", cfg.ExpirySweepEnabled).
		Msg("notifier started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down notifier")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
	wg.Wait()
	prod.Close()
}

func sweep(ctx context.Context, svc *reservations.Service, cfg config.Config, log zerolog.Logger) error {
	t := time.NewTicker(cfg.ExpiryInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n, err := svc.ExpireStale(ctx, cfg.ExpiryGrace, cfg.OutboxBatch)
			if err != nil {
				log.Warn().Err(err).Int("expired", n).Msg("expiry sweep")
				continue
			}
			if n > 0 {
				log.Info().Int("expired", n).Msg("expiry sweep")
			}
		}
	}
}

func relayConfig(cfg config.Config) notify.RelayConfig {
	rc := notify.DefaultRelayConfig()
	rc.BatchSize = cfg.OutboxBatch
	rc.PollInterval = cfg.OutboxPollInterval
	rc.MaxAttempts = cfg.OutboxMaxAttempts
	rc.InitialBackoff = cfg.OutboxBackoffInitial
	rc.MaxBackoff = cfg.OutboxBackoffMax
	return rc
}
