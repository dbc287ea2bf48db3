package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/pickup-reservations/internal/config"
	"github.com/ariefcatur/pickup-reservations/internal/httpx"
	"github.com/ariefcatur/pickup-reservations/internal/logging"
	"github.com/ariefcatur/pickup-reservations/internal/memstore"
	"github.com/ariefcatur/pickup-reservations/internal/metrics"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
	"github.com/ariefcatur/pickup-reservations/internal/postgres"
	"github.com/ariefcatur/pickup-reservations/internal/redisx"
	"github.com/ariefcatur/pickup-reservations/internal/reservations"
)

type backend struct {
	store   reservations.Store
	outbox  notify.OutboxStore
	inbox   notify.InboxStore
	numbers reservations.NumberSource
	dedup   notify.Deduper
	cache   *redisx.ReservationCache // nil for the memory backend
	close   func()
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	be, err := open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("open store")
	}
	defer be.close()

	coord := notify.NewCoordinator(cfg.ServiceName, time.Now)
	numbers := reservations.NewNumberer(be.numbers, cfg.Location(), time.Now)
	svc := reservations.NewService(be.store, numbers, coord, time.Now, log, m)
	gate := reservations.NewReviewGate(be.store, coord, time.Now, log, m)
	inbox := notify.NewInbox(be.inbox, be.dedup, log, m)

	rh := &httpx.ReservationsHandler{Service: svc, Reviews: gate, Log: log}
	if be.cache != nil {
		rh.Cache = be.cache
		svc.UseCache(be.cache)
	}

	router := httpx.NewRouter(log, reg)
	rh.Register(router)
	(&httpx.NotificationsHandler{Inbox: inbox, Log: log}).Register(router)

	// memory backend: no broker, deliver in-process
	if cfg.StoreBackend == "memory" {
		relay := notify.NewRelay(be.outbox, notify.NewLocalDispatcher(inbox), relayConfig(cfg), time.Now, log, m)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("relay exit")
			}
		}()
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("backend", cfg.StoreBackend).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	cancel()
}

func open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*backend, error) {
	if cfg.StoreBackend == "memory" {
		st := memstore.New()
		return &backend{
			store:   st,
			outbox:  st,
			inbox:   st,
			numbers: memstore.NewSequence(),
			dedup:   memstore.NewDeduper(),
			close:   func() {},
		}, nil
	}

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 16)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db, log); err != nil {
		db.Close()
		return nil, err
	}
	rdb := redisx.New(cfg.RedisAddr)
	st := postgres.NewStore(db)
	return &backend{
		store:   st,
		outbox:  st,
		inbox:   st,
		numbers: redisx.NewSequence(rdb),
		dedup:   redisx.NewDeduper(rdb, cfg.ServiceName),
		cache:   redisx.NewReservationCache(rdb),
		close: func() {
			_ = rdb.Close()
			db.Close()
		},
	}, nil
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
