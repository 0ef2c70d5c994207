package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"lv-walletledger/internal/accounts"
	"lv-walletledger/internal/balance"
	"lv-walletledger/internal/bootstrap"
	"lv-walletledger/internal/config"
	"lv-walletledger/internal/events"
	"lv-walletledger/internal/health"
	"lv-walletledger/internal/httpserver"
	"lv-walletledger/internal/kafka"
	"lv-walletledger/internal/keylock"
	"lv-walletledger/internal/ledger"
	"lv-walletledger/internal/logging"
	"lv-walletledger/internal/metrics"
	"lv-walletledger/internal/reservations"
	"lv-walletledger/internal/watcher"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.Load(os.Getenv("WALLET_CONFIG"))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("wallet ledger stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	startedAt := time.Now()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	st, err := bootstrap.OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewBus()
	publishers := events.Fanout{bus}

	var (
		sink     *kafka.EntrySink
		consumer *kafka.Consumer
	)
	if cfg.Kafka.Enabled() {
		producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger)
		if err != nil {
			return err
		}
		defer producer.Close()
		consumer, err = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, producer, cfg.Kafka.Topics.DeadLetter, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()
		sink = kafka.NewEntrySink(producer, cfg.Kafka.Topics.Entries, m, logger)
		publishers = append(publishers, sink)
	}

	locks := keylock.New()
	accountSvc := accounts.NewService(st, locks, logger, cfg.Engine.StoreTimeout)
	accountSvc.SetPublisher(publishers)
	ledgerSvc := ledger.NewService(st)
	engine := balance.NewEngine(st, locks, accountSvc, ledgerSvc, balance.Options{
		StoreTimeout: cfg.Engine.StoreTimeout,
		Publisher:    publishers,
		Metrics:      m,
		Logger:       logger,
	})
	reservationMgr := reservations.NewManager(engine, accountSvc, ledgerSvc, logger)
	limiter := httpserver.NewRateLimiter(50, 100)

	// Background workers stop before the producer and store close.
	var wg sync.WaitGroup
	workCtx, cancelWork := context.WithCancel(ctx)
	defer func() {
		cancelWork()
		wg.Wait()
	}()
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(workCtx)
		}()
	}

	spawn(func(ctx context.Context) {
		reservationMgr.Run(ctx, cfg.Engine.TicketSweep, cfg.Engine.TicketRetention)
	})
	spawn(limiter.Run)
	if sink != nil {
		spawn(sink.Run)
	}
	if consumer != nil {
		handler := watcher.NewMovementHandler(engine, m, logger)
		spawn(func(ctx context.Context) {
			if err := consumer.Consume(ctx, []string{cfg.Kafka.Topics.Movements}, handler); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("movement consumer stopped", "error", err)
			}
		})
		logger.Info("movement watcher started", "topic", cfg.Kafka.Topics.Movements, "group", cfg.Kafka.ConsumerGroup)
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AccountsHandler:     accounts.NewHandler(accountSvc),
		LedgerHandler:       ledger.NewHandler(ledgerSvc),
		BalanceHandler:      balance.NewHandler(engine),
		ReservationsHandler: reservations.NewHandler(reservationMgr),
		HealthHandler:       health.NewHandler(st, startedAt, cfg.Store.Driver, cfg.HTTP.Addr, cfg.InternalToken),
		WSHandler:           httpserver.NewWSHandler(bus, accountSvc, cfg.InternalToken, cfg.WebSocketOrigin, logger),
		MetricsHandler:      metrics.Handler(registry),
		MetricsPath:         cfg.MetricsPath,
		Metrics:             m,
		RateLimiter:         limiter,
		InternalToken:       cfg.InternalToken,
		Logger:              logger,
	})
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.HTTP.Addr, "store", cfg.Store.Driver, "kafka", cfg.Kafka.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	return nil
}
