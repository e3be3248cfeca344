package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zhima-Mochi/minishop-reservation/internal/application"
	appcheckout "github.com/Zhima-Mochi/minishop-reservation/internal/application/checkout"
	appinventory "github.com/Zhima-Mochi/minishop-reservation/internal/application/inventory"
	apployalty "github.com/Zhima-Mochi/minishop-reservation/internal/application/loyalty"
	apporder "github.com/Zhima-Mochi/minishop-reservation/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-reservation/internal/application/payment"
	"github.com/Zhima-Mochi/minishop-reservation/internal/config"
	dominventory "github.com/Zhima-Mochi/minishop-reservation/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-reservation/internal/domain/order"
	dompayment "github.com/Zhima-Mochi/minishop-reservation/internal/domain/payment"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/id"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/memory"
	infraobs "github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/outbox"
	infrapayment "github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/payment"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/minishop-reservation/internal/infrastructure/redisledger"
	"github.com/Zhima-Mochi/minishop-reservation/internal/observability"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/keylock"
	"github.com/Zhima-Mochi/minishop-reservation/internal/pkg/saga"
	httppresentation "github.com/Zhima-Mochi/minishop-reservation/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-reservation/internal/presentation/worker"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := zaplogger.New(
		zaplogger.Options{Level: cfg.Log.Level, File: cfg.Log.File},
		observability.F("service", cfg.Service.Name),
		observability.F("env", cfg.Service.Env),
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = zaplogger.Sync(logger) }()

	if err := run(cfg, logger); err != nil {
		logger.Error("service_failed", observability.F("error", err.Error()))
		_ = zaplogger.Sync(logger)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := oteltrace.Setup(ctx, cfg.Service.Name, cfg.Service.Env, cfg.Tracing.Exporter)
	if err != nil {
		return err
	}

	counters, histograms := prometrics.Standard(prometrics.New(cfg.Metrics.Namespace, "", prometheus.DefaultRegisterer))
	tel := infraobs.New(oteltrace.New(cfg.Service.Name), logger, counters, histograms)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()
	logger.Info("storage_ready", observability.F("backend", cfg.Storage.Backend))

	// In-memory event bus (acts as outbox/event publisher)
	bus := outbox.NewBus(logger)
	bus.Start(ctx)

	signer := dompayment.NewSigner(cfg.Payment.WebhookSecret)
	locks := keylock.New()
	idGen := id.UUIDGenerator{}

	transition := apporder.NewTransitionUseCase(st.orders, st.ledger, st.tx, locks, bus, tel)
	webhook := apppayment.NewWebhookUseCase(transition, signer, tel)
	stock := appinventory.NewStockUseCase(st.ledger, tel)

	gateway, err := newGateway(cfg, signer, logger, webhook)
	if err != nil {
		return err
	}
	checkout := appcheckout.NewPlaceOrderUseCase(st.orders, st.ledger, gateway, memory.NewCartStore(), idGen, bus, locks, tel)

	loyalty := apployalty.NewWorker(bus,
		apployalty.NewAccrueUseCase(memory.NewLoyaltyStore(), tel),
		tel,
		workerpresentation.EventMiddleware(tel, logger),
	)
	loyalty.Start()

	for productID, n := range cfg.Seed {
		if _, err := stock.SetStock(ctx, appinventory.SetStockInput{ProductID: productID, Stock: n}); err != nil {
			return fmt.Errorf("seed %s: %w", productID, err)
		}
	}

	sweeper := apporder.NewSweeper(st.orders, transition, cfg.Reservation.TTL, cfg.Reservation.SweepInterval, logger)
	sweeper.Start(ctx)

	handler := httppresentation.NewHandler(httppresentation.UseCases{
		Checkout:   checkout,
		Transition: transition,
		GetOrder:   apporder.NewGetOrderUseCase(st.orders, tel),
		Delete:     apporder.NewDeleteOrderUseCase(st.orders, st.ledger, st.tx, locks, tel),
		Webhook:    webhook,
		Stock:      stock,
	}, tel, promhttp.Handler())

	server := &http.Server{
		Addr:              cfg.Service.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http_server_start", observability.F("addr", server.Addr))
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", observability.F("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_server_shutdown_error", observability.F("error", err.Error()))
	} else {
		logger.Info("http_server_stopped")
	}
	if sim, ok := gateway.(*infrapayment.Simulator); ok {
		sim.Wait()
	}
	bus.Stop(shutdownCtx)
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer_shutdown_error", observability.F("error", err.Error()))
	}
	return nil
}

type stores struct {
	ledger dominventory.Store
	orders domorder.Repository
	tx     application.Transactor
	close  func() error
}

// openStores picks the storage backend. Redis only backs the ledger; orders
// stay in memory and the unit of work is the saga journal.
func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, postgres.Options{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		})
		if err != nil {
			return stores{}, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return stores{}, err
		}
		return postgresStores(db), nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return stores{}, fmt.Errorf("redis: ping %s: %w", cfg.Storage.Redis.Addr, err)
		}
		return stores{
			ledger: redisledger.New(client, cfg.Storage.Redis.Prefix),
			orders: memory.NewOrderRepository(),
			tx:     saga.Transactor{Name: "redis"},
			close:  client.Close,
		}, nil

	default:
		return stores{
			ledger: memory.NewLedger(),
			orders: memory.NewOrderRepository(),
			tx:     saga.Transactor{Name: "memory"},
			close:  func() error { return nil },
		}, nil
	}
}

func postgresStores(db *sql.DB) stores {
	return stores{
		ledger: postgres.NewLedger(db),
		orders: postgres.NewOrderRepository(db),
		tx:     postgres.NewTransactor(db),
		close:  db.Close,
	}
}

func newGateway(cfg config.Config, signer dompayment.Signer, logger observability.Logger, webhook *apppayment.WebhookUseCase) (dompayment.Gateway, error) {
	switch cfg.Payment.Gateway {
	case config.GatewayHTTP:
		return infrapayment.NewHTTPGateway(infrapayment.HTTPGatewayConfig{
			Endpoint:    cfg.Payment.Endpoint,
			PartnerCode: cfg.Payment.PartnerCode,
			RedirectURL: cfg.Payment.RedirectURL,
			NotifyURL:   cfg.Payment.NotifyURL,
			Timeout:     cfg.Payment.Timeout,
			MaxAttempts: cfg.Payment.MaxAttempts,
		}, signer, nil, logger), nil
	case config.GatewaySimulated:
		sim := infrapayment.NewSimulator(cfg.Payment.SimulatorBaseURL, cfg.Payment.SimulatorDelay, signer, logger)
		sim.SetSuccessRate(cfg.Payment.SimulatorSuccessRate)
		sim.SetSink(func(ctx context.Context, cb dompayment.Callback) {
			_, _ = webhook.Execute(ctx, cb)
		})
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.Payment.Gateway)
	}
}
