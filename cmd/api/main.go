package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avelezcr/washpay-backend/api/routes"
	"github.com/avelezcr/washpay-backend/internal/devices"
	"github.com/avelezcr/washpay-backend/internal/expiry"
	"github.com/avelezcr/washpay-backend/internal/ledger"
	"github.com/avelezcr/washpay-backend/internal/memberships"
	"github.com/avelezcr/washpay-backend/internal/orders"
	"github.com/avelezcr/washpay-backend/internal/payments"
	"github.com/avelezcr/washpay-backend/internal/webhooks"
	"github.com/avelezcr/washpay-backend/pkg/config"
	"github.com/avelezcr/washpay-backend/pkg/db"
	"github.com/avelezcr/washpay-backend/pkg/devicectl"
	"github.com/avelezcr/washpay-backend/pkg/gateway"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/metrics"
	"github.com/avelezcr/washpay-backend/pkg/migrate"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/redis"
	"github.com/avelezcr/washpay-backend/pkg/voucher"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx := context.Background()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(ctx, cfg.Gateway, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap gateway client", err)
		os.Exit(1)
	}
	voucherClient, err := voucher.NewClient(ctx, cfg.Voucher, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap voucher client", err)
		os.Exit(1)
	}
	deviceClient, err := devicectl.NewClient(ctx, cfg.Device, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap device controller", err)
		os.Exit(1)
	}

	saga := metrics.NewSagaMetrics(prometheus.DefaultRegisterer)
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ordersRepo := orders.NewRepository(dbClient.DB())
	devicesRepo := devices.NewRepository(dbClient.DB())
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(ctx, "failed to create ledger service", err)
		os.Exit(1)
	}

	invalidator, err := expiry.NewInvalidator(ledgerSvc, ordersRepo, voucherClient, dbClient, outboxSvc, saga, logg)
	if err != nil {
		logg.Error(ctx, "failed to create expiry invalidator", err)
		os.Exit(1)
	}
	scheduler, err := expiry.NewScheduler(invalidator, logg)
	if err != nil {
		logg.Error(ctx, "failed to create expiry scheduler", err)
		os.Exit(1)
	}
	defer scheduler.Close()

	dispatcher, err := payments.NewDispatcher(
		ledgerSvc,
		payments.NewTokenRepository(dbClient.DB()),
		gatewayClient,
		scheduler,
		cfg.Payment,
		saga,
		logg,
	)
	if err != nil {
		logg.Error(ctx, "failed to create payment dispatcher", err)
		os.Exit(1)
	}

	sequencer, err := orders.NewSequencer(redisClient)
	if err != nil {
		logg.Error(ctx, "failed to create sequencer", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(orders.ServiceDeps{
		Repo:        ordersRepo,
		Devices:     devicesRepo,
		Memberships: memberships.NewRepository(dbClient.DB()),
		Ledger:      ledgerSvc,
		Dispatcher:  dispatcher,
		Vouchers:    voucherClient,
		Expiry:      scheduler,
		DeviceCtl:   deviceClient,
		Sequencer:   sequencer,
		Tx:          dbClient,
		Outbox:      outboxSvc,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create orders service", err)
		os.Exit(1)
	}

	reconciler, err := webhooks.NewReconciler(
		ledgerSvc,
		ordersRepo,
		voucherClient,
		scheduler,
		dbClient,
		outboxSvc,
		saga,
		logg,
		gatewayClient.SuccessCode(),
	)
	if err != nil {
		logg.Error(ctx, "failed to create webhook reconciler", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:     cfg,
			Logger:     logg,
			DBPinger:   dbClient,
			Redis:      redisClient,
			Orders:     ordersSvc,
			OrdersRepo: ordersRepo,
			Ledger:     ledgerSvc,
			Devices:    devicesRepo,
			Vouchers:   voucherClient,
			Gateway:    gatewayClient,
			Reconciler: reconciler,
		}),
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(runCtx, "starting api server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(runCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-runCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(runCtx, "api server shutdown failed", err)
			os.Exit(1)
		}
	}

	logg.Info(runCtx, "api server shut down gracefully")
}
