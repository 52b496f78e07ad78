package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avelezcr/washpay-backend/internal/cron"
	"github.com/avelezcr/washpay-backend/internal/devices"
	"github.com/avelezcr/washpay-backend/internal/expiry"
	"github.com/avelezcr/washpay-backend/internal/fulfillment"
	"github.com/avelezcr/washpay-backend/internal/ledger"
	"github.com/avelezcr/washpay-backend/internal/memberships"
	"github.com/avelezcr/washpay-backend/internal/orders"
	"github.com/avelezcr/washpay-backend/internal/payments"
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

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerSvc, err := ledger.NewService(ledgerRepo)
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

	orchestrator, err := fulfillment.NewOrchestrator(fulfillment.OrchestratorDeps{
		Orders:    ordersRepo,
		Devices:   devicesRepo,
		Ledger:    ledgerSvc,
		Vouchers:  voucherClient,
		DeviceCtl: deviceClient,
		Completer: ordersSvc,
		Gateway:   gatewayClient,
		Tx:        dbClient,
		Outbox:    outboxSvc,
		Saga:      saga,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to create fulfillment orchestrator", err)
		os.Exit(1)
	}

	statusJob, err := cron.NewStatusCheckJob(orchestrator, logg)
	if err != nil {
		logg.Error(ctx, "failed to create status check job", err)
		os.Exit(1)
	}
	reseedJob, err := cron.NewExpiryReseedJob(ledgerRepo, scheduler, cfg.Payment, logg)
	if err != nil {
		logg.Error(ctx, "failed to create expiry reseed job", err)
		os.Exit(1)
	}
	resyncJob, err := cron.NewErpResyncJob(cron.ErpResyncJobParams{
		Logger: logg,
		DB:     dbClient,
		Reader: ordersRepo,
		Outbox: outboxSvc,
	})
	if err != nil {
		logg.Error(ctx, "failed to create erp resync job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(statusJob, reseedJob, resyncJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "starting cron worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(runCtx, "cron worker shutting down gracefully")
}
