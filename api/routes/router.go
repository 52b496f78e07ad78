package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/avelezcr/washpay-backend/api/controllers"
	webhookcontrollers "github.com/avelezcr/washpay-backend/api/controllers/webhooks"
	"github.com/avelezcr/washpay-backend/api/middleware"
	"github.com/avelezcr/washpay-backend/internal/devices"
	"github.com/avelezcr/washpay-backend/internal/ledger"
	"github.com/avelezcr/washpay-backend/internal/orders"
	internalwebhooks "github.com/avelezcr/washpay-backend/internal/webhooks"
	"github.com/avelezcr/washpay-backend/pkg/config"
	"github.com/avelezcr/washpay-backend/pkg/db"
	"github.com/avelezcr/washpay-backend/pkg/gateway"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/voucher"
)

type redisPinger interface {
	Ping(ctx context.Context) error
}

// RouterParams carries everything the HTTP surface depends on.
type RouterParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DBPinger   db.Pinger
	Redis      redisPinger
	Orders     orders.Service
	OrdersRepo orders.Repository
	Ledger     ledger.Service
	Devices    devices.Repository
	Vouchers   *voucher.Client
	Gateway    *gateway.Client
	Reconciler internalwebhooks.Reconciler
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DBPinger, p.Redis))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.GatewayCallback(p.Gateway, p.Reconciler, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CustomerContext(logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.PlaceOrder(p.Orders, logg))
			r.Get("/", controllers.ListOrders(p.Orders, logg))
			r.Get("/{orderId}", controllers.GetOrder(p.Orders, logg))
			r.Patch("/{orderId}", controllers.UpdateOrder(p.Orders, logg))
			r.Post("/{orderId}/payment", controllers.PaymentOrder(p.Orders, logg))
			r.Post("/{orderId}/payment/cancel", controllers.CancelPayment(p.Orders, logg))
			r.Post("/{orderId}/device", controllers.OperateDevice(p.Orders, logg))
		})

		r.Get("/payments/{transactionId}/status",
			controllers.PaymentStatus(p.Ledger, p.OrdersRepo, p.Gateway, p.Reconciler, p.Gateway.SuccessCode(), logg))

		r.Get("/devices", controllers.ListDevices(p.Devices, logg))
		r.Get("/vouchers/me", controllers.ListMyVouchers(p.Vouchers, logg))
	})

	return r
}
