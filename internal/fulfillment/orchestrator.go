package fulfillment

import (
	"context"
	"fmt"
	"time"

	"github.com/avelezcr/washpay-backend/internal/devices"
	"github.com/avelezcr/washpay-backend/internal/ledger"
	"github.com/avelezcr/washpay-backend/internal/orders"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/gateway"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/metrics"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
	"github.com/avelezcr/washpay-backend/pkg/types"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type voucherRollbacker interface {
	Rollback(ctx context.Context, voucherIDs []string, orderID string) error
}

type deviceStarter interface {
	Start(ctx context.Context, deviceRef, orderRef, mode string, amount int64) (bool, error)
}

type orderCompleter interface {
	CompleteOrder(ctx context.Context, orderID uuid.UUID) error
}

type paymentRefunder interface {
	Refund(ctx context.Context, params gateway.RefundParams) (*gateway.RefundResult, error)
}

// Orchestrator reacts to paid orders: it starts the leased device and moves
// the saga into processing, or compensates when the hardware refuses.
type Orchestrator struct {
	orders    orders.Repository
	devices   devices.Repository
	ledger    ledger.Service
	vouchers  voucherRollbacker
	devicectl deviceStarter
	completer orderCompleter
	gateway   paymentRefunder
	tx        txRunner
	outbox    outboxPublisher
	saga      *metrics.SagaMetrics
	logg      *logger.Logger
	now       func() time.Time
}

// OrchestratorDeps bundles the orchestrator collaborators.
type OrchestratorDeps struct {
	Orders    orders.Repository
	Devices   devices.Repository
	Ledger    ledger.Service
	Vouchers  voucherRollbacker
	DeviceCtl deviceStarter
	Completer orderCompleter
	Gateway   paymentRefunder
	Tx        txRunner
	Outbox    outboxPublisher
	Saga      *metrics.SagaMetrics
	Logger    *logger.Logger
}

// NewOrchestrator builds the fulfillment orchestrator.
func NewOrchestrator(deps OrchestratorDeps) (*Orchestrator, error) {
	switch {
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Devices == nil:
		return nil, fmt.Errorf("devices repository required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case deps.Vouchers == nil:
		return nil, fmt.Errorf("voucher client required")
	case deps.DeviceCtl == nil:
		return nil, fmt.Errorf("device controller required")
	case deps.Completer == nil:
		return nil, fmt.Errorf("order completer required")
	case deps.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &Orchestrator{
		orders:    deps.Orders,
		devices:   deps.Devices,
		ledger:    deps.Ledger,
		vouchers:  deps.Vouchers,
		devicectl: deps.DeviceCtl,
		completer: deps.Completer,
		gateway:   deps.Gateway,
		tx:        deps.Tx,
		outbox:    deps.Outbox,
		saga:      deps.Saga,
		logg:      deps.Logger,
		now:       time.Now,
	}, nil
}

// HandleOrderPaid drives a freshly paid order into processing. Redeliveries
// are tolerated: anything not in pending anymore is a no-op.
func (o *Orchestrator) HandleOrderPaid(ctx context.Context, event payloads.OrderPaidEvent) error {
	ctx = o.logg.WithOrderID(ctx, event.OrderID.String())

	order, err := o.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			o.logg.Warn(ctx, "paid order not found, event dropped")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status != enums.OrderStatusPending {
		return nil
	}
	if order.DeviceID == nil || order.Type == enums.OrderTypeTokenize {
		o.logg.Info(ctx, "order has no device to start")
		return nil
	}

	device, err := o.devices.FindByID(ctx, *order.DeviceID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}

	mode := resolveMode(order, device)
	startedAt := o.now()
	started, err := o.devicectl.Start(ctx, device.ExternalRef, order.SequenceNo, mode, order.GrandTotal)
	o.saga.ObserveDeviceStart(startOutcome(started, err), o.now().Sub(startedAt))
	if err != nil || !started {
		reason := "device refused start"
		if err != nil {
			reason = err.Error()
		}
		return o.compensateStartFailure(ctx, order, device, reason)
	}

	estimatedEnd := startedAt.Add(time.Duration(device.CycleMinutes) * time.Minute)
	return o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		leased, err := o.devices.WithTx(tx).AcquireLease(ctx, device.ID, order.ID, startedAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire device lease")
		}
		if !leased {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "device taken between start and lease")
		}

		repo := o.orders.WithTx(tx)
		if err := repo.StampItemStart(ctx, order.ID, startedAt, estimatedEnd); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp item start")
		}
		ok, err := repo.Transition(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusPending}, enums.OrderStatusProcessing, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance order to processing")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order left pending during start")
		}
		return nil
	})
}

// compensateStartFailure fails the order, signals a refund, and rolls back
// any reserved vouchers. The wash never started, the customer owes nothing.
func (o *Orchestrator) compensateStartFailure(ctx context.Context, order *models.Order, device *models.Device, reason string) error {
	settled := settledTransaction(order.Transactions)
	failedAt := o.now()

	err := o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := o.orders.WithTx(tx).Transition(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusPending}, enums.OrderStatusFailed, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail order")
		}
		if !ok {
			return nil
		}

		if settled != nil {
			if _, err := o.ledger.WithTx(tx).Refund(ctx, settled.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund transaction")
			}
		}

		if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeviceStartFailed,
			AggregateType: enums.AggregateDevice,
			AggregateID:   device.ID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.DeviceStartFailedEvent{
				OrderID:  order.ID,
				DeviceID: device.ID,
				Reason:   reason,
			},
		}); err != nil {
			return err
		}
		if err := o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.OrderFailedEvent{
				OrderID:         order.ID,
				Reason:          reason,
				VoucherRollback: len(order.DiscountIDs) > 0,
				RefundRequested: settled != nil,
			},
		}); err != nil {
			return err
		}
		if settled == nil {
			return nil
		}
		return o.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.OrderRefundedEvent{
				OrderID:       order.ID,
				TransactionID: settled.ID,
				Amount:        settled.Amount,
				RefundedAt:    failedAt,
			},
		})
	})
	if err != nil {
		return err
	}

	o.saga.IncCompensation("device_start_failed")
	if len(order.DiscountIDs) > 0 {
		if err := o.vouchers.Rollback(ctx, order.DiscountIDs, order.ID.String()); err != nil {
			o.logg.Error(ctx, "voucher rollback failed", err)
		} else {
			o.saga.IncCompensation("voucher_rollback")
		}
	}
	o.logg.Warn(o.logg.WithDeviceID(ctx, device.ID.String()), "device start failed, order compensated")
	return nil
}

// refundReceiptKey marks a ledger row whose money already went back. The
// receipt, not the row status, is the redelivery gate: a compensation may
// have flipped the status to refunded before the gateway was ever called.
const refundReceiptKey = "refund_id"

// HandleOrderRefunded sends a settled payment back through the gateway and
// flips the ledger row to refunded. Cash settles at the counter, so cash rows
// only get the status flip.
func (o *Orchestrator) HandleOrderRefunded(ctx context.Context, event payloads.OrderRefundedEvent) error {
	ctx = o.logg.WithOrderID(ctx, event.OrderID.String())
	ctx = o.logg.WithTransactionID(ctx, event.TransactionID.String())

	txn, err := o.ledger.Repo().FindByID(ctx, event.TransactionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			o.logg.Warn(ctx, "refund event for unknown transaction, dropped")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if txn.Status != enums.TransactionStatusSucceeded && txn.Status != enums.TransactionStatusRefunded {
		o.logg.Warn(ctx, "refund event for unsettled transaction, dropped")
		return nil
	}
	if _, done := txn.Data[refundReceiptKey]; done {
		return nil
	}

	receipt := "counter"
	if txn.PaymentMethod != enums.PaymentMethodCash && txn.ProviderTxnID != nil {
		// the gateway dedupes refunds per transaction, so a crash between
		// the call and the receipt write resolves on redelivery
		result, err := o.gateway.Refund(ctx, gateway.RefundParams{
			TransactionID: *txn.ProviderTxnID,
			Amount:        event.Amount,
			Reason:        "order refunded",
		})
		if err != nil {
			return err
		}
		receipt = result.RefundID
	}

	data := txn.Data
	if data == nil {
		data = types.JSONMap{}
	}
	data[refundReceiptKey] = receipt
	if err := o.ledger.Repo().Update(ctx, txn.ID, map[string]any{"data": data}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund receipt")
	}

	if _, err := o.ledger.Refund(ctx, txn.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction refunded")
	}
	o.saga.IncCompensation("payment_refund")
	o.logg.Info(ctx, "payment refunded")
	return nil
}

// CompleteDue finishes processing orders whose estimated end has passed. Safe
// to run repeatedly, completion is a compare-and-swap.
func (o *Orchestrator) CompleteDue(ctx context.Context) (int, error) {
	due, err := o.orders.FindProcessingPastEstimatedEnd(ctx, o.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load due orders")
	}

	completed := 0
	for i := range due {
		if err := o.completer.CompleteOrder(ctx, due[i].ID); err != nil {
			o.logg.Error(o.logg.WithOrderID(ctx, due[i].ID.String()), "status check completion failed", err)
			continue
		}
		completed++
	}
	return completed, nil
}

func resolveMode(order *models.Order, device *models.Device) string {
	for _, item := range order.Items {
		if item.WashMode != nil && *item.WashMode != "" {
			return *item.WashMode
		}
	}
	return device.DefaultMode
}

func startOutcome(started bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case !started:
		return "refused"
	default:
		return "started"
	}
}

func settledTransaction(txns []models.OrderTransaction) *models.OrderTransaction {
	for i := range txns {
		if txns[i].Status == enums.TransactionStatusSucceeded {
			return &txns[i]
		}
	}
	return nil
}

func systemActor() *outbox.ActorRef {
	return &outbox.ActorRef{System: "washpay"}
}
