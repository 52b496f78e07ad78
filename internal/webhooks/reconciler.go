package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/avelezcr/washpay-backend/internal/ledger"
	"github.com/avelezcr/washpay-backend/internal/orders"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/metrics"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
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

type expiryCanceler interface {
	Cancel(txnID uuid.UUID)
}

// Event is a gateway callback after JSON decoding and signature verification.
type Event struct {
	ResponseCode  string
	TransactionID string
	OrderRef      string
	Amount        int64
}

// Reconciler consumes asynchronous gateway callbacks and advances the saga.
// Processing is idempotent under redelivery: only rows still pending (and
// orders still draft) are touched.
type Reconciler interface {
	Process(ctx context.Context, event Event) error
}

type reconciler struct {
	ledger      ledger.Service
	orders      orders.Repository
	vouchers    voucherRollbacker
	expiry      expiryCanceler
	tx          txRunner
	outbox      outboxPublisher
	saga        *metrics.SagaMetrics
	logg        *logger.Logger
	successCode string
	now         func() time.Time
}

// NewReconciler builds the webhook reconciler. successCode is the provider
// code that marks a settled payment.
func NewReconciler(
	ledgerSvc ledger.Service,
	ordersRepo orders.Repository,
	vouchers voucherRollbacker,
	expiry expiryCanceler,
	tx txRunner,
	ob outboxPublisher,
	saga *metrics.SagaMetrics,
	logg *logger.Logger,
	successCode string,
) (Reconciler, error) {
	switch {
	case ledgerSvc == nil:
		return nil, fmt.Errorf("ledger service required")
	case ordersRepo == nil:
		return nil, fmt.Errorf("orders repository required")
	case vouchers == nil:
		return nil, fmt.Errorf("voucher client required")
	case expiry == nil:
		return nil, fmt.Errorf("expiry scheduler required")
	case tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case ob == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	if successCode == "" {
		successCode = "00"
	}
	return &reconciler{
		ledger:      ledgerSvc,
		orders:      ordersRepo,
		vouchers:    vouchers,
		expiry:      expiry,
		tx:          tx,
		outbox:      ob,
		saga:        saga,
		logg:        logg,
		successCode: successCode,
		now:         time.Now,
	}, nil
}

func (r *reconciler) Process(ctx context.Context, event Event) error {
	if event.TransactionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}

	txn, err := r.ledger.Repo().FindByProviderTxnID(ctx, event.TransactionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}

	ctx = r.logg.WithFields(ctx, map[string]any{
		"transaction_id": txn.ID.String(),
		"order_id":       txn.OrderID.String(),
		"response_code":  event.ResponseCode,
	})

	// a replayed event against an already-terminal row is a clean no-op
	if txn.Status.IsTerminal() {
		r.logg.Info(ctx, "webhook replay on terminal transaction, ignored")
		return nil
	}

	order, err := r.orders.FindByID(ctx, txn.OrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if event.ResponseCode == r.successCode {
		return r.accept(ctx, order, txn, event.Amount)
	}
	return r.reject(ctx, order, txn, event.ResponseCode)
}

// accept settles the payment. Underpayment is refused with no state change,
// overpayment is accepted.
func (r *reconciler) accept(ctx context.Context, order *models.Order, txn *models.OrderTransaction, receivedAmount int64) error {
	if receivedAmount < order.GrandTotal {
		r.saga.IncPayment(string(txn.PaymentMethod), "underpaid")
		return pkgerrors.New(pkgerrors.CodeValidation, "received amount below order total").
			WithDetails(map[string]any{"received": receivedAmount, "grand_total": order.GrandTotal})
	}

	r.expiry.Cancel(txn.ID)

	return r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := r.ledger.WithTx(tx).Settle(ctx, txn.ID, receivedAmount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle transaction")
		}
		if !ok {
			// the expiry handler won the race, nothing to do
			r.logg.Info(ctx, "transaction no longer pending, webhook ignored")
			return nil
		}

		advanced, err := r.orders.WithTx(tx).Transition(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusDraft}, enums.OrderStatusPending, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance order")
		}
		if !advanced {
			r.logg.Info(ctx, "order already advanced, webhook settled ledger only")
		}

		if err := r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentSettled,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.PaymentSettledEvent{
				OrderID:        order.ID,
				TransactionID:  txn.ID,
				PaymentMethod:  txn.PaymentMethod,
				Amount:         txn.Amount,
				ReceivedAmount: receivedAmount,
			},
		}); err != nil {
			return err
		}
		if !advanced {
			return nil
		}
		if err := r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.OrderPaidEvent{
				OrderID:       order.ID,
				TransactionID: txn.ID,
				DeviceID:      order.DeviceID,
				OrderType:     order.Type,
				PaymentMethod: txn.PaymentMethod,
				Amount:        receivedAmount,
				PaidAt:        r.now(),
			},
		}); err != nil {
			return err
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventNotificationNeeded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.NotificationRequestedEvent{
				OrderID:    order.ID,
				CustomerID: order.CustomerID,
				Type:       "payment_confirmed",
			},
		})
	})
}

// reject fails the payment and compensates: vouchers roll back and the order
// moves to failed. Tokenization one-offs skip the ERP resync.
func (r *reconciler) reject(ctx context.Context, order *models.Order, txn *models.OrderTransaction, code string) error {
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		reason := fmt.Sprintf("gateway code %s", code)
		ok, err := r.ledger.WithTx(tx).Fail(ctx, txn.ID, reason)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail transaction")
		}
		if !ok {
			r.logg.Info(ctx, "transaction no longer pending, webhook ignored")
			return nil
		}

		if _, err := r.orders.WithTx(tx).Transition(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusDraft}, enums.OrderStatusFailed, nil); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail order")
		}

		if err := r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.PaymentFailedEvent{
				OrderID:       order.ID,
				TransactionID: txn.ID,
				Status:        enums.TransactionStatusFailed,
				Reason:        reason,
			},
		}); err != nil {
			return err
		}
		if err := r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.OrderFailedEvent{
				OrderID:         order.ID,
				Reason:          reason,
				VoucherRollback: len(order.DiscountIDs) > 0,
			},
		}); err != nil {
			return err
		}

		if order.Type == enums.OrderTypeTokenize {
			return nil
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventErpSyncRequested,
			AggregateType: enums.AggregateErpObject,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.ErpSyncRequestedEvent{
				ObjectType: enums.ErpObjectOrder,
				ObjectID:   order.ID,
				Action:     enums.ErpSyncActionUpsert,
			},
		})
	})
	if err != nil {
		return err
	}

	r.expiry.Cancel(txn.ID)
	r.rollbackVouchers(ctx, order)
	r.saga.IncPayment(string(txn.PaymentMethod), "rejected")
	return nil
}

func (r *reconciler) rollbackVouchers(ctx context.Context, order *models.Order) {
	if len(order.DiscountIDs) == 0 {
		return
	}
	if err := r.vouchers.Rollback(ctx, order.DiscountIDs, order.ID.String()); err != nil {
		r.logg.Error(ctx, "voucher rollback failed", err)
		return
	}
	r.saga.IncCompensation("voucher_rollback")
}

func systemActor() *outbox.ActorRef {
	return &outbox.ActorRef{System: "washpay"}
}
