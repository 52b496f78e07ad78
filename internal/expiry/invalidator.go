package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/avelezcr/washpay-backend/internal/ledger"
	"github.com/avelezcr/washpay-backend/internal/orders"
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

type invalidator struct {
	ledger   ledger.Service
	orders   orders.Repository
	vouchers voucherRollbacker
	tx       txRunner
	outbox   outboxPublisher
	saga     *metrics.SagaMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewInvalidator builds the expiry-side terminalizer. It loses gracefully to
// a racing webhook: only rows still pending are failed.
func NewInvalidator(
	ledgerSvc ledger.Service,
	ordersRepo orders.Repository,
	vouchers voucherRollbacker,
	tx txRunner,
	ob outboxPublisher,
	saga *metrics.SagaMetrics,
	logg *logger.Logger,
) (Invalidator, error) {
	switch {
	case ledgerSvc == nil:
		return nil, fmt.Errorf("ledger service required")
	case ordersRepo == nil:
		return nil, fmt.Errorf("orders repository required")
	case vouchers == nil:
		return nil, fmt.Errorf("voucher client required")
	case tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case ob == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case logg == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &invalidator{
		ledger:   ledgerSvc,
		orders:   ordersRepo,
		vouchers: vouchers,
		tx:       tx,
		outbox:   ob,
		saga:     saga,
		logg:     logg,
		now:      time.Now,
	}, nil
}

func (i *invalidator) Invalidate(ctx context.Context, txnID uuid.UUID) (*time.Time, error) {
	txn, err := i.ledger.Repo().FindByID(ctx, txnID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			// row vanished (rolled-back open or stale QR cleanup), no-op
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}

	if txn.Status != enums.TransactionStatusPending {
		return nil, nil
	}
	// timer drift or clock skew: the window has not actually elapsed yet
	if txn.ExpiresAt != nil && i.now().Before(*txn.ExpiresAt) {
		requeueAt := *txn.ExpiresAt
		return &requeueAt, nil
	}

	order, err := i.orders.FindByID(ctx, txn.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	expiredAt := i.now()
	err = i.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := i.ledger.WithTx(tx).Fail(ctx, txnID, "payment window expired")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire transaction")
		}
		if !ok {
			// webhook won between the re-check and here
			return nil
		}

		if _, err := i.orders.WithTx(tx).Transition(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusDraft}, enums.OrderStatusFailed, nil); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail order")
		}

		if err := i.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentExpired,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txnID,
			Version:       1,
			Actor:         &outbox.ActorRef{System: "washpay"},
			Data: payloads.PaymentExpiredEvent{
				OrderID:       order.ID,
				TransactionID: txnID,
				ExpiredAt:     expiredAt,
			},
		}); err != nil {
			return err
		}
		return i.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         &outbox.ActorRef{System: "washpay"},
			Data: payloads.OrderFailedEvent{
				OrderID:         order.ID,
				Reason:          "payment window expired",
				VoucherRollback: len(order.DiscountIDs) > 0,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	i.saga.IncExpired()
	if len(order.DiscountIDs) > 0 {
		if err := i.vouchers.Rollback(ctx, order.DiscountIDs, order.ID.String()); err != nil {
			i.logg.Error(ctx, "voucher rollback failed", err)
		} else {
			i.saga.IncCompensation("voucher_rollback")
		}
	}
	i.logg.Info(ctx, "pending payment expired")
	return nil, nil
}
