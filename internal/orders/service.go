package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/avelezcr/washpay-backend/internal/devices"
	"github.com/avelezcr/washpay-backend/internal/ledger"
	"github.com/avelezcr/washpay-backend/internal/memberships"
	"github.com/avelezcr/washpay-backend/internal/payments"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
	"github.com/avelezcr/washpay-backend/pkg/types"
	"github.com/avelezcr/washpay-backend/pkg/voucher"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type voucherClient interface {
	Get(ctx context.Context, bearerToken, voucherID string) (*voucher.Voucher, error)
	ListMine(ctx context.Context, bearerToken string) ([]voucher.Voucher, error)
	Reserve(ctx context.Context, bearerToken, voucherID, orderID string) error
	Rollback(ctx context.Context, voucherIDs []string, orderID string) error
}

type expiryCanceler interface {
	Cancel(txnID uuid.UUID)
}

type deviceController interface {
	Stop(ctx context.Context, deviceRef, orderRef string) (bool, error)
}

// Service owns the order lifecycle: draft creation and re-derivation, payment
// submission, completion, and manual device operations.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
	UpdateOrder(ctx context.Context, input UpdateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, customerID uuid.UUID, limit int) ([]models.Order, error)
	PaymentOrder(ctx context.Context, input PaymentOrderInput) (*PaymentOutcome, error)
	CancelPayment(ctx context.Context, orderID, customerID uuid.UUID) error
	CompleteOrder(ctx context.Context, orderID uuid.UUID) error
	OperateDevice(ctx context.Context, input OperateDeviceInput) error
}

type service struct {
	repo        Repository
	devices     devices.Repository
	memberships memberships.Repository
	ledger      ledger.Service
	dispatcher  payments.Dispatcher
	vouchers    voucherClient
	expiry      expiryCanceler
	devicectl   deviceController
	sequencer   Sequencer
	tx          txRunner
	outbox      outboxPublisher
	logg        *logger.Logger
	now         func() time.Time
}

// ServiceDeps bundles the collaborators of the order service.
type ServiceDeps struct {
	Repo        Repository
	Devices     devices.Repository
	Memberships memberships.Repository
	Ledger      ledger.Service
	Dispatcher  payments.Dispatcher
	Vouchers    voucherClient
	Expiry      expiryCanceler
	DeviceCtl   deviceController
	Sequencer   Sequencer
	Tx          txRunner
	Outbox      outboxPublisher
	Logger      *logger.Logger
}

// NewService builds the order state machine service.
func NewService(deps ServiceDeps) (Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Devices == nil:
		return nil, fmt.Errorf("devices repository required")
	case deps.Memberships == nil:
		return nil, fmt.Errorf("memberships repository required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("ledger service required")
	case deps.Dispatcher == nil:
		return nil, fmt.Errorf("payment dispatcher required")
	case deps.Vouchers == nil:
		return nil, fmt.Errorf("voucher client required")
	case deps.Expiry == nil:
		return nil, fmt.Errorf("expiry scheduler required")
	case deps.DeviceCtl == nil:
		return nil, fmt.Errorf("device controller required")
	case deps.Sequencer == nil:
		return nil, fmt.Errorf("sequencer required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:        deps.Repo,
		devices:     deps.Devices,
		memberships: deps.Memberships,
		ledger:      deps.Ledger,
		dispatcher:  deps.Dispatcher,
		vouchers:    deps.Vouchers,
		expiry:      deps.Expiry,
		devicectl:   deps.DeviceCtl,
		sequencer:   deps.Sequencer,
		tx:          deps.Tx,
		outbox:      deps.Outbox,
		logg:        deps.Logger,
		now:         time.Now,
	}, nil
}

func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}

	if input.DeviceID != nil {
		if err := s.ensureDeviceFree(ctx, *input.DeviceID); err != nil {
			return nil, err
		}
	}

	quote, err := s.deriveQuote(ctx, input.CustomerID, input.Items, input.TaxAmount,
		input.ExtraFee, input.VoucherID, input.UseMembership, input.BearerToken)
	if err != nil {
		return nil, err
	}

	sequenceNo, err := s.sequencer.Next(ctx, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "issue order number")
	}

	order := &models.Order{
		SequenceNo:       sequenceNo,
		CustomerID:       input.CustomerID,
		DeviceID:         input.DeviceID,
		ParentID:         input.ParentID,
		Type:             orDefaultType(input.Type),
		Status:           enums.OrderStatusDraft,
		Metadata:         input.Metadata,
		Items:            buildItems(input.Items, input.DeviceID),
	}
	applyQuote(order, quote)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPlaced,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         customerActor(input.CustomerID),
			Data: payloads.OrderPlacedEvent{
				OrderID:    order.ID,
				CustomerID: order.CustomerID,
				OrderType:  order.Type,
				GrandTotal: order.GrandTotal,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "order placed")
	return order, nil
}

func (s *service) UpdateOrder(ctx context.Context, input UpdateOrderInput) (*models.Order, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order requires at least one item")
	}

	order, err := s.loadOwnedOrder(ctx, input.OrderID, input.CustomerID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusDraft {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only draft orders can be updated")
	}
	if order.DeviceID != nil {
		if err := s.ensureDeviceFreeExcept(ctx, *order.DeviceID, order.ID); err != nil {
			return nil, err
		}
	}

	quote, err := s.deriveQuote(ctx, input.CustomerID, input.Items, input.TaxAmount,
		input.ExtraFee, input.VoucherID, input.UseMembership, input.BearerToken)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.ReplaceItems(ctx, order.ID, buildItems(input.Items, order.DeviceID)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "replace order items")
		}
		updates := map[string]any{
			"sub_total":         quote.SubTotal,
			"discount_amount":   quote.DiscountAmount,
			"membership_amount": quote.MembershipAmount,
			"tax_amount":        quote.TaxAmount,
			"extra_fee":         quote.ExtraFee,
			"grand_total":       quote.GrandTotal,
			"voucher":           quote.Voucher,
			"membership":        quote.Membership,
			"discount_ids":      voucherIDs(quote.Voucher),
		}
		if input.Metadata != nil {
			updates["metadata"] = input.Metadata
		}
		ok, err := repo.Transition(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusDraft}, enums.OrderStatusDraft, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order left draft during update")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.repo.FindByID(ctx, order.ID)
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, customerID uuid.UUID, limit int) ([]models.Order, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	orders, err := s.repo.ListByCustomer(ctx, customerID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return orders, nil
}

func (s *service) PaymentOrder(ctx context.Context, input PaymentOrderInput) (*PaymentOutcome, error) {
	order, err := s.loadOwnedOrder(ctx, input.OrderID, input.CustomerID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusDraft {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment")
	}
	if order.DeviceID != nil {
		if err := s.ensureDeviceFreeExcept(ctx, *order.DeviceID, order.ID); err != nil {
			return nil, err
		}
	}

	// re-derive the total so a stale client cannot pay yesterday's price
	if order.GrandTotal != input.ExpectedTotal {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order changed").
			WithDetails(map[string]any{"grand_total": order.GrandTotal})
	}

	reserved, err := s.reserveVouchers(ctx, order, input.BearerToken)
	if err != nil {
		return nil, err
	}

	outcome, err := s.submitPayment(ctx, order, input)
	if err != nil {
		s.rollbackVouchers(ctx, order.ID, reserved)
		return nil, err
	}
	return outcome, nil
}

// submitPayment runs the rail dispatch and, for synchronous rails, advances
// the order inside the same transaction that records the ledger row.
func (s *service) submitPayment(ctx context.Context, order *models.Order, input PaymentOrderInput) (*PaymentOutcome, error) {
	outcome := &PaymentOutcome{OrderID: order.ID, Method: input.Method}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if order.GrandTotal == 0 {
			return s.settleFreeOrder(ctx, tx, order, outcome)
		}

		result, err := s.dispatcher.Dispatch(ctx, tx, payments.DispatchInput{
			Order:     order,
			Method:    input.Method,
			Provider:  input.Provider,
			TokenID:   input.TokenID,
			ReturnURL: input.ReturnURL,
		})
		if err != nil {
			return err
		}

		outcome.TransactionID = result.TransactionID
		outcome.Settled = result.Settled
		outcome.Endpoint = result.Endpoint
		outcome.QRCode = result.QRCode
		outcome.ExpiredAt = result.ExpiredAt

		if result.Settled {
			return s.advancePaid(ctx, tx, order, result.TransactionID, input.Method, order.GrandTotal)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// settleFreeOrder covers zero-total orders: membership grants and fully
// discounted drafts settle without touching any rail.
func (s *service) settleFreeOrder(ctx context.Context, tx *gorm.DB, order *models.Order, outcome *PaymentOutcome) error {
	txn, err := s.ledger.WithTx(tx).RecordSucceeded(ctx, &models.OrderTransaction{
		OrderID:         order.ID,
		PaymentMethod:   enums.PaymentMethodCash,
		PaymentProvider: enums.PaymentProviderInternal,
		Amount:          0,
	})
	if err != nil {
		return err
	}

	if order.Membership != nil {
		membershipID, err := uuid.Parse(order.Membership.MembershipID)
		if err == nil {
			ok, err := s.memberships.WithTx(tx).ConsumeCredit(ctx, membershipID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume membership credit")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "membership has no remaining credits")
			}
		}
	}

	outcome.TransactionID = txn.ID
	outcome.Settled = true
	return s.advancePaid(ctx, tx, order, txn.ID, enums.PaymentMethodCash, 0)
}

// advancePaid moves draft to pending and emits the fulfillment trigger.
func (s *service) advancePaid(ctx context.Context, tx *gorm.DB, order *models.Order, txnID uuid.UUID, method enums.PaymentMethod, amount int64) error {
	ok, err := s.repo.WithTx(tx).Transition(ctx, order.ID,
		[]enums.OrderStatus{enums.OrderStatusDraft}, enums.OrderStatusPending, nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance order to pending")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order already advanced")
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Actor:         customerActor(order.CustomerID),
		Data: payloads.OrderPaidEvent{
			OrderID:       order.ID,
			TransactionID: txnID,
			DeviceID:      order.DeviceID,
			OrderType:     order.Type,
			PaymentMethod: method,
			Amount:        amount,
			PaidAt:        s.now(),
		},
	})
}

func (s *service) CancelPayment(ctx context.Context, orderID, customerID uuid.UUID) error {
	order, err := s.loadOwnedOrder(ctx, orderID, customerID)
	if err != nil {
		return err
	}

	txn, err := s.ledger.Repo().FindPendingByOrder(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "no pending payment to cancel")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending transaction")
	}

	// cancel the timer first so the expiry handler cannot race the manual
	// cancellation into a double invalidation
	s.expiry.Cancel(txn.ID)

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.ledger.WithTx(tx).Cancel(ctx, txn.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel transaction")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already settled")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.rollbackVouchers(ctx, order.ID, voucherIDs(order.Voucher))
	s.logg.Info(s.logg.WithTransactionID(ctx, txn.ID.String()), "pending payment canceled")
	return nil
}

func (s *service) CompleteOrder(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	completedAt := s.now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Transition(ctx, orderID,
			[]enums.OrderStatus{enums.OrderStatusProcessing}, enums.OrderStatusCompleted,
			map[string]any{"completed_at": completedAt})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete order")
		}
		if !ok {
			// double completion resolves to a no-op for the loser
			return nil
		}
		if err := repo.StampItemEnd(ctx, orderID, completedAt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp item end")
		}
		if order.DeviceID != nil {
			if err := s.devices.WithTx(tx).ReleaseLease(ctx, *order.DeviceID, orderID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release device")
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCompleted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.OrderCompletedEvent{
				OrderID:     orderID,
				Status:      enums.OrderStatusCompleted,
				CompletedAt: completedAt,
			},
		}); err != nil {
			return err
		}

		// package purchases hand off to station allocation on completion
		if order.Type == enums.OrderTypePackage {
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPackageProcess,
				AggregateType: enums.AggregateOrder,
				AggregateID:   orderID,
				Version:       1,
				Actor:         systemActor(),
				Data: payloads.PackageProcessEvent{
					OrderID:     orderID,
					CustomerID:  order.CustomerID,
					CompletedAt: completedAt,
					Metadata:    order.Metadata,
				},
			}); err != nil {
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventErpSyncRequested,
			AggregateType: enums.AggregateErpObject,
			AggregateID:   orderID,
			Version:       1,
			Actor:         systemActor(),
			Data: payloads.ErpSyncRequestedEvent{
				ObjectType: enums.ErpObjectOrder,
				ObjectID:   orderID,
				Action:     enums.ErpSyncActionUpsert,
			},
		})
	})
}

// OperateDevice handles manual stop requests from the customer. A stop is
// only legal while the wash is running and ends the order in self_stop with a
// refund signal.
func (s *service) OperateDevice(ctx context.Context, input OperateDeviceInput) error {
	if input.OperationType == "START" {
		return pkgerrors.New(pkgerrors.CodeValidation, "start is driven by payment, not manual operation")
	}

	order, err := s.loadOwnedOrder(ctx, input.OrderID, input.CustomerID)
	if err != nil {
		return err
	}
	if order.Status != enums.OrderStatusProcessing {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "device operation requires a running order")
	}
	if order.DeviceID == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order has no device")
	}

	device, err := s.devices.FindByID(ctx, *order.DeviceID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}

	stopped, err := s.devicectl.Stop(ctx, device.ExternalRef, order.SequenceNo)
	if err != nil {
		return err
	}
	if !stopped {
		return pkgerrors.New(pkgerrors.CodeDependency, "device refused stop command")
	}

	settled := settledTransaction(order.Transactions)
	endedAt := s.now()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.Transition(ctx, order.ID,
			[]enums.OrderStatus{enums.OrderStatusProcessing}, enums.OrderStatusSelfStop,
			map[string]any{"completed_at": endedAt})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stop order")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order already terminal")
		}
		if err := repo.StampItemEnd(ctx, order.ID, endedAt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp item end")
		}
		if err := s.devices.WithTx(tx).ReleaseLease(ctx, *order.DeviceID, order.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release device")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDeviceStopped,
			AggregateType: enums.AggregateDevice,
			AggregateID:   *order.DeviceID,
			Version:       1,
			Actor:         customerActor(input.CustomerID),
			Data: payloads.DeviceStoppedEvent{
				OrderID:   order.ID,
				DeviceID:  *order.DeviceID,
				StoppedAt: endedAt,
			},
		}); err != nil {
			return err
		}
		if settled == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderRefunded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Actor:         customerActor(input.CustomerID),
			Data: payloads.OrderRefundedEvent{
				OrderID:       order.ID,
				TransactionID: settled.ID,
				Amount:        settled.Amount,
				RefundedAt:    endedAt,
			},
		})
	})
}

func (s *service) deriveQuote(ctx context.Context, customerID uuid.UUID, items []ItemInput, tax, extraFee int64, voucherID *string, useMembership bool, bearerToken string) (Quote, error) {
	lines := make([]PriceLine, 0, len(items))
	for _, item := range items {
		if item.Qty <= 0 {
			return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
		lines = append(lines, PriceLine{Qty: item.Qty, UnitPrice: item.UnitPrice})
	}

	input := PricingInput{
		Lines:     lines,
		TaxAmount: tax,
		ExtraFee:  extraFee,
		Now:       s.now(),
	}

	if useMembership {
		membership, err := s.memberships.FindActiveByCustomer(ctx, customerID, s.now())
		if err != nil && err != gorm.ErrRecordNotFound {
			return Quote{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load membership")
		}
		if membership != nil && membership.RemainingCredits > 0 {
			input.Membership = &types.MembershipSnapshot{
				MembershipID: membership.ID.String(),
				Plan:         membership.Plan,
			}
		}
	}

	if input.Membership == nil {
		v, err := s.resolveVoucher(ctx, bearerToken, voucherID, lines)
		if err != nil {
			return Quote{}, err
		}
		input.Voucher = v
	}

	return ComputeQuote(input), nil
}

// resolveVoucher returns the explicitly requested voucher, or auto-selects
// the customer's best eligible one when none was named.
func (s *service) resolveVoucher(ctx context.Context, bearerToken string, voucherID *string, lines []PriceLine) (*voucher.Voucher, error) {
	if bearerToken == "" {
		return nil, nil
	}

	if voucherID != nil {
		v, err := s.vouchers.Get(ctx, bearerToken, *voucherID)
		if err != nil {
			return nil, err
		}
		return v, nil
	}

	var subTotal int64
	for _, line := range lines {
		subTotal += int64(line.Qty) * line.UnitPrice
	}
	mine, err := s.vouchers.ListMine(ctx, bearerToken)
	if err != nil {
		// auto-selection is a convenience, a listing failure must not block
		// the order
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "voucher auto-select unavailable")
		return nil, nil
	}
	return SelectBestVoucher(mine, subTotal, s.now()), nil
}

// reserveVouchers reserves every applied voucher remotely. All-or-nothing: a
// single failure leaves none considered reserved.
func (s *service) reserveVouchers(ctx context.Context, order *models.Order, bearerToken string) ([]string, error) {
	ids := voucherIDs(order.Voucher)
	if len(ids) == 0 {
		return nil, nil
	}
	for _, id := range ids {
		if err := s.vouchers.Reserve(ctx, bearerToken, id, order.ID.String()); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// rollbackVouchers is the voucher compensation: best-effort, failures are
// logged and never propagated.
func (s *service) rollbackVouchers(ctx context.Context, orderID uuid.UUID, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.vouchers.Rollback(ctx, ids, orderID.String()); err != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()), "voucher rollback failed", err)
	}
}

func (s *service) loadOwnedOrder(ctx context.Context, orderID, customerID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to customer")
	}
	return order, nil
}

func (s *service) ensureDeviceFree(ctx context.Context, deviceID uuid.UUID) error {
	if _, err := s.devices.FindByID(ctx, deviceID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return pkgerrors.New(pkgerrors.CodeNotFound, "device not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device")
	}
	busy, err := s.devices.HasLiveOrder(ctx, deviceID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check device")
	}
	if busy {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "device already has an order in progress")
	}
	return nil
}

func (s *service) ensureDeviceFreeExcept(ctx context.Context, deviceID, orderID uuid.UUID) error {
	live, err := s.repo.FindLiveByDevice(ctx, deviceID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check device")
	}
	if live.ID != orderID {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "device already has an order in progress")
	}
	return nil
}

func buildItems(inputs []ItemInput, deviceID *uuid.UUID) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		total := int64(in.Qty) * in.UnitPrice
		items = append(items, models.OrderItem{
			ProductID:     in.ProductID,
			Name:          in.Name,
			ProductType:   orDefaultProductType(in.ProductType),
			Qty:           in.Qty,
			UnitPrice:     in.UnitPrice,
			OriginalPrice: in.UnitPrice,
			TotalPrice:    total,
			DeviceID:      deviceID,
			WashMode:      in.WashMode,
		})
	}
	return items
}

func applyQuote(order *models.Order, quote Quote) {
	order.SubTotal = quote.SubTotal
	order.DiscountAmount = quote.DiscountAmount
	order.MembershipAmount = quote.MembershipAmount
	order.TaxAmount = quote.TaxAmount
	order.ExtraFee = quote.ExtraFee
	order.GrandTotal = quote.GrandTotal
	order.Voucher = quote.Voucher
	order.Membership = quote.Membership
	order.DiscountIDs = voucherIDs(quote.Voucher)
}

func settledTransaction(txns []models.OrderTransaction) *models.OrderTransaction {
	for i := range txns {
		if txns[i].Status == enums.TransactionStatusSucceeded {
			return &txns[i]
		}
	}
	return nil
}

func voucherIDs(snapshot *types.VoucherSnapshot) []string {
	if snapshot == nil {
		return nil
	}
	return []string{snapshot.VoucherID}
}

func customerActor(customerID uuid.UUID) *outbox.ActorRef {
	return &outbox.ActorRef{CustomerID: customerID.String()}
}

func systemActor() *outbox.ActorRef {
	return &outbox.ActorRef{System: "washpay"}
}

func orDefaultType(t enums.OrderType) enums.OrderType {
	if t == "" {
		return enums.OrderTypeDefault
	}
	return t
}

func orDefaultProductType(t enums.ProductType) enums.ProductType {
	if t == "" {
		return enums.ProductTypeWash
	}
	return t
}
