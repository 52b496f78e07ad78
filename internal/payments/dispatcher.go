package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/avelezcr/washpay-backend/internal/ledger"
	"github.com/avelezcr/washpay-backend/pkg/config"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/gateway"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type gatewayClient interface {
	CreatePayment(ctx context.Context, params gateway.PaymentParams) (*gateway.PaymentResult, error)
	CreateTokenPayment(ctx context.Context, params gateway.TokenPaymentParams) (*gateway.PaymentResult, error)
	CreateDynamicQR(ctx context.Context, params gateway.PaymentParams) (*gateway.PaymentResult, error)
}

type expiryScheduler interface {
	Schedule(txnID uuid.UUID, fireAt time.Time)
}

// DispatchInput routes one payment attempt onto a rail.
type DispatchInput struct {
	Order     *models.Order
	Method    enums.PaymentMethod
	Provider  enums.PaymentProvider
	TokenID   *uuid.UUID
	ReturnURL string
}

// DispatchResult is the uniform rail answer. Synchronous rails settle
// immediately; asynchronous rails hand back redirect/QR material.
type DispatchResult struct {
	Success       bool
	TransactionID uuid.UUID
	Settled       bool
	Endpoint      string
	QRCode        string
	ExpiredAt     *time.Time
}

// Dispatcher routes payment attempts to the correct rail handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx *gorm.DB, input DispatchInput) (*DispatchResult, error)
}

type dispatcher struct {
	ledger  ledger.Service
	tokens  TokenRepository
	gateway gatewayClient
	expiry  expiryScheduler
	cfg     config.PaymentConfig
	saga    *metrics.SagaMetrics
	logg    *logger.Logger
	now     func() time.Time
}

// NewDispatcher builds the payment rail dispatcher.
func NewDispatcher(
	ledgerSvc ledger.Service,
	tokens TokenRepository,
	gw gatewayClient,
	expiry expiryScheduler,
	cfg config.PaymentConfig,
	saga *metrics.SagaMetrics,
	logg *logger.Logger,
) (Dispatcher, error) {
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token repository required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if expiry == nil {
		return nil, fmt.Errorf("expiry scheduler required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &dispatcher{
		ledger:  ledgerSvc,
		tokens:  tokens,
		gateway: gw,
		expiry:  expiry,
		cfg:     cfg,
		saga:    saga,
		logg:    logg,
		now:     time.Now,
	}, nil
}

func (d *dispatcher) Dispatch(ctx context.Context, tx *gorm.DB, input DispatchInput) (*DispatchResult, error) {
	if input.Order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}

	ctx = d.logg.WithFields(ctx, map[string]any{
		"order_id":       input.Order.ID.String(),
		"payment_method": string(input.Method),
	})

	var (
		result *DispatchResult
		err    error
	)
	switch input.Method {
	case enums.PaymentMethodCash:
		result, err = d.dispatchCash(ctx, tx, input)
	case enums.PaymentMethodCredit:
		result, err = d.dispatchCredit(ctx, tx, input)
	case enums.PaymentMethodToken:
		result, err = d.dispatchToken(ctx, tx, input)
	case enums.PaymentMethodQR:
		result, err = d.dispatchStaticQR(ctx, tx, input)
	case enums.PaymentMethodQRPay:
		result, err = d.dispatchDynamicQR(ctx, tx, input)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}

	if err != nil {
		d.saga.IncPayment(string(input.Method), "error")
		return nil, err
	}
	d.saga.IncPayment(string(input.Method), "dispatched")
	return result, nil
}

// dispatchCash settles synchronously: the ledger row is born succeeded and the
// caller advances the order in the same unit of work.
func (d *dispatcher) dispatchCash(ctx context.Context, tx *gorm.DB, input DispatchInput) (*DispatchResult, error) {
	txn, err := d.ledger.WithTx(tx).RecordSucceeded(ctx, &models.OrderTransaction{
		OrderID:         input.Order.ID,
		PaymentMethod:   enums.PaymentMethodCash,
		PaymentProvider: enums.PaymentProviderInternal,
		Amount:          input.Order.GrandTotal,
	})
	if err != nil {
		return nil, err
	}
	d.logg.Info(ctx, "cash payment settled")
	return &DispatchResult{Success: true, TransactionID: txn.ID, Settled: true}, nil
}

func (d *dispatcher) dispatchCredit(ctx context.Context, tx *gorm.DB, input DispatchInput) (*DispatchResult, error) {
	res, err := d.gateway.CreatePayment(ctx, gateway.PaymentParams{
		OrderRef:  input.Order.SequenceNo,
		Amount:    input.Order.GrandTotal,
		ReturnURL: input.ReturnURL,
	})
	if err != nil {
		return nil, err
	}

	txn, err := d.openGatewayPending(ctx, tx, input, enums.PaymentMethodCredit, res, nil)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{
		Success:       true,
		TransactionID: txn.ID,
		Endpoint:      res.Endpoint,
	}, nil
}

func (d *dispatcher) dispatchToken(ctx context.Context, tx *gorm.DB, input DispatchInput) (*DispatchResult, error) {
	if input.TokenID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token id required")
	}
	token, err := d.tokens.WithTx(tx).FindOwned(ctx, *input.TokenID, input.Order.CustomerID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment token not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment token")
	}

	res, err := d.gateway.CreateTokenPayment(ctx, gateway.TokenPaymentParams{
		PaymentParams: gateway.PaymentParams{
			OrderRef:  input.Order.SequenceNo,
			Amount:    input.Order.GrandTotal,
			ReturnURL: input.ReturnURL,
		},
		TokenRef: token.TokenRef,
	})
	if err != nil {
		return nil, err
	}

	txn, err := d.openGatewayPending(ctx, tx, input, enums.PaymentMethodToken, res, nil)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{
		Success:       true,
		TransactionID: txn.ID,
		Endpoint:      res.Endpoint,
	}, nil
}

// dispatchStaticQR opens a pending row against the store's printed QR. Any
// abandoned pending QR row for the order is cleared first so a fresh scan
// restarts the window.
func (d *dispatcher) dispatchStaticQR(ctx context.Context, tx *gorm.DB, input DispatchInput) (*DispatchResult, error) {
	ledgerTx := d.ledger.WithTx(tx)
	if err := ledgerTx.Repo().DeleteStalePendingQR(ctx, input.Order.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear stale qr attempt")
	}

	expiresAt := d.now().Add(d.cfg.QRWindow)
	txn, err := ledgerTx.OpenPending(ctx, &models.OrderTransaction{
		OrderID:         input.Order.ID,
		PaymentMethod:   enums.PaymentMethodQR,
		PaymentProvider: enums.PaymentProviderPaynet,
		Amount:          input.Order.GrandTotal,
		ExpiresAt:       &expiresAt,
	})
	if err != nil {
		return nil, err
	}

	d.expiry.Schedule(txn.ID, expiresAt.Add(d.cfg.ExpiryGrace))
	d.logg.Info(ctx, "static qr attempt opened")
	return &DispatchResult{
		Success:       true,
		TransactionID: txn.ID,
		ExpiredAt:     &expiresAt,
	}, nil
}

func (d *dispatcher) dispatchDynamicQR(ctx context.Context, tx *gorm.DB, input DispatchInput) (*DispatchResult, error) {
	res, err := d.gateway.CreateDynamicQR(ctx, gateway.PaymentParams{
		OrderRef: input.Order.SequenceNo,
		Amount:   input.Order.GrandTotal,
	})
	if err != nil {
		return nil, err
	}

	txn, err := d.openGatewayPending(ctx, tx, input, enums.PaymentMethodQRPay, res, res.ExpiredAt)
	if err != nil {
		return nil, err
	}
	return &DispatchResult{
		Success:       true,
		TransactionID: txn.ID,
		Endpoint:      res.Endpoint,
		QRCode:        res.QRCode,
		ExpiredAt:     res.ExpiredAt,
	}, nil
}

func (d *dispatcher) openGatewayPending(ctx context.Context, tx *gorm.DB, input DispatchInput, method enums.PaymentMethod, res *gateway.PaymentResult, expiresAt *time.Time) (*models.OrderTransaction, error) {
	txn := &models.OrderTransaction{
		OrderID:         input.Order.ID,
		PaymentMethod:   method,
		PaymentProvider: enums.PaymentProviderPaynet,
		Amount:          input.Order.GrandTotal,
		Endpoint:        nilIfEmpty(res.Endpoint),
		QRCode:          nilIfEmpty(res.QRCode),
		ExpiresAt:       expiresAt,
	}
	if res.TransactionID != "" {
		providerTxnID := res.TransactionID
		txn.ProviderTxnID = &providerTxnID
	}
	return d.ledger.WithTx(tx).OpenPending(ctx, txn)
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
