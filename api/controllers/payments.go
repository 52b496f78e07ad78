package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelezcr/washpay-backend/api/middleware"
	"github.com/avelezcr/washpay-backend/api/responses"
	"github.com/avelezcr/washpay-backend/internal/ledger"
	internalorders "github.com/avelezcr/washpay-backend/internal/orders"
	"github.com/avelezcr/washpay-backend/internal/webhooks"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/gateway"
	"github.com/avelezcr/washpay-backend/pkg/logger"
)

type paymentStatusQuerier interface {
	QueryPayment(ctx context.Context, transactionID string) (*gateway.QueryResult, error)
}

type paymentStatusResponse struct {
	TransactionID  uuid.UUID  `json:"transaction_id"`
	OrderID        uuid.UUID  `json:"order_id"`
	Status         string     `json:"status"`
	Amount         int64      `json:"amount"`
	ReceivedAmount *int64     `json:"received_amount,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// PaymentStatus polls the state of a payment attempt. A pending attempt is
// checked against the gateway; when the gateway already reached a terminal
// state the result is fed through the same reconciliation path the webhook
// uses, so a lost callback cannot strand the order.
func PaymentStatus(
	ledgerSvc ledger.Service,
	ordersRepo internalorders.Repository,
	querier paymentStatusQuerier,
	reconciler webhooks.Reconciler,
	successCode string,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := middleware.CustomerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing"))
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "transactionId"))
		txnID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction id"))
			return
		}

		txn, err := ledgerSvc.Repo().FindByID(r.Context(), txnID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction"))
			return
		}

		order, err := ordersRepo.FindByID(r.Context(), txn.OrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order"))
			return
		}
		if order.CustomerID != customerID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found"))
			return
		}

		if !txn.Status.IsTerminal() && txn.ProviderTxnID != nil {
			result, err := querier.QueryPayment(r.Context(), *txn.ProviderTxnID)
			if err != nil {
				logg.Warn(r.Context(), "gateway query failed, returning local status")
			} else if code, terminal := gatewayResponseCode(result.Status, successCode); terminal {
				if err := reconciler.Process(r.Context(), webhooks.Event{
					ResponseCode:  code,
					TransactionID: *txn.ProviderTxnID,
					OrderRef:      result.OrderRef,
					Amount:        result.Amount,
				}); err != nil {
					logg.Error(r.Context(), "reconcile polled payment", err)
				}
				// re-read so the client sees the reconciled state
				if fresh, err := ledgerSvc.Repo().FindByID(r.Context(), txnID); err == nil {
					txn = fresh
				}
			}
		}

		responses.WriteSuccess(w, paymentStatusResponse{
			TransactionID:  txn.ID,
			OrderID:        txn.OrderID,
			Status:         string(txn.Status),
			Amount:         txn.Amount,
			ReceivedAmount: txn.ReceivedAmount,
			ExpiresAt:      txn.ExpiresAt,
		})
	}
}

// gatewayResponseCode maps a gateway query status onto the webhook response
// code space. Only terminal gateway states are reconciled.
func gatewayResponseCode(status, successCode string) (string, bool) {
	switch strings.ToLower(status) {
	case "settled", "succeeded":
		return successCode, true
	case "failed", "canceled", "expired":
		return "poll:" + strings.ToLower(status), true
	}
	return "", false
}
