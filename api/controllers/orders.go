package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/api/middleware"
	"github.com/avelezcr/washpay-backend/api/responses"
	"github.com/avelezcr/washpay-backend/api/validators"
	internalorders "github.com/avelezcr/washpay-backend/internal/orders"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/types"
)

type placeOrderRequest struct {
	DeviceID      *uuid.UUID                 `json:"device_id"`
	ParentID      *uuid.UUID                 `json:"parent_id"`
	Type          string                     `json:"type"`
	Items         []internalorders.ItemInput `json:"items" validate:"required,min=1,dive"`
	TaxAmount     int64                      `json:"tax_amount" validate:"gte=0"`
	ExtraFee      int64                      `json:"extra_fee" validate:"gte=0"`
	VoucherID     *string                    `json:"voucher_id"`
	UseMembership bool                       `json:"use_membership"`
	Metadata      types.JSONMap              `json:"metadata"`
}

type updateOrderRequest struct {
	Items         []internalorders.ItemInput `json:"items" validate:"required,min=1,dive"`
	TaxAmount     int64                      `json:"tax_amount" validate:"gte=0"`
	ExtraFee      int64                      `json:"extra_fee" validate:"gte=0"`
	VoucherID     *string                    `json:"voucher_id"`
	UseMembership bool                       `json:"use_membership"`
	Metadata      types.JSONMap              `json:"metadata"`
}

type paymentOrderRequest struct {
	Method        string     `json:"method" validate:"required"`
	Provider      string     `json:"provider"`
	TokenID       *uuid.UUID `json:"token_id"`
	ExpectedTotal int64      `json:"expected_total" validate:"gte=0"`
	ReturnURL     string     `json:"return_url"`
}

type operateDeviceRequest struct {
	OperationType string `json:"operation_type" validate:"required"`
}

// PlaceOrder opens a draft order for the caller.
func PlaceOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := middleware.CustomerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing"))
			return
		}

		var req placeOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderType := enums.OrderTypeDefault
		if req.Type != "" {
			parsed, err := enums.ParseOrderType(req.Type)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order type"))
				return
			}
			orderType = parsed
		}

		order, err := svc.PlaceOrder(r.Context(), internalorders.PlaceOrderInput{
			CustomerID:    customerID,
			DeviceID:      req.DeviceID,
			ParentID:      req.ParentID,
			Type:          orderType,
			Items:         req.Items,
			TaxAmount:     req.TaxAmount,
			ExtraFee:      req.ExtraFee,
			VoucherID:     req.VoucherID,
			UseMembership: req.UseMembership,
			Metadata:      req.Metadata,
			BearerToken:   middleware.BearerTokenFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// UpdateOrder re-derives a draft order in place.
func UpdateOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := middleware.CustomerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.UpdateOrder(r.Context(), internalorders.UpdateOrderInput{
			OrderID:       orderID,
			CustomerID:    customerID,
			Items:         req.Items,
			TaxAmount:     req.TaxAmount,
			ExtraFee:      req.ExtraFee,
			VoucherID:     req.VoucherID,
			UseMembership: req.UseMembership,
			Metadata:      req.Metadata,
			BearerToken:   middleware.BearerTokenFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// GetOrder returns an order the caller owns.
func GetOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := middleware.CustomerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if order.CustomerID != customerID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// ListOrders returns the caller's recent orders.
func ListOrders(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := middleware.CustomerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing"))
			return
		}

		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := validators.ParseQueryInt(r, "limit", 50, 1, 100)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			limit = parsed
		}

		orders, err := svc.ListOrders(r.Context(), customerID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orders)
	}
}

// PaymentOrder submits a draft order for payment.
func PaymentOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := middleware.CustomerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req paymentOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(req.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}
		provider := enums.PaymentProviderInternal
		if req.Provider != "" {
			parsed, err := enums.ParsePaymentProvider(req.Provider)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment provider"))
				return
			}
			provider = parsed
		}

		outcome, err := svc.PaymentOrder(r.Context(), internalorders.PaymentOrderInput{
			OrderID:       orderID,
			CustomerID:    customerID,
			Method:        method,
			Provider:      provider,
			TokenID:       req.TokenID,
			ExpectedTotal: req.ExpectedTotal,
			ReturnURL:     req.ReturnURL,
			BearerToken:   middleware.BearerTokenFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

// CancelPayment invalidates the pending payment attempt on a draft order.
func CancelPayment(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := middleware.CustomerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.CancelPayment(r.Context(), orderID, customerID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "canceled"})
	}
}

// OperateDevice drives a manual device operation against a live order.
func OperateDevice(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, ok := middleware.CustomerIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing"))
			return
		}
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req operateDeviceRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.OperateDevice(r.Context(), internalorders.OperateDeviceInput{
			OrderID:       orderID,
			CustomerID:    customerID,
			OperationType: req.OperationType,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "accepted"})
	}
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}
