package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
)

// PaymentParams is the common input for gateway payment creation.
type PaymentParams struct {
	OrderRef    string `json:"orderRef"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	ReturnURL   string `json:"returnUrl,omitempty"`
}

// TokenPaymentParams replays a stored instrument.
type TokenPaymentParams struct {
	PaymentParams
	TokenRef string `json:"tokenRef"`
}

// PaymentResult is the uniform output of payment creation calls.
type PaymentResult struct {
	TransactionID string     `json:"transactionId"`
	Endpoint      string     `json:"endpoint,omitempty"`
	QRCode        string     `json:"qrCode,omitempty"`
	ExpiredAt     *time.Time `json:"expiredAt,omitempty"`
}

// QueryResult is the state of a transaction as the gateway sees it.
type QueryResult struct {
	TransactionID string `json:"transactionId"`
	OrderRef      string `json:"orderRef"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
}

// RefundParams reverses a settled transaction.
type RefundParams struct {
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason,omitempty"`
}

// RefundResult reports the gateway's refund reference.
type RefundResult struct {
	RefundID string `json:"refundId"`
	Status   string `json:"status"`
}

// CreatePayment opens a hosted-redirect credit payment.
func (c *Client) CreatePayment(ctx context.Context, params PaymentParams) (*PaymentResult, error) {
	resp, err := c.call(ctx, http.MethodPost, "/v1/payments", params, "create_payment")
	if err != nil {
		return nil, err
	}
	return decodePaymentResult(c, resp, "create payment")
}

// CreateTokenPayment charges a stored instrument.
func (c *Client) CreateTokenPayment(ctx context.Context, params TokenPaymentParams) (*PaymentResult, error) {
	resp, err := c.call(ctx, http.MethodPost, "/v1/payments/token", params, "create_token_payment")
	if err != nil {
		return nil, err
	}
	return decodePaymentResult(c, resp, "create token payment")
}

// CreateDynamicQR requests a one-shot dynamic QR for the order.
func (c *Client) CreateDynamicQR(ctx context.Context, params PaymentParams) (*PaymentResult, error) {
	resp, err := c.call(ctx, http.MethodPost, "/v1/qr/dynamic", params, "create_dynamic_qr")
	if err != nil {
		return nil, err
	}
	return decodePaymentResult(c, resp, "create dynamic qr")
}

// QueryPayment polls the gateway for the current state of a transaction.
func (c *Client) QueryPayment(ctx context.Context, transactionID string) (*QueryResult, error) {
	body := map[string]string{"transactionId": transactionID}
	resp, err := c.call(ctx, http.MethodPost, "/v1/payments/query", body, "query_payment")
	if err != nil {
		return nil, err
	}
	if !resp.succeeded(c.cfg.SuccessCode) {
		return nil, providerError(resp, "query payment")
	}
	var result QueryResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode query payment response")
	}
	return &result, nil
}

// Refund reverses a settled transaction.
func (c *Client) Refund(ctx context.Context, params RefundParams) (*RefundResult, error) {
	path := fmt.Sprintf("/v1/payments/%s/refund", params.TransactionID)
	resp, err := c.call(ctx, http.MethodPost, path, params, "refund_payment")
	if err != nil {
		return nil, err
	}
	if !resp.succeeded(c.cfg.SuccessCode) {
		return nil, providerError(resp, "refund payment")
	}
	var result RefundResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode refund response")
	}
	return &result, nil
}

func decodePaymentResult(c *Client, resp *response, op string) (*PaymentResult, error) {
	if !resp.succeeded(c.cfg.SuccessCode) {
		return nil, providerError(resp, op)
	}
	var result PaymentResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s response", op))
	}
	if result.TransactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s returned no transaction id", op))
	}
	return &result, nil
}

func providerError(resp *response, op string) error {
	return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s rejected with code %s", op, resp.Code)).
		WithDetails(map[string]any{"provider_code": resp.Code, "provider_message": resp.Message})
}
