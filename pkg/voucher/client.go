package voucher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/avelezcr/washpay-backend/pkg/config"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
)

const signatureHeader = "X-Signature"

var (
	errBaseURLRequired = errors.New("voucher base url is required")
	errLoggerRequired  = errors.New("voucher logger is required")
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Voucher is the remote discount definition.
type Voucher struct {
	ID                string     `json:"id"`
	Code              string     `json:"code"`
	Percentage        int        `json:"percentage"`
	MaxDeductionValue int64      `json:"maxDeductionValue"`
	MinSpend          int64      `json:"minSpend"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	Reserved          bool       `json:"reserved"`
}

// Usable reports whether the voucher can be applied to the given subtotal now.
func (v Voucher) Usable(subTotal int64, now time.Time) bool {
	if v.Reserved {
		return false
	}
	if v.Percentage <= 0 {
		return false
	}
	if subTotal < v.MinSpend {
		return false
	}
	if v.ExpiresAt != nil && !now.Before(*v.ExpiresAt) {
		return false
	}
	return true
}

// Client talks to the remote voucher service. Caller-scoped reads carry the
// customer bearer token; server-side creation and rollback carry an HMAC
// signature instead.
type Client struct {
	cfg  config.VoucherConfig
	http httpDoer
	logg *logger.Logger
}

// NewClient initializes the voucher client.
func NewClient(ctx context.Context, cfg config.VoucherConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errBaseURLRequired
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.CallTimeout},
		logg: logg,
	}
	logg.Info(ctx, "voucher client initialized")
	return c, nil
}

// Get fetches a single voucher on behalf of the caller.
func (c *Client) Get(ctx context.Context, bearerToken, voucherID string) (*Voucher, error) {
	var out Voucher
	err := c.do(ctx, http.MethodGet, "/vouchers/"+voucherID, bearerToken, nil, &out, "get_voucher")
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListMine returns the caller's vouchers.
func (c *Client) ListMine(ctx context.Context, bearerToken string) ([]Voucher, error) {
	var out []Voucher
	err := c.do(ctx, http.MethodGet, "/vouchers/me", bearerToken, nil, &out, "list_vouchers")
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Reserve marks the voucher as used against the order. The remote side is
// idempotent per (voucherId, orderId), so replaying a reservation is safe.
func (c *Client) Reserve(ctx context.Context, bearerToken, voucherID, orderID string) error {
	body := map[string]string{"orderId": orderID}
	return c.do(ctx, http.MethodPut, "/vouchers/me/use/"+voucherID, bearerToken, body, nil, "reserve_voucher")
}

// Rollback releases reservations for the order. Safe to call when the
// vouchers were never reserved or were already rolled back.
func (c *Client) Rollback(ctx context.Context, voucherIDs []string, orderID string) error {
	if len(voucherIDs) == 0 {
		return nil
	}
	body := map[string]any{"voucherIds": voucherIDs, "orderId": orderID}
	return c.doSigned(ctx, http.MethodPost, "/vouchers/rollback", body, nil, "rollback_voucher")
}

// CreateParams describes a server-issued voucher.
type CreateParams struct {
	Code              string     `json:"code"`
	Percentage        int        `json:"percentage"`
	MaxDeductionValue int64      `json:"maxDeductionValue"`
	MinSpend          int64      `json:"minSpend"`
	CustomerID        string     `json:"customerId,omitempty"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
}

// Create issues one voucher server-side.
func (c *Client) Create(ctx context.Context, params CreateParams) (*Voucher, error) {
	var out Voucher
	if err := c.doSigned(ctx, http.MethodPost, "/vouchers", params, &out, "create_voucher"); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBulk issues a batch of vouchers server-side.
func (c *Client) CreateBulk(ctx context.Context, params []CreateParams) ([]Voucher, error) {
	var out []Voucher
	if err := c.doSigned(ctx, http.MethodPost, "/vouchers/bulk", params, &out, "create_vouchers_bulk"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.SigningSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path, bearerToken string, reqBody, out any, op string) error {
	return c.send(ctx, method, path, reqBody, out, op, func(req *http.Request, body []byte) {
		if bearerToken != "" {
			req.Header.Set("Authorization", "Bearer "+bearerToken)
		}
	})
}

func (c *Client) doSigned(ctx context.Context, method, path string, reqBody, out any, op string) error {
	return c.send(ctx, method, path, reqBody, out, op, func(req *http.Request, body []byte) {
		req.Header.Set(signatureHeader, c.sign(body))
	})
}

func (c *Client) send(ctx context.Context, method, path string, reqBody, out any, op string, decorate func(*http.Request, []byte)) error {
	var body []byte
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = encoded
	}

	backoff := retry.WithMaxRetries(c.cfg.RetryAttempts, retry.NewConstant(c.cfg.RetryDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		decorate(req, body)

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("voucher %s failed", op)))
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("voucher %s failed", op)))
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return pkgerrors.New(pkgerrors.CodeNotFound, "voucher not found")
		case resp.StatusCode == http.StatusConflict:
			return pkgerrors.New(pkgerrors.CodeConflict, "voucher already reserved")
		case resp.StatusCode >= 500:
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("voucher %s returned status %d", op, resp.StatusCode)))
		case resp.StatusCode >= 400:
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("voucher %s rejected with status %d", op, resp.StatusCode))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode voucher %s response", op))
		}
		return nil
	})
}
