package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sethvargo/go-retry"

	"github.com/avelezcr/washpay-backend/pkg/config"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
)

var (
	errBaseURLRequired = errors.New("erp base url is required")
	errAPIKeyRequired  = errors.New("erp api key is required")
	errLoggerRequired  = errors.New("erp logger is required")
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Object is one remote ERP record. Fields beyond the GUID are free-form.
type Object struct {
	GUID   string         `json:"guid"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Filter is a natural-key match sent to the search and count endpoints.
type Filter map[string]any

// Client mirrors business objects into the remote ERP. Every write is
// preceded by a natural-key search so indefinite retries stay idempotent.
type Client struct {
	cfg  config.ERPConfig
	http httpDoer
	logg *logger.Logger
}

// NewClient initializes the ERP client.
func NewClient(ctx context.Context, cfg config.ERPConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errBaseURLRequired
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errAPIKeyRequired
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.CallTimeout},
		logg: logg,
	}
	logg.Info(ctx, "erp client initialized")
	return c, nil
}

// Search returns the remote objects matching the natural-key filter.
func (c *Client) Search(ctx context.Context, objectType string, filter Filter) ([]Object, error) {
	var out struct {
		Items []Object `json:"items"`
	}
	if err := c.send(ctx, http.MethodPost, "/"+objectType+"/search", filter, &out, "search"); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Count returns how many remote objects match the filter.
func (c *Client) Count(ctx context.Context, objectType string, filter Filter) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	if err := c.send(ctx, http.MethodPost, "/"+objectType+"/count", filter, &out, "count"); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Create inserts a new remote object and returns its GUID.
func (c *Client) Create(ctx context.Context, objectType string, payload any) (string, error) {
	var out Object
	if err := c.send(ctx, http.MethodPost, "/"+objectType, payload, &out, "create"); err != nil {
		return "", err
	}
	if out.GUID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("erp create %s returned no guid", objectType))
	}
	return out.GUID, nil
}

// Update overwrites the remote object identified by guid.
func (c *Client) Update(ctx context.Context, objectType, guid string, payload any) error {
	return c.send(ctx, http.MethodPut, "/"+objectType+"/"+guid, payload, nil, "update")
}

// Delete removes the remote object identified by guid. A missing object is
// treated as already deleted.
func (c *Client) Delete(ctx context.Context, objectType, guid string) error {
	err := c.send(ctx, http.MethodDelete, "/"+objectType+"/"+guid, nil, nil, "delete")
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
		return nil
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, reqBody, out any, op string) error {
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
		req.Header.Set("X-Api-Key", c.cfg.APIKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("erp %s failed", op)))
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("erp %s failed", op)))
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("erp object not found for %s", op))
		case resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeRateLimit, "erp rate limit exceeded"))
		case resp.StatusCode >= 500:
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("erp %s returned status %d", op, resp.StatusCode)))
		case resp.StatusCode >= 400:
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("erp %s rejected with status %d", op, resp.StatusCode))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode erp %s response", op))
		}
		return nil
	})
}
