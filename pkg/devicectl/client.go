package devicectl

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

// OperationType selects what the controller should do with the device.
type OperationType string

const (
	OperationStart   OperationType = "START"
	OperationStop    OperationType = "STOP"
	OperationOperate OperationType = "OPERATE"
)

var (
	errBaseURLRequired = errors.New("device controller base url is required")
	errLoggerRequired  = errors.New("device controller logger is required")
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Command is one instruction to the device controller.
type Command struct {
	OperationType OperationType `json:"operationType"`
	Mode          string        `json:"mode,omitempty"`
	DeviceRef     string        `json:"deviceRef"`
	OrderRef      string        `json:"orderRef"`
	Amount        int64         `json:"amount"`
}

// Client drives the physical wash devices. The controller answers with a
// bare boolean, anything else counts as failure.
type Client struct {
	cfg  config.DeviceConfig
	http httpDoer
	logg *logger.Logger
}

// NewClient initializes the device controller client.
func NewClient(ctx context.Context, cfg config.DeviceConfig, logg *logger.Logger) (*Client, error) {
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
	logg.Info(ctx, "device controller client initialized")
	return c, nil
}

// Operate sends the command with bounded retry and reports the controller's
// boolean verdict. Network failures after retries surface as dependency
// errors; a reachable controller saying "no" returns (false, nil).
func (c *Client) Operate(ctx context.Context, cmd Command) (bool, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return false, err
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"device_ref": cmd.DeviceRef,
		"order_ref":  cmd.OrderRef,
		"operation":  cmd.OperationType,
	})
	c.logg.Info(logCtx, "device command dispatched")

	var success bool
	backoff := retry.WithMaxRetries(c.cfg.RetryAttempts, retry.NewConstant(c.cfg.RetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/devices/operate", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("X-Api-Key", c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "device controller unreachable"))
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "device controller unreachable"))
		}
		if resp.StatusCode >= 500 {
			return retry.RetryableError(pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("device controller returned status %d", resp.StatusCode)))
		}
		if resp.StatusCode >= 400 {
			return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("device command rejected with status %d", resp.StatusCode))
		}

		var payload struct {
			Success bool `json:"success"`
		}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode device controller response")
		}
		success = payload.Success
		return nil
	})
	if err != nil {
		c.logg.Error(logCtx, "device command failed", err)
		return false, err
	}

	resultCtx := c.logg.WithField(logCtx, "success", success)
	c.logg.Info(resultCtx, "device command answered")
	return success, nil
}

// Start begins a wash cycle on the device.
func (c *Client) Start(ctx context.Context, deviceRef, orderRef, mode string, amount int64) (bool, error) {
	return c.Operate(ctx, Command{
		OperationType: OperationStart,
		Mode:          mode,
		DeviceRef:     deviceRef,
		OrderRef:      orderRef,
		Amount:        amount,
	})
}

// Stop ends the running cycle on the device.
func (c *Client) Stop(ctx context.Context, deviceRef, orderRef string) (bool, error) {
	return c.Operate(ctx, Command{
		OperationType: OperationStop,
		DeviceRef:     deviceRef,
		OrderRef:      orderRef,
	})
}
