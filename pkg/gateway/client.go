package gateway

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
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"github.com/avelezcr/washpay-backend/pkg/config"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
)

const (
	tokenPath       = "/v1/oauth/token"
	signatureHeader = "X-Signature"

	renewalKey = "token"
)

var (
	errBaseURLRequired = errors.New("gateway base url is required")
	errClientIDEmpty   = errors.New("gateway client id is required")
	errSecretEmpty     = errors.New("gateway client secret is required")
	errLoggerRequired  = errors.New("gateway logger is required")
)

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the payment gateway with centralized auth, signing, retry,
// and request/response auditing. One instance owns one cached access token.
type Client struct {
	cfg  config.GatewayConfig
	http httpDoer
	logg *logger.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	renewals    singleflight.Group

	now func() time.Time
}

// NewClient initializes the gateway wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.GatewayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errBaseURLRequired
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errClientIDEmpty
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errSecretEmpty
	}

	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.CallTimeout},
		logg: logg,
		now:  time.Now,
	}

	logg.Info(ctx, "gateway client initialized")
	return c, nil
}

// response is the gateway's uniform envelope. Success is determined by the
// provider code, never by the HTTP status.
type response struct {
	Code    string          `json:"responseCode"`
	Message string          `json:"responseMessage"`
	Data    json.RawMessage `json:"responseData"`
}

func (r response) succeeded(successCode string) bool {
	return r.Code == successCode
}

// Sign produces the hex HMAC-SHA256 of the canonical JSON body.
func (c *Client) Sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.SigningSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound webhook body against its signature.
func (c *Client) VerifySignature(body []byte, signature string) bool {
	expected := c.Sign(body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SuccessCode exposes the provider code meaning success, for webhook checks.
func (c *Client) SuccessCode() string {
	return c.cfg.SuccessCode
}

// accessToken returns the cached token or renews it. Renewal is single-flight:
// concurrent misses share one in-flight renewal, and the flight is forgotten
// once settled so the next miss starts fresh.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Add(c.cfg.TokenSkew).Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	value, err, _ := c.renewals.Do(renewalKey, func() (interface{}, error) {
		defer c.renewals.Forget(renewalKey)
		return c.renewToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// invalidateToken drops the cached credential after an authorization failure.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

func (c *Client) renewToken(ctx context.Context) (string, error) {
	form := map[string]string{
		"grant_type":    "password",
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}
	body, err := json.Marshal(form)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+tokenPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway token renewal failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway token renewal failed")
	}
	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("gateway token renewal returned status %d", resp.StatusCode))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway token renewal failed")
	}
	if payload.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "gateway token renewal returned empty token")
	}

	c.mu.Lock()
	c.token = payload.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	c.mu.Unlock()

	return payload.AccessToken, nil
}

// call issues one signed, authenticated request with bounded retry. A 401
// triggers exactly one token renewal and replay before the error surfaces.
func (c *Client) call(ctx context.Context, method, path string, reqBody any, op string) (*response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	c.audit(ctx, "request", op, map[string]any{"path": path, "body": string(body)})

	var result *response
	backoff := retry.WithMaxRetries(c.cfg.RetryAttempts, retry.NewConstant(c.cfg.RetryDelay))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, attemptErr := c.attempt(ctx, method, path, body)
		if attemptErr != nil {
			if isAuthError(attemptErr) {
				c.invalidateToken()
				if resp, retryErr := c.attempt(ctx, method, path, body); retryErr == nil {
					result = resp
					return nil
				}
				// the refreshed credential did not help, surface the original
				return attemptErr
			}
			return retry.RetryableError(attemptErr)
		}
		result = resp
		return nil
	})
	if err != nil {
		c.audit(ctx, "error", op, map[string]any{"path": path, "error": err.Error()})
		return nil, err
	}

	c.audit(ctx, "response", op, map[string]any{
		"path":    path,
		"code":    result.Code,
		"message": result.Message,
	})
	return result, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte) (*response, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(signatureHeader, c.Sign(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway call failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway call failed")
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "gateway rejected credential")
	}

	var parsed response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway returned malformed response")
	}
	return &parsed, nil
}

func isAuthError(err error) bool {
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeUnauthorized
}

func (c *Client) audit(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logg == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logg.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logg.Error(ctx, fmt.Sprintf("gateway %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logg.Info(ctx, fmt.Sprintf("gateway %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "token", "cvv", "cvc", "secret", "pan"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
