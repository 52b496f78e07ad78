package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/api/responses"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
)

const customerIDHeader = "X-Customer-Id"

type contextKey string

const (
	customerIDKey  contextKey = "customer_id"
	bearerTokenKey contextKey = "bearer_token"
)

// CustomerContext resolves the caller identity set by the upstream edge. The
// edge terminates authentication; this service only trusts its headers.
func CustomerContext(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(customerIDHeader))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing"))
				return
			}
			customerID, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid customer identity"))
				return
			}

			ctx := context.WithValue(r.Context(), customerIDKey, customerID)
			if token := bearerFromHeader(r); token != "" {
				ctx = context.WithValue(ctx, bearerTokenKey, token)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CustomerIDFromContext returns the authenticated customer id.
func CustomerIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(customerIDKey).(uuid.UUID)
	return id, ok
}

// BearerTokenFromContext returns the caller's bearer token for passthrough
// calls such as voucher lookups.
func BearerTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(bearerTokenKey).(string)
	return token
}

func bearerFromHeader(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
