package controllers

import (
	"context"
	"net/http"

	"github.com/avelezcr/washpay-backend/api/middleware"
	"github.com/avelezcr/washpay-backend/api/responses"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/voucher"
)

type voucherLister interface {
	ListMine(ctx context.Context, bearerToken string) ([]voucher.Voucher, error)
}

// ListMyVouchers proxies the caller's voucher wallet. The bearer token is
// passed through so the voucher service enforces ownership itself.
func ListMyVouchers(client voucherLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := middleware.BearerTokenFromContext(r.Context())
		if token == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "bearer token required"))
			return
		}

		vouchers, err := client.ListMine(r.Context(), token)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, vouchers)
	}
}
