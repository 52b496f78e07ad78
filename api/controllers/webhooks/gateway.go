package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/avelezcr/washpay-backend/api/responses"
	internalwebhooks "github.com/avelezcr/washpay-backend/internal/webhooks"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
)

const signatureHeader = "X-Signature"

// maxCallbackBody bounds the webhook body read.
const maxCallbackBody = 1 << 20

type signatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

type gatewayCallback struct {
	ResponseCode string `json:"responseCode"`
	ResponseData struct {
		OrderID       string `json:"orderID"`
		TransactionID string `json:"transactionID"`
		OrderAmount   int64  `json:"orderAmount"`
	} `json:"responseData"`
}

// GatewayCallback ingests asynchronous payment notifications. The signature
// covers the raw body, so it is verified before any decoding.
func GatewayCallback(verifier signatureVerifier, reconciler internalwebhooks.Reconciler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read callback body"))
			return
		}

		if !verifier.VerifySignature(body, r.Header.Get(signatureHeader)) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid callback signature"))
			return
		}

		var callback gatewayCallback
		if err := json.Unmarshal(body, &callback); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode callback body"))
			return
		}

		if err := reconciler.Process(r.Context(), internalwebhooks.Event{
			ResponseCode:  callback.ResponseCode,
			TransactionID: callback.ResponseData.TransactionID,
			OrderRef:      callback.ResponseData.OrderID,
			Amount:        callback.ResponseData.OrderAmount,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "accepted"})
	}
}
