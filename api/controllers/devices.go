package controllers

import (
	"net/http"

	"github.com/avelezcr/washpay-backend/api/responses"
	"github.com/avelezcr/washpay-backend/internal/devices"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
)

// ListDevices returns the machines known to the service.
func ListDevices(repo devices.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		machines, err := repo.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list devices"))
			return
		}
		responses.WriteSuccess(w, machines)
	}
}
