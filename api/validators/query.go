package validators

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
)

// ParseQueryInt reads an integer query parameter, falling back to def when the
// parameter is absent and clamping the parsed value into [min, max].
func ParseQueryInt(r *http.Request, name string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("%s must be an integer", name))
	}
	if value < min {
		value = min
	}
	if value > max {
		value = max
	}
	return value, nil
}
