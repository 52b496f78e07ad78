package types

// SuccessEnvelope wraps every 2xx body under a data key.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the client-visible error shape. Details is only populated for
// validation failures.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps every non-2xx body.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
