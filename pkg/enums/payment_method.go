package enums

import "fmt"

// PaymentMethod identifies the rail a transaction settles over.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "cash"
	PaymentMethodCredit PaymentMethod = "credit"
	PaymentMethodToken  PaymentMethod = "token"
	PaymentMethodQR     PaymentMethod = "qr"
	PaymentMethodQRPay  PaymentMethod = "qrpay"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCash,
	PaymentMethodCredit,
	PaymentMethodToken,
	PaymentMethodQR,
	PaymentMethodQRPay,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsSynchronous reports whether the rail settles within the request.
// Cash settles locally and credit settles on the gateway call. Token and
// the QR rails settle later via webhook.
func (p PaymentMethod) IsSynchronous() bool {
	return p == PaymentMethodCash || p == PaymentMethodCredit
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
