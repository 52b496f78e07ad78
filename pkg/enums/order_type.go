package enums

import "fmt"

// OrderType distinguishes the billable unit behind an order.
type OrderType string

const (
	// OrderTypeDefault is a standard device wash session.
	OrderTypeDefault OrderType = "default"
	// OrderTypeTokenize is a one-off card tokenization order.
	OrderTypeTokenize OrderType = "tokenize"
	// OrderTypeFnb is a food-and-beverage sub-order attached to a wash order.
	OrderTypeFnb OrderType = "fnb"
	// OrderTypePackage is a prepaid package purchase.
	OrderTypePackage OrderType = "package"
)

var validOrderTypes = []OrderType{
	OrderTypeDefault,
	OrderTypeTokenize,
	OrderTypeFnb,
	OrderTypePackage,
}

// String implements fmt.Stringer.
func (o OrderType) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderType.
func (o OrderType) IsValid() bool {
	for _, candidate := range validOrderTypes {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseOrderType converts raw input into an OrderType.
func ParseOrderType(value string) (OrderType, error) {
	for _, candidate := range validOrderTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order type %q", value)
}
