package enums

import "fmt"

// OrderStatus tracks the lifecycle of a wash order.
type OrderStatus string

const (
	OrderStatusDraft        OrderStatus = "draft"
	OrderStatusPending      OrderStatus = "pending"
	OrderStatusProcessing   OrderStatus = "processing"
	OrderStatusCompleted    OrderStatus = "completed"
	OrderStatusAbnormalStop OrderStatus = "abnormal_stop"
	OrderStatusSelfStop     OrderStatus = "self_stop"
	OrderStatusFailed       OrderStatus = "failed"
	OrderStatusRefunded     OrderStatus = "refunded"
	OrderStatusCanceled     OrderStatus = "canceled"
	OrderStatusRejected     OrderStatus = "rejected"
	OrderStatusUnknown      OrderStatus = "unknown"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusDraft,
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusCompleted,
	OrderStatusAbnormalStop,
	OrderStatusSelfStop,
	OrderStatusFailed,
	OrderStatusRefunded,
	OrderStatusCanceled,
	OrderStatusRejected,
	OrderStatusUnknown,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status accepts no further transitions.
func (o OrderStatus) IsTerminal() bool {
	switch o {
	case OrderStatusCompleted, OrderStatusAbnormalStop, OrderStatusSelfStop,
		OrderStatusFailed, OrderStatusRefunded, OrderStatusCanceled,
		OrderStatusRejected, OrderStatusUnknown:
		return true
	}
	return false
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
