package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/types"
)

// Order is the aggregate root of the payment-fulfillment saga. Money fields
// are integer amounts in the smallest currency unit. Orders are never deleted,
// terminal states retain the full row.
type Order struct {
	ID               uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SequenceNo       string                    `gorm:"column:sequence_no;not null;uniqueIndex"`
	CustomerID       uuid.UUID                 `gorm:"column:customer_id;type:uuid;not null"`
	DeviceID         *uuid.UUID                `gorm:"column:device_id;type:uuid"`
	ParentID         *uuid.UUID                `gorm:"column:parent_id;type:uuid"`
	Type             enums.OrderType           `gorm:"column:type;type:order_type;not null;default:'default'"`
	Status           enums.OrderStatus         `gorm:"column:status;type:order_status;not null;default:'draft'"`
	SubTotal         int64                     `gorm:"column:sub_total;not null"`
	DiscountAmount   int64                     `gorm:"column:discount_amount;not null;default:0"`
	MembershipAmount int64                     `gorm:"column:membership_amount;not null;default:0"`
	TaxAmount        int64                     `gorm:"column:tax_amount;not null;default:0"`
	ExtraFee         int64                     `gorm:"column:extra_fee;not null;default:0"`
	GrandTotal       int64                     `gorm:"column:grand_total;not null"`
	DiscountIDs      []string                  `gorm:"column:discount_ids;type:jsonb;serializer:json"`
	Voucher          *types.VoucherSnapshot    `gorm:"column:voucher;type:jsonb;serializer:json"`
	Membership       *types.MembershipSnapshot `gorm:"column:membership;type:jsonb;serializer:json"`
	Metadata         types.JSONMap             `gorm:"column:metadata;type:jsonb;serializer:json"`
	ErpGUID          *string                   `gorm:"column:erp_guid"`
	CompletedAt      *time.Time                `gorm:"column:completed_at"`
	Items            []OrderItem               `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Transactions     []OrderTransaction        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (Order) TableName() string {
	return "orders"
}
