package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/types"
)

// OrderItem captures the snapshot of one billable line within an order plus
// the fulfillment state stamped onto it as the wash progresses.
type OrderItem struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID         `gorm:"column:order_id;type:uuid;not null"`
	ProductID      *uuid.UUID        `gorm:"column:product_id;type:uuid"`
	Name           string            `gorm:"column:name;not null"`
	ProductType    enums.ProductType `gorm:"column:product_type;type:product_type;not null;default:'wash'"`
	Qty            int               `gorm:"column:qty;not null;default:1"`
	UnitPrice      int64             `gorm:"column:unit_price;not null"`
	OriginalPrice  int64             `gorm:"column:original_price;not null"`
	TotalPrice     int64             `gorm:"column:total_price;not null"`
	DiscountAmount int64             `gorm:"column:discount_amount;not null;default:0"`
	DeviceID       *uuid.UUID        `gorm:"column:device_id;type:uuid"`
	WashMode       *string           `gorm:"column:wash_mode"`
	StartedAt      *time.Time        `gorm:"column:started_at"`
	EstimatedEndAt *time.Time        `gorm:"column:estimated_end_at"`
	EndedAt        *time.Time        `gorm:"column:ended_at"`
	Metadata       types.JSONMap     `gorm:"column:metadata;type:jsonb;serializer:json"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
