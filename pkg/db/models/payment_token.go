package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/pkg/enums"
)

// PaymentToken is a stored gateway instrument owned by one customer.
type PaymentToken struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID uuid.UUID             `gorm:"column:customer_id;type:uuid;not null;index"`
	Provider   enums.PaymentProvider `gorm:"column:provider;type:payment_provider;not null"`
	TokenRef   string                `gorm:"column:token_ref;not null"`
	Brand      *string               `gorm:"column:brand"`
	Last4      *string               `gorm:"column:last4"`
	ExpiresAt  *time.Time            `gorm:"column:expires_at"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
