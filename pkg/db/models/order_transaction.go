package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/types"
)

// OrderTransaction is one ledger row: a single payment attempt against an
// order. At most one row per order may sit in pending at any instant.
type OrderTransaction struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID         uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	Status          enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'draft'"`
	PaymentMethod   enums.PaymentMethod     `gorm:"column:payment_method;type:payment_method;not null"`
	PaymentProvider enums.PaymentProvider   `gorm:"column:payment_provider;type:payment_provider;not null;default:'internal'"`
	Amount          int64                   `gorm:"column:amount;not null"`
	ReceivedAmount  *int64                  `gorm:"column:received_amount"`
	ProviderTxnID   *string                 `gorm:"column:provider_txn_id;index"`
	Endpoint        *string                 `gorm:"column:endpoint"`
	QRCode          *string                 `gorm:"column:qr_code"`
	ExpiresAt       *time.Time              `gorm:"column:expires_at"`
	FailureReason   *string                 `gorm:"column:failure_reason"`
	Data            types.JSONMap           `gorm:"column:data;type:jsonb;serializer:json"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
