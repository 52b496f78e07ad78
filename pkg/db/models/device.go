package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/pkg/enums"
)

// Device mirrors one controllable wash device. CurrentOrderID is the lease:
// it moves together with the order's processing state inside one transaction.
type Device struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ExternalRef    string             `gorm:"column:external_ref;not null;uniqueIndex"`
	Name           string             `gorm:"column:name;not null"`
	Status         enums.DeviceStatus `gorm:"column:status;type:device_status;not null;default:'idle'"`
	DefaultMode    string             `gorm:"column:default_mode;not null;default:'standard'"`
	CycleMinutes   int                `gorm:"column:cycle_minutes;not null;default:30"`
	CurrentOrderID *uuid.UUID         `gorm:"column:current_order_id;type:uuid"`
	LastStartedAt  *time.Time         `gorm:"column:last_started_at"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
