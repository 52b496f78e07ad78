package models

import (
	"time"

	"github.com/google/uuid"
)

// Membership grants a customer prepaid wash credits. An active membership
// with remaining credits covers the wash service in full.
type Membership struct {
	ID               uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID       uuid.UUID  `gorm:"column:customer_id;type:uuid;not null;index"`
	Plan             string     `gorm:"column:plan;not null"`
	Active           bool       `gorm:"column:active;not null;default:true"`
	RemainingCredits int        `gorm:"column:remaining_credits;not null;default:0"`
	ExpiresAt        *time.Time `gorm:"column:expires_at"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
