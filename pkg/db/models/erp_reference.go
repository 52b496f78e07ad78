package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/pkg/enums"
)

// ErpReference maps a local object to the GUID the ERP assigned it. The
// lookup-before-write against this table is what keeps indefinite sync
// retries from creating duplicate remote objects.
type ErpReference struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ObjectType enums.ErpObjectType `gorm:"column:object_type;type:erp_object_type;not null;uniqueIndex:idx_erp_refs_object"`
	ObjectID   uuid.UUID           `gorm:"column:object_id;type:uuid;not null;uniqueIndex:idx_erp_refs_object"`
	GUID       string              `gorm:"column:guid;not null"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
