package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/pkg/enums"
)

// ErpSyncLog records one sync attempt against the ERP, success or not.
type ErpSyncLog struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ObjectType enums.ErpObjectType `gorm:"column:object_type;type:erp_object_type;not null"`
	ObjectID   uuid.UUID           `gorm:"column:object_id;type:uuid;not null;index"`
	Action     enums.ErpSyncAction `gorm:"column:action;type:erp_sync_action;not null"`
	GUID       *string             `gorm:"column:guid"`
	Success    bool                `gorm:"column:success;not null"`
	Error      *string             `gorm:"column:error"`
	Payload    json.RawMessage     `gorm:"column:payload;type:jsonb"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
}
