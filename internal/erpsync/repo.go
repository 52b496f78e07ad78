package erpsync

import (
	"context"

	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists GUID mappings and sync attempt logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindReference(ctx context.Context, objectType enums.ErpObjectType, objectID uuid.UUID) (*models.ErpReference, error)
	// SaveReference upserts the GUID for the object. Losing a concurrent
	// insert race just overwrites with the same GUID.
	SaveReference(ctx context.Context, ref *models.ErpReference) error
	LogAttempt(ctx context.Context, entry *models.ErpSyncLog) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an erpsync repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindReference(ctx context.Context, objectType enums.ErpObjectType, objectID uuid.UUID) (*models.ErpReference, error) {
	var ref models.ErpReference
	err := r.db.WithContext(ctx).
		Where("object_type = ? AND object_id = ?", objectType, objectID).
		First(&ref).Error
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *repository) SaveReference(ctx context.Context, ref *models.ErpReference) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "object_type"}, {Name: "object_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"guid", "updated_at"}),
		}).
		Create(ref).Error
}

func (r *repository) LogAttempt(ctx context.Context, entry *models.ErpSyncLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
