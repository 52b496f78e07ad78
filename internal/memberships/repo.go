package memberships

import (
	"context"
	"time"

	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for customer memberships.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindActiveByCustomer(ctx context.Context, customerID uuid.UUID, now time.Time) (*models.Membership, error)
	ConsumeCredit(ctx context.Context, membershipID uuid.UUID) (bool, error)
	RestoreCredit(ctx context.Context, membershipID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a memberships repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindActiveByCustomer(ctx context.Context, customerID uuid.UUID, now time.Time) (*models.Membership, error) {
	var membership models.Membership
	err := r.db.WithContext(ctx).
		Where("customer_id = ? AND active = ?", customerID, true).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("created_at DESC").
		First(&membership).Error
	if err != nil {
		return nil, err
	}
	return &membership, nil
}

func (r *repository) ConsumeCredit(ctx context.Context, membershipID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("id = ? AND remaining_credits > 0", membershipID).
		Update("remaining_credits", gorm.Expr("remaining_credits - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) RestoreCredit(ctx context.Context, membershipID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Membership{}).
		Where("id = ?", membershipID).
		Update("remaining_credits", gorm.Expr("remaining_credits + 1")).Error
}
