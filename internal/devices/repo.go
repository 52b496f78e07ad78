package devices

import (
	"context"
	"time"

	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for wash devices.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Device, error)
	FindByExternalRef(ctx context.Context, ref string) (*models.Device, error)
	List(ctx context.Context) ([]models.Device, error)
	// AcquireLease marks the device busy and pins the order onto it. It only
	// succeeds while the device is idle, so two orders can never hold the
	// same machine.
	AcquireLease(ctx context.Context, deviceID, orderID uuid.UUID, startedAt time.Time) (bool, error)
	// ReleaseLease frees the device held by orderID. Releasing a device the
	// order does not hold is a no-op.
	ReleaseLease(ctx context.Context, deviceID, orderID uuid.UUID) error
	HasLiveOrder(ctx context.Context, deviceID uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, deviceID uuid.UUID, status enums.DeviceStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a devices repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Device, error) {
	var device models.Device
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *repository) FindByExternalRef(ctx context.Context, ref string) (*models.Device, error) {
	var device models.Device
	if err := r.db.WithContext(ctx).Where("external_ref = ?", ref).First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *repository) List(ctx context.Context) ([]models.Device, error) {
	var devices []models.Device
	err := r.db.WithContext(ctx).
		Order("external_ref ASC").
		Find(&devices).Error
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (r *repository) AcquireLease(ctx context.Context, deviceID, orderID uuid.UUID, startedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("id = ? AND status = ? AND current_order_id IS NULL", deviceID, enums.DeviceStatusIdle).
		Updates(map[string]any{
			"status":           enums.DeviceStatusBusy,
			"current_order_id": orderID,
			"last_started_at":  startedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ReleaseLease(ctx context.Context, deviceID, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("id = ? AND current_order_id = ?", deviceID, orderID).
		Updates(map[string]any{
			"status":           enums.DeviceStatusIdle,
			"current_order_id": nil,
		}).Error
}

func (r *repository) HasLiveOrder(ctx context.Context, deviceID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("device_id = ? AND status IN ?", deviceID,
			[]enums.OrderStatus{enums.OrderStatusPending, enums.OrderStatusProcessing}).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) UpdateStatus(ctx context.Context, deviceID uuid.UUID, status enums.DeviceStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Device{}).
		Where("id = ?", deviceID).
		Update("status", status).Error
}
