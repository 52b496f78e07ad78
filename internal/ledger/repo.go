package ledger

import (
	"context"
	"time"

	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for order transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.OrderTransaction) (*models.OrderTransaction, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.OrderTransaction, error)
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderTransaction, error)
	FindPendingByOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderTransaction, error)
	FindByProviderTxnID(ctx context.Context, providerTxnID string) (*models.OrderTransaction, error)
	FindExpiredPending(ctx context.Context, cutoff time.Time) ([]models.OrderTransaction, error)
	// DeleteStalePendingQR removes an abandoned pending QR row for the order
	// so a new scan can open a fresh payment attempt.
	DeleteStalePendingQR(ctx context.Context, orderID uuid.UUID) error
	// Terminalize moves a transaction from `from` into a terminal status.
	// Returns false when the row was not in `from` anymore, which is how
	// webhook/expiry races resolve: the loser's update touches zero rows.
	Terminalize(ctx context.Context, txnID uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (bool, error)
	Update(ctx context.Context, txnID uuid.UUID, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a ledger repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.OrderTransaction) (*models.OrderTransaction, error) {
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.OrderTransaction, error) {
	var txn models.OrderTransaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.OrderTransaction, error) {
	var txns []models.OrderTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) FindPendingByOrder(ctx context.Context, orderID uuid.UUID) (*models.OrderTransaction, error) {
	var txn models.OrderTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.TransactionStatusPending).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindByProviderTxnID(ctx context.Context, providerTxnID string) (*models.OrderTransaction, error) {
	var txn models.OrderTransaction
	err := r.db.WithContext(ctx).
		Where("provider_txn_id = ?", providerTxnID).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindExpiredPending(ctx context.Context, cutoff time.Time) ([]models.OrderTransaction, error) {
	var txns []models.OrderTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", enums.TransactionStatusPending, cutoff).
		Order("expires_at ASC").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}

func (r *repository) DeleteStalePendingQR(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("order_id = ? AND status = ? AND payment_method = ?",
			orderID, enums.TransactionStatusPending, enums.PaymentMethodQR).
		Delete(&models.OrderTransaction{}).Error
}

func (r *repository) Terminalize(ctx context.Context, txnID uuid.UUID, from, to enums.TransactionStatus, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to

	res := r.db.WithContext(ctx).
		Model(&models.OrderTransaction{}).
		Where("id = ? AND status = ?", txnID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Update(ctx context.Context, txnID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderTransaction{}).
		Where("id = ?", txnID).
		Updates(updates).Error
}
