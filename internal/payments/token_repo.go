package payments

import (
	"context"

	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TokenRepository resolves stored payment instruments.
type TokenRepository interface {
	WithTx(tx *gorm.DB) TokenRepository
	// FindOwned returns the token only when it belongs to the customer.
	FindOwned(ctx context.Context, tokenID, customerID uuid.UUID) (*models.PaymentToken, error)
	Create(ctx context.Context, token *models.PaymentToken) (*models.PaymentToken, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.PaymentToken, error)
}

type tokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository builds a payment token repository bound to the provided DB.
func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) WithTx(tx *gorm.DB) TokenRepository {
	if tx == nil {
		return r
	}
	return &tokenRepository{db: tx}
}

func (r *tokenRepository) FindOwned(ctx context.Context, tokenID, customerID uuid.UUID) (*models.PaymentToken, error) {
	var token models.PaymentToken
	err := r.db.WithContext(ctx).
		Where("id = ? AND customer_id = ?", tokenID, customerID).
		First(&token).Error
	if err != nil {
		return nil, err
	}
	return &token, nil
}

func (r *tokenRepository) Create(ctx context.Context, token *models.PaymentToken) (*models.PaymentToken, error) {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return nil, err
	}
	return token, nil
}

func (r *tokenRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.PaymentToken, error) {
	var tokens []models.PaymentToken
	err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}
