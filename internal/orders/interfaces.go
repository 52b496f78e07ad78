package orders

import (
	"context"
	"time"

	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindBySequenceNo(ctx context.Context, sequenceNo string) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID, limit int) ([]models.Order, error)
	// FindLiveByDevice returns the order currently holding the device, i.e.
	// pending or processing. Nil when the device is free.
	FindLiveByDevice(ctx context.Context, deviceID uuid.UUID) (*models.Order, error)
	FindProcessingPastEstimatedEnd(ctx context.Context, cutoff time.Time) ([]models.Order, error)
	// FindTerminalMissingErpGUID returns completed or failed orders that were
	// never mirrored into the ERP. Tokenize orders are excluded, they carry no
	// business value downstream.
	FindTerminalMissingErpGUID(ctx context.Context, since time.Time, limit int) ([]models.Order, error)
	// Transition moves the order from one of `from` into `to`. Returns false
	// when the order was no longer in any of `from`, so racing writers
	// resolve to a single winner.
	Transition(ctx context.Context, orderID uuid.UUID, from []enums.OrderStatus, to enums.OrderStatus, updates map[string]any) (bool, error)
	Update(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	ReplaceItems(ctx context.Context, orderID uuid.UUID, items []models.OrderItem) error
	StampItemStart(ctx context.Context, orderID uuid.UUID, startedAt, estimatedEndAt time.Time) error
	StampItemEnd(ctx context.Context, orderID uuid.UUID, endedAt time.Time) error
}
